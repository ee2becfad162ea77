package advcache

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/dep2p/go-advcache/config"
	"github.com/dep2p/go-advcache/internal/core/storage"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	pkgif "github.com/dep2p/go-advcache/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Params 通告缓存模块依赖参数
type Params struct {
	fx.In

	Registry      *registry.Registry
	StorageConfig storage.Config
	UnifiedCfg    *config.Config        `optional:"true"`
	Registerer    prometheus.Registerer `optional:"true"`
	Clock         clock.Clock           `optional:"true"`
}

// Output 通告缓存模块输出
type Output struct {
	fx.Out

	Cache              *Cm
	AdvertisementCache pkgif.AdvertisementCache
}

// Module 返回通告缓存 Fx 模块
//
// 依赖 storage.Module() 提供的注册表和存储配置。
//
// 生命周期:
//   - OnStop: 停止缓存，释放对共享引擎的引用
func Module() fx.Option {
	return fx.Module("advcache",
		fx.Provide(ProvideCache),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideCache 打开统一配置中的默认区域
func ProvideCache(p Params) (Output, error) {
	opts := OptionsFromUnified(p.UnifiedCfg)
	if p.UnifiedCfg == nil || p.UnifiedCfg.Cache.EnableMetrics {
		reg := p.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		opts.Registerer = reg
	}
	if p.Clock != nil {
		opts.Clock = p.Clock
	}

	c, err := Open(p.Registry, p.StorageConfig.ToEngineConfig(), opts)
	if err != nil {
		return Output{}, err
	}
	return Output{Cache: c, AdvertisementCache: c}, nil
}

func registerLifecycle(lc fx.Lifecycle, c *Cm) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			logger.Info("正在停止通告缓存", "area", c.Area())
			return c.Stop()
		},
	})
}
