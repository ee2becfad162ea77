package advcache

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-advcache/config"
	cm "github.com/dep2p/go-advcache/internal/core/advcache"
	"github.com/dep2p/go-advcache/internal/core/storage"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	"github.com/dep2p/go-advcache/pkg/lib/log"
)

var fxLogger = log.Logger("advcache/fx")

// components Fx 应用填充出的组件
type components struct {
	cm         *cm.Cm
	registry   *registry.Registry
	storageCfg storage.Config
}

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. storage: 引擎注册表与存储配置
//  2. advcache: 默认区域的 Cm
//  3. 用户自定义 Fx 选项
func buildFxApp(o *options, out *components) (*fx.App, error) {
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		fx.Supply(o.config),
		storage.Module(),
		cm.Module(),
	}
	if o.registerer != nil {
		reg := o.registerer
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
	}
	if o.clock != nil {
		clk := o.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return clk }))
	}
	modules = append(modules, o.fxOptions...)

	modules = append(modules,
		fx.Populate(&out.cm, &out.registry, &out.storageCfg),
		fx.NopLogger,
	)

	fxLogger.Debug("构建 Fx 应用",
		"backend", o.config.Storage.Backend,
		"area", o.config.Cache.Area,
		"metrics", o.config.Cache.EnableMetrics)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// cacheOptions 以默认区域的选项为模板打开其他区域
func cacheOptions(cfg *config.Config, o *options, area string) cm.Options {
	opts := cm.OptionsFromUnified(cfg).WithArea(area)
	if cfg.Cache.EnableMetrics {
		reg := o.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		opts = opts.WithRegisterer(reg)
	}
	if o.clock != nil {
		opts = opts.WithClock(o.clock)
	}
	return opts
}
