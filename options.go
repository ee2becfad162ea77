package advcache

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/dep2p/go-advcache/config"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// 统一配置，选项按顺序修改它
	config *config.Config

	// 指标注册器，nil 时使用 prometheus.DefaultRegisterer
	registerer prometheus.Registerer

	// 时间源，nil 使用系统时钟
	clock clock.Clock

	// 用户自定义 Fx 选项
	fxOptions []fx.Option
}

func newOptions() *options {
	return &options{config: config.NewConfig()}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置来源
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用完整配置替换当前配置
//
// 之后的选项继续在其副本上修改。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		o.config = config.CloneConfig(cfg)
		return nil
	}
}

// WithConfigFile 从 JSON 或 YAML 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithPreset 应用预设配置（desktop / server / minimal）
func WithPreset(name string) Option {
	return func(o *options) error {
		return config.ApplyPreset(o.config, name)
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              存储
// ════════════════════════════════════════════════════════════════════════════

// WithDataDir 设置存储根目录
func WithDataDir(dir string) Option {
	return func(o *options) error {
		o.config.Storage.DataDir = dir
		return nil
	}
}

// WithBackend 设置存储后端（btree / badger / pebble / memory）
func WithBackend(name string) Option {
	return func(o *options) error {
		o.config.Storage.Backend = name
		return nil
	}
}

// WithSyncWrites 每次写入都同步到磁盘
func WithSyncWrites(sync bool) Option {
	return func(o *options) error {
		o.config.Storage.SyncWrites = sync
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              缓存
// ════════════════════════════════════════════════════════════════════════════

// WithArea 设置默认区域
func WithArea(area string) Option {
	return func(o *options) error {
		if !config.ValidArea(area) {
			return fmt.Errorf("invalid area name %q", area)
		}
		o.config.Cache.Area = area
		return nil
	}
}

// WithCreateIfMissing 打开未知区域时是否自动创建
func WithCreateIfMissing(create bool) Option {
	return func(o *options) error {
		o.config.Cache.CreateIfMissing = create
		return nil
	}
}

// WithRecordCacheSize 设置热记录缓存条目数（0 禁用）
func WithRecordCacheSize(size int) Option {
	return func(o *options) error {
		if size < 0 {
			return fmt.Errorf("record cache size cannot be negative")
		}
		o.config.Cache.RecordCacheSize = size
		return nil
	}
}

// WithDeltaTracking 开启 SRDI 增量跟踪，每个目录最多保留 limit 条
func WithDeltaTracking(limit int) Option {
	return func(o *options) error {
		if limit <= 0 {
			return fmt.Errorf("delta limit must be positive")
		}
		o.config.Cache.TrackDeltas = true
		o.config.Cache.MaxDeltas = limit
		return nil
	}
}

// WithMetrics 在 reg 上注册 Prometheus 指标
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.config.Cache.EnableMetrics = true
		o.registerer = reg
		return nil
	}
}

// WithoutMetrics 关闭指标
func WithoutMetrics() Option {
	return func(o *options) error {
		o.config.Cache.EnableMetrics = false
		o.registerer = nil
		return nil
	}
}

// WithClock 设置时间源，主要用于测试
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
