package advcache

import (
	"github.com/benbjohnson/clock"
	"github.com/dep2p/go-advcache/config"
	"github.com/prometheus/client_golang/prometheus"
)

// Options Cm 构造选项
type Options struct {
	// Area 区域名，同一存储根下每个区域是独立的逻辑子存储
	Area string

	// CreateIfMissing 区域不存在时自动创建；为 false 时返回 ColNotFound 故障
	CreateIfMissing bool

	// RecordCacheSize 热记录缓存条目数，0 禁用
	//
	// 同一存储根下同一区域的多个实例共享一个缓存，以第一个实例的设置为准。
	RecordCacheSize int

	// TrackDeltas 记录保存产生的属性索引增量
	TrackDeltas bool

	// MaxDeltas 每个目录最多保留的增量条目数
	MaxDeltas int

	// Clock 时间源，nil 使用系统时钟
	Clock clock.Clock

	// Registerer 指标注册器，nil 时指标只在进程内计数
	Registerer prometheus.Registerer
}

// DefaultOptions 返回默认选项
func DefaultOptions() Options {
	c := config.DefaultCacheConfig()
	return Options{
		Area:            c.Area,
		CreateIfMissing: c.CreateIfMissing,
		RecordCacheSize: c.RecordCacheSize,
		TrackDeltas:     c.TrackDeltas,
		MaxDeltas:       c.MaxDeltas,
	}
}

// OptionsFromUnified 从统一配置创建选项
func OptionsFromUnified(cfg *config.Config) Options {
	if cfg == nil {
		return DefaultOptions()
	}
	return Options{
		Area:            cfg.Cache.Area,
		CreateIfMissing: cfg.Cache.CreateIfMissing,
		RecordCacheSize: cfg.Cache.RecordCacheSize,
		TrackDeltas:     cfg.Cache.TrackDeltas,
		MaxDeltas:       cfg.Cache.MaxDeltas,
	}
}

// WithArea 设置区域名
func (o Options) WithArea(area string) Options {
	o.Area = area
	return o
}

// WithClock 设置时间源
func (o Options) WithClock(c clock.Clock) Options {
	o.Clock = c
	return o
}

// WithRegisterer 设置指标注册器
func (o Options) WithRegisterer(r prometheus.Registerer) Options {
	o.Registerer = r
	return o
}

// WithDeltas 启用增量跟踪
func (o Options) WithDeltas(limit int) Options {
	o.TrackDeltas = true
	o.MaxDeltas = limit
	return o
}

func (o Options) validate() error {
	if !config.ValidArea(o.Area) {
		return ErrInvalidArea
	}
	return nil
}
