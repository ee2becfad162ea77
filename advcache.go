package advcache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/multierr"

	cm "github.com/dep2p/go-advcache/internal/core/advcache"
	"github.com/dep2p/go-advcache/internal/core/storage"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	pkgif "github.com/dep2p/go-advcache/pkg/interfaces"
	"github.com/dep2p/go-advcache/pkg/lib/log"
)

var logger = log.Logger("advcache")

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.1.0"

// BuildInfo 构建信息（通过 ldflags 注入）
var (
	// GitCommit Git 提交哈希
	GitCommit string

	// BuildDate 构建日期
	BuildDate string
)

// VersionInfo 返回完整版本信息字符串
func VersionInfo() string {
	info := "go-advcache " + Version
	if GitCommit != "" {
		info += " (" + GitCommit[:min(8, len(GitCommit))] + ")"
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

// AdvertisementCache 通告缓存接口
type AdvertisementCache = pkgif.AdvertisementCache

// CacheRecord 读取结果
type CacheRecord = pkgif.CacheRecord

// IndexEntry SRDI 索引项
type IndexEntry = pkgif.IndexEntry

// AreaInfo 区域目录条目
type AreaInfo = cm.AreaInfo

// Stats 区域统计
type Stats = cm.Stats

// Area 单个区域上的缓存实例
type Area = cm.Cm

// 常量再导出
const (
	UnknownTTL  = pkgif.UnknownTTL
	NoThreshold = pkgif.NoThreshold
)

// ════════════════════════════════════════════════════════════════════════════
//                              Cache
// ════════════════════════════════════════════════════════════════════════════

// Cache 通告缓存入口
//
// 嵌入默认区域的 Cm，AdvertisementCache 的全部方法直接作用于默认区域。
// 其他区域通过 Area 打开，与默认区域共享同一个存储引擎。
type Cache struct {
	*cm.Cm

	opts *options
	app  *fx.App
	reg  *registry.Registry

	// storageCfg 默认区域所在的存储根
	storageCfg storage.Config

	// handle 供区域目录操作使用
	handle *registry.Handle

	mu     sync.Mutex
	areas  map[string]*cm.Cm
	closed bool
}

var _ pkgif.AdvertisementCache = (*Cache)(nil)

// New 创建并启动缓存
//
// 示例：
//
//	c, err := advcache.New(ctx,
//	    advcache.WithDataDir("/var/lib/peer"),
//	    advcache.WithBackend("pebble"),
//	    advcache.WithArea("urn:jxta:uuid-59616261646162614A787461503250"),
//	)
func New(ctx context.Context, opts ...Option) (*Cache, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	var out components
	app, err := buildFxApp(o, &out)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("start fx app: %w", err)
	}

	h, err := out.registry.Acquire(out.storageCfg.ToEngineConfig())
	if err != nil {
		_ = app.Stop(ctx)
		return nil, err
	}

	logger.Info("通告缓存已启动",
		"root", out.cm.Root(),
		"backend", o.config.Storage.Backend,
		"area", out.cm.Area())

	return &Cache{
		Cm:         out.cm,
		opts:       o,
		app:        app,
		reg:        out.registry,
		storageCfg: out.storageCfg,
		handle:     h,
		areas:      make(map[string]*cm.Cm),
	}, nil
}

// Area 打开（或返回已打开的）指定区域
//
// 区域不存在时按 CreateIfMissing 决定创建还是返回 ColNotFound 故障。
// 返回的实例由 Cache 管理，Close 时一并停止。
func (c *Cache) Area(name string) (*Area, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if name == c.Cm.Area() {
		return c.Cm, nil
	}
	if a, ok := c.areas[name]; ok {
		return a, nil
	}

	a, err := cm.Open(c.reg, c.storageCfg.ToEngineConfig(), cacheOptions(c.opts.config, c.opts, name))
	if err != nil {
		return nil, err
	}
	c.areas[name] = a
	return a, nil
}

// CreateArea 在目录中登记新区域，已存在时返回 ColDuplicate 故障
func (c *Cache) CreateArea(name string) (*AreaInfo, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return cm.CreateArea(c.handle, name)
}

// DropArea 删除区域的全部数据和目录条目
//
// 该区域上已打开的实例随后的操作返回 ColNotFound 故障。
func (c *Cache) DropArea(name string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := cm.DropArea(c.handle, name); err != nil {
		return err
	}

	c.mu.Lock()
	a, ok := c.areas[name]
	delete(c.areas, name)
	c.mu.Unlock()
	if ok {
		return a.Stop()
	}
	return nil
}

// Areas 按名称顺序列出目录中的全部区域
func (c *Cache) Areas() ([]AreaInfo, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return cm.Areas(c.handle)
}

func (c *Cache) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Stop 关闭缓存，等价于 Close(context.Background())
func (c *Cache) Stop() error {
	return c.Close(context.Background())
}

// Close 停止全部区域并关闭存储引擎
//
// 多次调用是安全的。
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	areas := c.areas
	c.areas = nil
	c.mu.Unlock()

	logger.Info("正在关闭通告缓存")

	var err error
	for _, a := range areas {
		err = multierr.Append(err, a.Stop())
	}
	err = multierr.Append(err, c.handle.Release())
	// 默认区域的 Cm 与注册表由 Fx OnStop 钩子按反向顺序关闭
	if stopErr := c.app.Stop(ctx); stopErr != nil {
		logger.Error("停止 Fx 应用失败", "error", stopErr)
		err = multierr.Append(err, fmt.Errorf("stop fx app: %w", stopErr))
	}
	if err == nil {
		logger.Info("通告缓存已关闭")
	}
	return err
}
