package storage

import (
	"context"

	"github.com/dep2p/go-advcache/config"
	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/core/storage/engine/badger"
	"github.com/dep2p/go-advcache/internal/core/storage/engine/btree"
	"github.com/dep2p/go-advcache/internal/core/storage/engine/memory"
	"github.com/dep2p/go-advcache/internal/core/storage/engine/pebble"
	"github.com/dep2p/go-advcache/internal/core/storage/kv"
	"github.com/dep2p/go-advcache/internal/core/storage/registry"
	"github.com/dep2p/go-advcache/pkg/lib/log"
	"go.uber.org/fx"
)

var logger = log.Logger("core/storage")

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result Storage 模块提供的结果
type Result struct {
	fx.Out

	Registry *registry.Registry
	Config   Config
}

// Module 返回 Storage Fx 模块
//
// 提供:
//   - *registry.Registry: 按存储根目录共享引擎的注册表
//   - Config: 存储配置
//
// 生命周期:
//   - OnStop: 关闭注册表中仍然打开的所有引擎
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			ProvideStorage,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideStorage 提供引擎注册表和配置
func ProvideStorage(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)

	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	return Result{
		Registry: NewRegistry(),
		Config:   cfg,
	}, nil
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, reg *registry.Registry) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			logger.Info("正在关闭存储引擎")
			if err := reg.CloseAll(); err != nil {
				logger.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			logger.Info("存储引擎已关闭")
			return nil
		},
	})
}

// NewRegistry 创建使用 OpenEngine 打开引擎的注册表
func NewRegistry() *registry.Registry {
	return registry.New(OpenEngine)
}

// OpenEngine 按 cfg.Backend 打开存储引擎
func OpenEngine(cfg *engine.Config) (engine.InternalEngine, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	backend, err := engine.ParseBackend(string(cfg.Backend))
	if err != nil {
		return nil, err
	}
	logger.Debug("创建存储引擎", "backend", backend, "path", cfg.Path)

	var eng engine.InternalEngine
	switch backend {
	case engine.BackendBTree:
		eng, err = btree.New(cfg)
	case engine.BackendBadger:
		if cfg.Logger == nil {
			cfg = cfg.Clone().WithLogger(log.Logger("storage/badger"))
		}
		eng, err = badger.New(cfg)
	case engine.BackendPebble:
		eng, err = pebble.New(cfg)
	case engine.BackendMemory:
		eng, err = memory.New(cfg)
	}
	if err != nil {
		logger.Error("创建存储引擎失败", "backend", backend, "error", err)
		return nil, err
	}
	logger.Debug("存储引擎创建成功", "backend", backend)
	return eng, nil
}

// NewEngine 根据模块配置创建独占的存储引擎（不经过注册表）
func NewEngine(cfg Config) (engine.InternalEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return OpenEngine(cfg.ToEngineConfig())
}

// NewKVStore 创建带前缀的 KVStore
//
// 参数:
//   - eng: 存储引擎
//   - prefix: 键前缀
//
// 返回:
//   - *kv.Store: KVStore 实例
func NewKVStore(eng engine.InternalEngine, prefix []byte) *kv.Store {
	return kv.New(eng, prefix)
}

// ============= 便捷函数 =============

// New 在 path 上创建默认后端（页式 B-tree）的存储引擎
func New(path string) (engine.InternalEngine, error) {
	return NewEngine(DefaultConfig().WithPath(path))
}

// ============= 类型别名（便于外部使用） =============

// InternalEngine 是 engine.InternalEngine 的类型别名
type InternalEngine = engine.InternalEngine

// KVStore 是 kv.Store 的类型别名
type KVStore = kv.Store

// Batch 是 kv.Batch 的类型别名
type Batch = kv.Batch

// Transaction 是 kv.Transaction 的类型别名
type Transaction = kv.Transaction

// Registry 是 registry.Registry 的类型别名
type Registry = registry.Registry

// Handle 是 registry.Handle 的类型别名
type Handle = registry.Handle
