// Package storage 提供统一的持久化存储服务
//
// Storage 模块为通告缓存提供可替换的有序键值后端，以及
// 按存储根目录共享引擎的引用计数注册表。
//
// # 架构
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                  advcache.Cm（每个区域一个）                 │
//	└─────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────┐
//	│                     storage (本包)                          │
//	│  ┌──────────────────────┐   ┌───────────────────────────┐   │
//	│  │ registry（引用计数）  │   │ kv.Store（前缀隔离）      │   │
//	│  └──────────────────────┘   └───────────────────────────┘   │
//	│                              │                              │
//	│  ┌────────────┬──────────────┬──────────────┬────────────┐  │
//	│  │ btree      │ badger       │ pebble       │ memory     │  │
//	│  │ 页式 B-tree │ BadgerDB     │ Pebble       │ 内存有序树  │  │
//	│  └────────────┴──────────────┴──────────────┴────────────┘  │
//	└─────────────────────────────────────────────────────────────┘
//
// # 键空间设计
//
//	前缀              | 说明
//	------------------|------------------
//	m/a/<area>        | 区域目录
//	c/<area>r...      | 主记录
//	c/<area>x...      | 过期索引
//	c/<area>a...      | 属性索引
//
// # 使用示例
//
// 使用 Fx 依赖注入（推荐）：
//
//	app := fx.New(
//	    fx.Supply(config.NewConfig()),
//	    storage.Module(),
//	    advcache.Module(),
//	)
//
// 手动创建：
//
//	reg := storage.NewRegistry()
//	defer reg.CloseAll()
//
//	h, err := reg.Acquire(storage.DefaultConfig().WithPath("/data/advcache").ToEngineConfig())
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//	records := storage.NewKVStore(h.Engine(), []byte("c/"))
//
// # 线程安全
//
// 所有公开的类型和方法都是线程安全的。
package storage
