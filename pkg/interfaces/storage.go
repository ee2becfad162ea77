// Package interfaces - Storage 存储引擎接口
//
// 本文件定义存储引擎的公共接口。
// 页式 B-tree、BadgerDB、Pebble 和内存引擎都实现它，
// 调用方也可以提供自定义后端。
//
// # 设计原则
//
// 1. 最小化接口：仅暴露必要的基础操作
// 2. 可替换性：后端在构造时注入，调用方不感知具体实现
// 3. 删除幂等：删除不存在的键不报错
package interfaces

// Engine 存储引擎基础接口
//
// 提供有序字节键值存储的基本操作。
//
// 线程安全：实现必须保证所有方法的线程安全性。
//
// 示例:
//
//	db, err := btree.New(engine.DefaultConfig("/data/advcache"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	// 写入
//	if err := db.Put([]byte("key"), []byte("value")); err != nil {
//	    return err
//	}
//
//	// 读取
//	value, err := db.Get([]byte("key"))
//	if err != nil {
//	    return err
//	}
type Engine interface {
	// Get 获取指定键的值
	//
	// 参数:
	//   - key: 键（不能为空）
	//
	// 返回:
	//   - []byte: 值的副本（调用者可以安全修改）
	//   - error: ErrNotFound 如果键不存在，其他错误表示存储故障
	Get(key []byte) ([]byte, error)

	// Put 设置键值对
	//
	// 如果键已存在，则覆盖旧值。
	//
	// 参数:
	//   - key: 键（不能为空）
	//   - value: 值（可以为空，表示存储空值）
	//
	// 返回:
	//   - error: ErrKeyTooLarge/ErrValueTooLarge 如果超过大小限制
	Put(key, value []byte) error

	// Delete 删除指定键
	//
	// 如果键不存在，不返回错误（幂等操作）。
	Delete(key []byte) error

	// Has 检查键是否存在
	Has(key []byte) (bool, error)

	// Close 关闭存储引擎
	//
	// 关闭后不能再进行任何操作。
	// 多次调用 Close 是安全的。
	Close() error
}

// EngineStats 引擎统计信息
//
// 提供存储引擎的运行时统计数据，用于监控和调优。
type EngineStats struct {
	// KeyCount 当前存储的键数量
	KeyCount int64 `json:"key_count"`

	// DiskSize 磁盘占用大小（字节）
	DiskSize int64 `json:"disk_size"`

	// CacheHits 缓存命中次数
	CacheHits int64 `json:"cache_hits"`

	// CacheMisses 缓存未命中次数
	CacheMisses int64 `json:"cache_misses"`
}

// CacheHitRate 计算缓存命中率
//
// 返回:
//   - float64: 命中率（0.0 - 1.0），如果没有访问则返回 0
func (s *EngineStats) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}
