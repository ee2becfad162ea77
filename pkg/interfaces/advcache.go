// Package interfaces 定义 go-advcache 公共接口
//
// 本文件定义 AdvertisementCache 接口，即每个节点本地的通告缓存。
package interfaces

import (
	"io"
	"time"
)

const (
	// UnknownTTL 键不存在或已逻辑过期时 GetLifetime / GetExpirationTime 的返回值
	UnknownTTL time.Duration = -1

	// NoThreshold 不限制 Search / GetRecords 返回的条数
	NoThreshold = -1
)

// AdvertisementCache 通告缓存接口
//
// 每个实例对应一个区域（area，通常一个对等组一个），区域内按
// (目录, 文件名) 定位记录。记录带两个截止时间：
//   - lifetime: 超过后可被 GarbageCollect 物理删除
//   - expiration: 超过后读取与搜索不再返回该记录
//
// 两个时间在保存时由相对时长换算为绝对时间。
// 所有方法都是并发安全的。
type AdvertisementCache interface {
	// Save 保存原始数据块（不建立属性索引）
	//
	// 同一键的再次保存原子地替换负载、截止时间和全部索引项。
	Save(dir, name string, payload []byte, lifetime, expiration time.Duration) error

	// SaveAdvertisement 保存通告文档并为 attrs 建立属性索引
	SaveAdvertisement(dir, name string, payload []byte, attrs map[string]string, lifetime, expiration time.Duration) error

	// Remove 删除记录及其全部索引项，键不存在时不报错
	Remove(dir, name string) error

	// GetInputStream 返回记录负载
	//
	// 键不存在或已逻辑过期时返回 ErrNotFound（无论 GC 是否已经运行）。
	GetInputStream(dir, name string) (io.ReadCloser, error)

	// Search 按属性搜索目录内的存活记录
	//
	// value 不含 '*' 时精确匹配；恰好含一个 '*' 时按其位置做
	// 后缀、前缀或前后缀匹配；含多个 '*' 返回校验错误。
	// threshold 为 NoThreshold 时不限条数。
	Search(dir, attr, value string, threshold int) ([]CacheRecord, error)

	// GetRecords 返回目录内全部存活记录，threshold 语义同 Search
	GetRecords(dir string, threshold int) ([]CacheRecord, error)

	// GarbageCollect 物理删除 lifetime 已过的记录
	//
	// 返回本次调用删除的条数。单条记录失败不会中断清扫，
	// 所有失败聚合在返回的错误中。
	GarbageCollect() (int, error)

	// GetLifetime 返回距 lifetime 截止的剩余时长，未知时返回 UnknownTTL
	GetLifetime(dir, name string) (time.Duration, error)

	// GetExpirationTime 返回距 expiration 截止的剩余时长，未知时返回 UnknownTTL
	GetExpirationTime(dir, name string) (time.Duration, error)

	// Stop 释放资源，多次调用是安全的
	Stop() error
}

// CacheRecord 读取结果
type CacheRecord struct {
	// Dir 目录
	Dir string

	// Name 文件名
	Name string

	// Payload 负载副本
	Payload []byte

	// Expiration 距 expiration 截止的剩余时长
	Expiration time.Duration
}

// IndexEntry SRDI 索引项：目录内一条属性索引及其剩余有效期
type IndexEntry struct {
	// Attr 属性名
	Attr string

	// Value 属性值
	Value string

	// Expiration 剩余有效期
	Expiration time.Duration
}
