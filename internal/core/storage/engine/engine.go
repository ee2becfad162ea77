package engine

import (
	"github.com/dep2p/go-advcache/pkg/interfaces"
)

// MaxKeySize 所有后端共同接受的最大键长度（字节）
//
// 四种后端对同一个键给出相同结果：超过上限一律返回 ObjKeyTooLarge 故障。
// 上限低于 BadgerDB 自身的键长限制，B-tree 通过溢出链存放长键。
const MaxKeySize = 60 << 10

// CheckKey 按统一规则校验键：空键返回 ObjEmptyKey，超长返回 ObjKeyTooLarge
func CheckKey(op string, key []byte) error {
	return CheckKeySize(op, len(key))
}

// CheckKeySize 与 CheckKey 相同，只看长度，用于在拼出完整键之前预检
func CheckKeySize(op string, size int) error {
	switch {
	case size == 0:
		return NewFault(ObjEmptyKey, op, ErrEmptyKey)
	case size > MaxKeySize:
		return Faultf(ObjKeyTooLarge, op, "key of %d bytes exceeds %d", size, MaxKeySize)
	}
	return nil
}

// InternalEngine 存储后端契约
//
// B-tree、BadgerDB、Pebble 与内存引擎都实现它；kv.Store 与 advcache.Cm
// 只依赖这个接口，具体实现由注册表在打开存储根时注入。
//
// 所有后端共同遵守：
//   - 键是任意非空字节串，长度不超过 MaxKeySize，按字节序排序
//   - 写入（Put/Delete/Write/Commit）要么全部可见要么全部不可见
//   - 不启动后台 goroutine，维护工作只在 Compact / Sync 中同步完成
type InternalEngine interface {
	interfaces.Engine

	// NewBatch 创建批量写入；Write 时原子地应用，无效键在 Write 时报告
	NewBatch() Batch

	// Write 原子地应用 batch 中累积的操作，成功后 batch 被清空
	Write(batch Batch) error

	// NewIterator 创建迭代器，opts 为 nil 时遍历全部键
	//
	// BadgerDB、Pebble 与内存引擎的迭代器读取创建时的快照；B-tree 按批读取，
	// 能看到迭代期间提交的写入，但单个键值总是完整的。
	NewIterator(opts *IteratorOptions) Iterator

	// NewPrefixIterator 遍历以 prefix 开头的键
	NewPrefixIterator(prefix []byte) Iterator

	// NewTransaction 创建事务
	//
	// 读写事务读己之写，Commit 时原子应用；只读事务只能 Get。
	NewTransaction(writable bool) Transaction

	// Start 打开后由注册表调用一次，重复调用是安全的
	Start() error

	// Compact 在调用方线程上回收空间
	//
	// BadgerDB 运行值日志 GC 并整理 LSM，Pebble 整理全部键范围，
	// B-tree 与内存引擎直接返回。
	Compact() error

	// Sync 把已提交的写入强制落盘
	Sync() error

	// Stats 返回统计快照
	Stats() *Stats
}

// Batch 累积写操作，一次性原子写入
//
// 不是并发安全的。
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)

	// Write 应用累积的操作；存在无效键时整批不写入并返回该键的故障
	Write() error

	// Reset 丢弃累积的操作
	Reset()

	// Size 返回累积的操作数
	Size() int
}

// Iterator 有序遍历键值对
//
//	it := eng.NewPrefixIterator(prefix)
//	defer it.Close()
//	for it.First(); it.Valid(); it.Next() {
//	    use(it.Key(), it.Value())
//	}
//	return it.Error()
//
// Key 与 Value 返回的切片只在下一次移动前有效。
type Iterator interface {
	First() bool
	Next() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Close()
	Error() error
}

// IteratorOptions 迭代范围
//
// 范围是 Prefix、[StartKey, EndKey) 三者的交集，空值表示不限制。
type IteratorOptions struct {
	Prefix   []byte
	StartKey []byte // 含
	EndKey   []byte // 不含
	Reverse  bool

	// PrefetchSize 每批读取的条目数，0 使用后端默认值
	PrefetchSize int

	// PrefetchValues 为 false 时只遍历键
	PrefetchValues bool
}

// DefaultIteratorOptions 遍历全部键值
func DefaultIteratorOptions() *IteratorOptions {
	return &IteratorOptions{
		PrefetchSize:   100,
		PrefetchValues: true,
	}
}

// Transaction 读写事务
//
//	txn := eng.NewTransaction(true)
//	defer txn.Discard()
//	if err := txn.Set(key, value); err != nil {
//	    return err
//	}
//	return txn.Commit()
//
// Commit 之后 Discard 是空操作。BadgerDB 在写冲突时 Commit 返回
// ErrTransactionConflict，其余后端后提交者覆盖先提交者。
type Transaction interface {
	// Get 键不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Set 只读事务返回 ErrReadOnly
	Set(key, value []byte) error

	// Delete 只读事务返回 ErrReadOnly，键不存在时不报错
	Delete(key []byte) error

	Commit() error

	// Discard 放弃未提交的写入，多次调用是安全的
	Discard()
}

// Stats 引擎统计
//
// 各后端只填充自己能提供的字段。
type Stats struct {
	KeyCount    int64 `json:"key_count"`
	DiskSize    int64 `json:"disk_size"`
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	NumWrites  int64 `json:"num_writes"`
	NumReads   int64 `json:"num_reads"`
	NumDeletes int64 `json:"num_deletes"`

	// B-tree
	PageSize  int   `json:"page_size,omitempty"`
	PageCount int64 `json:"page_count,omitempty"`
	FreePages int64 `json:"free_pages,omitempty"`
	Height    int   `json:"height,omitempty"`

	// BadgerDB / Pebble
	LSMSize  int64 `json:"lsm_size,omitempty"`
	VlogSize int64 `json:"vlog_size,omitempty"`
}
