// Package kv 提供带前缀隔离的 KV 存储抽象层
//
// Store 在底层存储引擎之上提供命名空间隔离：
// 同一存储根下的多个区域（area）共享一个引擎，每个区域是一个 Store，
// 区域内的每张表又是它的一个 SubStore。
//
// # 键空间
//
// 通告缓存的键由复合键（见 Key）拼成，<s> 表示一个长度前缀分量：
//   - m/a/<area 原文>                  - 区域目录
//   - c/<area>r<dir><name>             - 主记录
//   - c/<area>x<deadline><dir><name>   - 过期索引（8 字节大端 lifetime）
//   - c/<area>a<dir><attr><value><name> - 属性索引
//
// # 使用示例
//
//	area := kv.New(eng, kv.AppendKey([]byte("c/"), "group-1"))
//	records := area.SubStore([]byte("r"))
//	expiry := area.SubStore([]byte("x"))
//
//	txn := records.NewTransaction(true)
//	defer txn.Discard()
//	txn.Set(kv.Key(dir, name), value)      // c/<area>r<dir><name>
//	expiry.In(txn).Set(key, nil)           // 同一事务写入另一张表
//	txn.Commit()
package kv

import (
	"bytes"
	"encoding/json"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
)

// Store 带前缀隔离的 KV 存储
//
// Store 封装底层存储引擎，为所有键自动添加前缀，
// 实现数据命名空间隔离。
type Store struct {
	engine engine.InternalEngine
	prefix []byte
}

// New 创建以 prefix 为命名空间的 Store
func New(eng engine.InternalEngine, prefix []byte) *Store {
	return &Store{
		engine: eng,
		prefix: prefix,
	}
}

// prefixKey 返回加上前缀的新切片，不会写入 s.prefix 的底层数组
func (s *Store) prefixKey(key []byte) []byte {
	if len(s.prefix) == 0 {
		return key
	}
	n := len(s.prefix)
	return append(s.prefix[:n:n], key...)
}

// stripPrefix 从键中移除前缀
func (s *Store) stripPrefix(key []byte) []byte {
	if len(s.prefix) == 0 || len(key) < len(s.prefix) {
		return key
	}
	return key[len(s.prefix):]
}

// ============= 单键操作 =============

// Get 获取指定键的值
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.prefixKey(key))
}

// Put 设置键值对
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.prefixKey(key), value)
}

// Delete 删除指定键
func (s *Store) Delete(key []byte) error {
	return s.engine.Delete(s.prefixKey(key))
}

// Has 检查键是否存在
func (s *Store) Has(key []byte) (bool, error) {
	return s.engine.Has(s.prefixKey(key))
}

// GetJSON 获取并反序列化 JSON 值
func (s *Store) GetJSON(key []byte, v interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutJSON 序列化并存储 JSON 值
func (s *Store) PutJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, data)
}

// ============= 扫描 =============

// scan 遍历 iter 中仍在本 Store 命名空间内的键，fn 收到去掉前缀的键
func (s *Store) scan(iter engine.Iterator, fn func(key, value []byte) bool) error {
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, s.prefix) {
			break
		}
		if !fn(s.stripPrefix(k), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// PrefixScan 按键序扫描 subPrefix 下的键值对，fn 返回 false 时停止
//
// fn 收到的键去掉了 Store 的前缀但保留 subPrefix，键和值只在回调内有效。
func (s *Store) PrefixScan(subPrefix []byte, fn func(key, value []byte) bool) error {
	return s.scan(s.engine.NewPrefixIterator(s.prefixKey(subPrefix)), fn)
}

// RangeScan 扫描 [startKey, endKey)，endKey 为 nil 时扫描到命名空间末尾
func (s *Store) RangeScan(startKey, endKey []byte, fn func(key, value []byte) bool) error {
	opts := &engine.IteratorOptions{StartKey: s.prefixKey(startKey)}
	if endKey != nil {
		opts.EndKey = s.prefixKey(endKey)
	}
	return s.scan(s.engine.NewIterator(opts), fn)
}

// Count 统计指定前缀的键数量
func (s *Store) Count(subPrefix []byte) (int64, error) {
	var count int64
	err := s.PrefixScan(subPrefix, func(_, _ []byte) bool {
		count++
		return true
	})
	return count, err
}

// DeletePrefix 在一个批量写入中删除 subPrefix 下的所有键
func (s *Store) DeletePrefix(subPrefix []byte) error {
	batch := s.NewBatch()
	err := s.PrefixScan(subPrefix, func(key, _ []byte) bool {
		batch.Delete(bytes.Clone(key))
		return true
	})
	if err != nil || batch.Size() == 0 {
		return err
	}
	return batch.Write()
}

// ============= 批量操作 =============

// Batch 带前缀的批量操作
type Batch struct {
	store *Store
	batch engine.Batch
}

// NewBatch 创建新的批量操作
func (s *Store) NewBatch() *Batch {
	return &Batch{
		store: s,
		batch: s.engine.NewBatch(),
	}
}

// Put 添加写入操作
func (b *Batch) Put(key, value []byte) {
	b.batch.Put(b.store.prefixKey(key), value)
}

// Delete 添加删除操作
func (b *Batch) Delete(key []byte) {
	b.batch.Delete(b.store.prefixKey(key))
}

// Write 执行批量操作
func (b *Batch) Write() error {
	return b.batch.Write()
}

// Reset 重置批量操作
func (b *Batch) Reset() {
	b.batch.Reset()
}

// Size 返回操作数量
func (b *Batch) Size() int {
	return b.batch.Size()
}

// ============= 事务 =============

// Transaction 带前缀的事务
type Transaction struct {
	store *Store
	txn   engine.Transaction
}

// NewTransaction 创建事务，writable 为 false 时只读
func (s *Store) NewTransaction(writable bool) *Transaction {
	return &Transaction{
		store: s,
		txn:   s.engine.NewTransaction(writable),
	}
}

// In 返回同一事务在 s 的前缀下的视图
//
// 同一区域的多张表各是一个 SubStore，写操作在一个事务里经 In 写入各表，
// 一次 Commit 原子生效。
func (s *Store) In(t *Transaction) *Transaction {
	return &Transaction{store: s, txn: t.txn}
}

// Get 在事务中获取值
func (t *Transaction) Get(key []byte) ([]byte, error) {
	return t.txn.Get(t.store.prefixKey(key))
}

// Set 在事务中设置值
func (t *Transaction) Set(key, value []byte) error {
	return t.txn.Set(t.store.prefixKey(key), value)
}

// Delete 在事务中删除键
func (t *Transaction) Delete(key []byte) error {
	return t.txn.Delete(t.store.prefixKey(key))
}

// Commit 提交事务
func (t *Transaction) Commit() error {
	return t.txn.Commit()
}

// Discard 丢弃事务
func (t *Transaction) Discard() {
	t.txn.Discard()
}

// ============= 命名空间 =============

// CheckKey 按引擎的统一规则校验加上前缀之后的完整键
//
// 用于在写事务开始之前拒绝过长的键，各后端返回相同的 ObjKeyTooLarge 故障。
func (s *Store) CheckKey(op string, key []byte) error {
	if len(key) == 0 {
		return engine.CheckKey(op, nil)
	}
	return engine.CheckKeySize(op, len(s.prefix)+len(key))
}

// SubStore 返回在当前前缀后追加 subPrefix 的子存储，二者共享引擎
func (s *Store) SubStore(subPrefix []byte) *Store {
	return New(s.engine, append(bytes.Clone(s.prefix), subPrefix...))
}
