// Package engine 定义存储引擎接口
//
// engine 提供存储引擎的抽象接口，允许使用不同的底层存储实现。
// 上层只依赖 InternalEngine，具体实现在构造时注入。
//
// # 接口
//
//   - Engine: 存储引擎主接口
//   - Txn: 事务接口
//   - Iterator: 迭代器接口
//
// # 实现
//
//   - btree: 单文件页式 B-tree 引擎（默认，参考实现）
//   - badger: BadgerDB 实现
//   - pebble: Pebble 实现
//   - memory: 内存有序引擎（测试用）
//
// # 错误分类
//
// 引擎错误分为两层：哨兵错误（ErrNotFound、ErrCorrupted 等，用 errors.Is 判断）
// 与带数字故障码的 Fault（用 CodeOf / Category 判断类别）。
// Fault 通过 Is 映射到对应的哨兵错误，两种判断方式可以混用。
//
// # 使用示例
//
//	eng, err := btree.New(engine.DefaultConfig("/data/advcache"))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
package engine
