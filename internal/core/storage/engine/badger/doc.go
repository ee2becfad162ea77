// Package badger 实现 BadgerDB 存储引擎
//
// badger 使用 BadgerDB 作为底层存储，数据位于 Path 下的 badger 子目录，
// 与同一根目录下的其他后端互不干扰。
//
// # 特性
//
//   - LSM-tree 存储引擎
//   - 支持事务（乐观并发，冲突时返回 engine.ErrTransactionConflict）
//   - 不启动后台任务，值日志回收在 Compact 中同步执行
//   - 批量写入与单键写入都走一个 Update 事务
//   - ZSTD 压缩
//
// # 使用示例
//
//	cfg := engine.DefaultConfig("/data/advcache").WithBackend(engine.BackendBadger)
//	db, err := badger.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	err = db.Put([]byte("key"), []byte("value"))
//	value, err := db.Get([]byte("key"))
package badger
