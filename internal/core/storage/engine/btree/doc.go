// Package btree 实现单文件页式 B-tree 存储引擎
//
// 整个存储是一个由定长页组成的文件：页 0 是文件头（magic、格式版本、页大小、
// 根页号、空闲链表头、记录数、存储 ID），其余页是叶子节点、内部节点、
// 溢出页或空闲页。每页带 murmur3 校验和，读取时校验。
//
// # 结构
//
//   - 叶子节点保存有序的键值对，并通过 next 串成链表，范围扫描沿链表前进
//   - 内部节点保存分隔键与子页号
//   - 超过页体 1/4 的值写入溢出链，叶子只保存首页号与总长度
//   - 长键同样写入溢出链，节点解码时读回完整的键
//   - 删除释放的页进入空闲链表，后续分配优先复用
//
// 节点按编码后的字节数决定分裂、合并与重新分配，树高保持对数级。
//
// # 并发
//
// 引擎使用读写锁：读操作共享，写操作（Put/Delete/批量/事务提交）独占。
// 一次写操作修改的页先在内存中暂存，成功后整体落盘，失败时整体回滚，
// 读者只能看到写操作之前或之后的状态。
//
// # 回滚日志
//
// 页被原地覆盖之前，旧内容先写入同目录下的 <文件名>-journal。
// 落盘中途出错时用旧内容复原；进程在落盘中途退出时，下次可写打开先回放日志。
// 只读打开遇到未回放的日志返回 DBCorrupted。
//
// # 使用示例
//
//	cfg := engine.DefaultConfig("/data/advcache")
//	db, err := btree.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Put([]byte("key"), []byte("value")); err != nil {
//	    return err
//	}
//	value, err := db.Get([]byte("key"))
//
// Open 与 Create 分别用于只打开已存在的文件和只创建新文件：
// 文件不存在时 Open 返回 engine.ErrNotExist，已存在时 Create 返回 engine.ErrExist。
package btree
