// Package advcache 实现节点本地的通告缓存（Cm）
//
// 每个节点为每个对等组保留一个区域（area），区域内的记录按
// (目录, 文件名) 定位，带两个截止时间：
//
//	lifetime    超过后 GarbageCollect 可以物理删除
//	expiration  超过后读取与搜索不再返回
//
// 读取按两者中较早的时间判断记录是否存活，因此 expiration 大于 lifetime 时
// 记录在 lifetime 到达时即不可见，不会因为 GC 尚未运行而被读到。
//
// # 组成
//
//	┌──────────────────────────────────────────────────────┐
//	│ Cm（本包）                                            │
//	│   主记录表 r   过期索引 x   属性索引 a   区域目录 m/a/  │
//	│   属性值索引树（tst）        热记录缓存（lru）          │
//	└──────────────────────────────────────────────────────┘
//	                       │ kv.Store：区域前缀 c/<area>，每张表一个 SubStore，
//	                       │ 键由 kv.Key 的长度前缀分量组成
//	                       ▼
//	        registry.Handle → engine.InternalEngine
//	        （btree / badger / pebble / memory）
//
// 一次保存或删除在一个引擎事务内同时写主记录、过期索引和属性索引，
// 属性索引项不会比主记录存活更久。主记录无法解码时，它的索引项靠扫描
// 找到并随主记录一起删除。
//
// 任一将写入的键超过 engine.MaxKeySize 时保存返回 ObjKeyTooLarge，
// 与使用哪种后端无关。
//
// # 并发
//
// 同一存储根上的多个 Cm 通过注册表共享一个引擎；同一区域的多个 Cm
// 共享一把读写锁，写操作互斥，读操作并发。库内没有后台 goroutine，
// GC 由调用方驱动。
//
// # 使用示例
//
//	reg := storage.NewRegistry()
//	defer reg.CloseAll()
//
//	c, err := advcache.Open(reg, engine.DefaultConfig("/data/advcache"), advcache.DefaultOptions().WithArea("group-1"))
//	if err != nil {
//	    return err
//	}
//	defer c.Stop()
//
//	c.SaveAdvertisement("Peers", "peer-1", doc, map[string]string{"Name": "Mike"}, time.Hour, 10*time.Minute)
//	recs, err := c.Search("Peers", "Name", "Mik*", interfaces.NoThreshold)
package advcache
