// Package advcache 提供节点本地的通告缓存
//
// 每个节点把收到的通告和原始数据块保存在本地缓存中，按对等组划分区域
// （area），区域内按 (目录, 文件名) 定位记录。每条记录带两个截止时间：
//
//   - lifetime: 超过后 GarbageCollect 可以物理删除
//   - expiration: 超过后读取与搜索不再返回
//
// 通告可以附带属性，用于按属性值搜索，值中可以含一个 '*' 通配符。
//
// # 快速开始
//
//	import "github.com/dep2p/go-advcache"
//
//	c, err := advcache.New(ctx,
//	    advcache.WithDataDir("/var/lib/peer"),
//	    advcache.WithArea("group-1"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close(ctx)
//
//	attrs := map[string]string{"Name": "Mike"}
//	_ = c.SaveAdvertisement("Peers", "p1", doc, attrs, 2*time.Hour, time.Hour)
//
//	recs, _ := c.Search("Peers", "Name", "Mi*", advcache.NoThreshold)
//
//	// 由调用方周期性触发
//	n, err := c.GarbageCollect()
//
// # 存储后端
//
//	btree   页式 B-tree 单文件引擎（默认）
//	badger  BadgerDB
//	pebble  Pebble
//	memory  内存引擎，适合测试
//
// 同一存储根目录上的全部区域共享一个引擎实例，Cache.Area 打开的区域
// 与默认区域共享引擎和指标收集器。
//
// # 文件组织
//
//	advcache.go  Cache 入口与区域管理
//	options.go   Option 配置函数
//	fx.go        Fx 应用组装
//	errors.go    错误定义
package advcache
