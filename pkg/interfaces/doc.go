// Package interfaces 定义 go-advcache 的公共接口
//
// 本包只包含接口和少量值类型，实现位于 internal 下：
//   - storage.go        - 存储引擎（B-tree / BadgerDB / Pebble / 内存）
//   - advcache.go       - 通告缓存（Cm）
//
// # 依赖方向
//
//	advcache → storage → engine
//
// 禁止反向依赖。
package interfaces
