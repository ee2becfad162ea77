package advcache

import (
	"errors"

	cm "github.com/dep2p/go-advcache/internal/core/advcache"
)

// 公共错误定义
var (
	// ErrClosed 缓存已关闭
	ErrClosed = errors.New("advcache: closed")

	// ErrNotFound 键不存在或已逻辑过期
	ErrNotFound = cm.ErrNotFound

	// ErrStopped 区域实例已停止
	ErrStopped = cm.ErrStopped

	// ErrInvalidTerm 搜索项包含多个通配符
	ErrInvalidTerm = cm.ErrInvalidTerm

	// ErrInvalidArea 区域名不合法
	ErrInvalidArea = cm.ErrInvalidArea

	// ErrAreaNotFound 区域不存在或已删除
	ErrAreaNotFound = cm.ErrAreaNotFound

	// ErrAreaExists 区域已存在
	ErrAreaExists = cm.ErrAreaExists
)

// IsNotFound 检查是否为不存在错误
func IsNotFound(err error) bool {
	return cm.IsNotFound(err)
}

// IsAreaNotFound 检查是否为区域不存在错误
func IsAreaNotFound(err error) bool {
	return cm.IsAreaNotFound(err)
}
