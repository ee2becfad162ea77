package advcache

import (
	"errors"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/internal/util/tst"
)

// 通告缓存错误定义
var (
	// ErrNotFound 记录不存在或已逻辑过期
	ErrNotFound = engine.ErrNotFound

	// ErrStopped 缓存已停止
	ErrStopped = errors.New("advcache: cache stopped")

	// ErrInvalidTerm 搜索词包含多于一个 '*'
	ErrInvalidTerm = tst.ErrInvalidTerm

	// ErrInvalidArea 区域名称不合法
	ErrInvalidArea = errors.New("advcache: invalid area name")

	// ErrAreaNotFound 区域不存在
	ErrAreaNotFound = engine.ErrNotExist

	// ErrAreaExists 区域已存在
	ErrAreaExists = engine.ErrExist
)

// IsNotFound 检查是否为记录不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidTerm 检查是否为搜索词校验错误
func IsInvalidTerm(err error) bool {
	return errors.Is(err, ErrInvalidTerm)
}

// IsAreaNotFound 检查是否为区域不存在错误
func IsAreaNotFound(err error) bool {
	return errors.Is(err, ErrAreaNotFound)
}

// storeFault 把写路径上的错误归类为故障，已归类的错误原样返回
func storeFault(code engine.FaultCode, op string, err error) error {
	if err == nil {
		return nil
	}
	var f *engine.Fault
	if errors.As(err, &f) {
		return err
	}
	if errors.Is(err, engine.ErrClosed) {
		return engine.NewFault(engine.DBClosed, op, err)
	}
	if errors.Is(err, engine.ErrReadOnly) {
		return engine.NewFault(engine.DBReadOnly, op, err)
	}
	if errors.Is(err, engine.ErrTransactionConflict) {
		return engine.NewFault(engine.TrxConflict, op, err)
	}
	if io := engine.IOFault(op, err); engine.CodeOf(io) != engine.RuntimeIO {
		return io
	}
	return engine.NewFault(code, op, err)
}
