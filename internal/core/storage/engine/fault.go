package engine

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// FaultCode 存储故障码
//
// 故障码按百位划分类别，调用方可以用 Category 按类别分支，
// 不需要匹配错误字符串。
type FaultCode int

// Category 故障类别
type Category int

// 故障类别
const (
	CategoryGeneral     Category = 0
	CategoryObject      Category = 100
	CategoryCollection  Category = 200
	CategoryIndex       Category = 300
	CategoryTransaction Category = 400
	CategoryDatabase    Category = 500
	CategoryQuery       Category = 600
	CategorySecurity    Category = 700
	CategoryURI         Category = 800
	CategoryRuntime     Category = 900
)

// 通用故障
const (
	GenUnknown  FaultCode = 0
	GenCritical FaultCode = 1
	GenInvalid  FaultCode = 2
)

// 对象（记录）故障
const (
	ObjNotFound      FaultCode = 101
	ObjTooLarge      FaultCode = 102
	ObjCorrupted     FaultCode = 103
	ObjEmptyKey      FaultCode = 104
	ObjKeyTooLarge   FaultCode = 105
	ObjCannotStore   FaultCode = 106
	ObjCannotRemove  FaultCode = 107
	ObjInvalidFormat FaultCode = 108
)

// 集合（逻辑子存储 / 存储文件）故障
const (
	ColNotFound     FaultCode = 201
	ColDuplicate    FaultCode = 202
	ColCannotCreate FaultCode = 203
	ColCannotDrop   FaultCode = 204
	ColReadOnly     FaultCode = 205
)

// 索引故障
const (
	IdxNotFound  FaultCode = 301
	IdxCorrupted FaultCode = 302
	IdxDuplicate FaultCode = 303
)

// 事务故障
const (
	TrxConflict  FaultCode = 401
	TrxDiscarded FaultCode = 402
	TrxTooLarge  FaultCode = 403
)

// 数据库（页文件）故障
const (
	DBClosed      FaultCode = 501
	DBCorrupted   FaultCode = 502
	DBVersion     FaultCode = 503
	DBReadOnly    FaultCode = 504
	DBLocked      FaultCode = 505
	DBBadPageSize FaultCode = 506
)

// 查询故障
const (
	QryInvalidTerm FaultCode = 601
	QryUnsupported FaultCode = 602
)

// 安全故障
const (
	SecPermissionDenied FaultCode = 701
)

// 标识符解析故障
const (
	URIInvalidPath FaultCode = 801
	URINotADir     FaultCode = 802
)

// 运行时故障
const (
	RuntimeIO      FaultCode = 901
	RuntimeNoSpace FaultCode = 902
)

// Category 返回故障码所属类别
func (c FaultCode) Category() Category {
	if c < 0 || c >= 1000 {
		return CategoryGeneral
	}
	return Category(int(c) / 100 * 100)
}

// String 返回类别名称
func (c Category) String() string {
	switch c {
	case CategoryGeneral:
		return "general"
	case CategoryObject:
		return "object"
	case CategoryCollection:
		return "collection"
	case CategoryIndex:
		return "index"
	case CategoryTransaction:
		return "transaction"
	case CategoryDatabase:
		return "database"
	case CategoryQuery:
		return "query"
	case CategorySecurity:
		return "security"
	case CategoryURI:
		return "uri"
	case CategoryRuntime:
		return "runtime"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Fault 带故障码的存储错误
type Fault struct {
	Code FaultCode
	Op   string
	Err  error
}

// NewFault 创建故障
func NewFault(code FaultCode, op string, err error) *Fault {
	return &Fault{Code: code, Op: op, Err: err}
}

// Faultf 创建带格式化消息的故障
func Faultf(code FaultCode, op string, format string, args ...any) *Fault {
	return &Fault{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("storage fault %d (%s): %s", int(f.Code), f.Code.Category(), f.Op)
	}
	return fmt.Sprintf("storage fault %d (%s): %s: %v", int(f.Code), f.Code.Category(), f.Op, f.Err)
}

// Unwrap 返回底层错误
func (f *Fault) Unwrap() error {
	return f.Err
}

// Is 将故障码映射到哨兵错误
func (f *Fault) Is(target error) bool {
	if s := f.sentinel(); s != nil && s == target {
		return true
	}
	if t, ok := target.(*Fault); ok {
		return t.Code == f.Code
	}
	return false
}

func (f *Fault) sentinel() error {
	switch f.Code {
	case ObjNotFound:
		return ErrNotFound
	case ObjTooLarge:
		return ErrValueTooLarge
	case ObjKeyTooLarge:
		return ErrKeyTooLarge
	case ObjEmptyKey:
		return ErrEmptyKey
	case ObjCorrupted, IdxCorrupted, DBCorrupted, ObjInvalidFormat:
		return ErrCorrupted
	case ColNotFound:
		return ErrNotExist
	case ColDuplicate:
		return ErrExist
	case ColReadOnly, DBReadOnly:
		return ErrReadOnly
	case TrxConflict:
		return ErrTransactionConflict
	case TrxDiscarded:
		return ErrTransactionDiscarded
	case TrxTooLarge:
		return ErrTransactionTooLarge
	case DBClosed:
		return ErrClosed
	case DBVersion:
		return ErrUnsupportedVersion
	case DBBadPageSize, GenInvalid:
		return ErrInvalidConfig
	}
	return nil
}

// CodeOf 返回错误链中第一个 Fault 的故障码
//
// 非 Fault 错误按哨兵错误推断故障码，无法推断时返回 GenUnknown。
func CodeOf(err error) FaultCode {
	if err == nil {
		return GenUnknown
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return ObjNotFound
	case errors.Is(err, ErrCorrupted):
		return DBCorrupted
	case errors.Is(err, ErrReadOnly):
		return DBReadOnly
	case errors.Is(err, ErrClosed):
		return DBClosed
	case errors.Is(err, ErrTransactionConflict):
		return TrxConflict
	case errors.Is(err, ErrNotExist):
		return ColNotFound
	case errors.Is(err, ErrExist):
		return ColDuplicate
	}
	return GenUnknown
}

// CategoryOf 返回错误的故障类别
func CategoryOf(err error) Category {
	return CodeOf(err).Category()
}

// IOFault 将操作系统 I/O 错误归类为故障
//
// 磁盘满、权限不足、文件不存在分别映射到运行时、安全、集合类别。
func IOFault(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return NewFault(RuntimeNoSpace, op, err)
	case errors.Is(err, os.ErrPermission):
		return NewFault(SecPermissionDenied, op, err)
	case errors.Is(err, os.ErrNotExist):
		return NewFault(ColNotFound, op, err)
	default:
		return NewFault(RuntimeIO, op, err)
	}
}
