// Package registry 提供按存储根目录共享引擎的引用计数注册表
//
// 同一存储根目录（按规范化后的绝对路径区分）上打开的多个逻辑实例
// 共享一个引擎：第一次 Acquire 时打开，最后一个 Handle 释放时关闭。
// 文件句柄数量因此只与存储根目录的数量有关，与区域数量无关。
//
// # 使用示例
//
//	reg := registry.New(storage.OpenEngine)
//	h, err := reg.Acquire(cfg)
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//	eng := h.Engine()
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"github.com/dep2p/go-advcache/pkg/lib/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

var logger = log.Logger("storage/registry")

// ErrClosed 注册表已关闭
var ErrClosed = errors.New("registry: closed")

// Opener 按配置打开引擎
type Opener func(cfg *engine.Config) (engine.InternalEngine, error)

// Registry 引用计数的引擎注册表
//
// 注册表是显式对象而不是包级状态，由调用方（或 fx 模块）持有。
type Registry struct {
	open Opener

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	group singleflight.Group
}

// entry 一个存储根目录上的共享引擎
type entry struct {
	key  string
	root string
	eng  engine.InternalEngine
	refs int

	// shared 挂在该根目录上的共享状态，随引擎一起释放
	sharedMu sync.Mutex
	shared   map[string]any
}

// New 创建注册表
func New(open Opener) *Registry {
	return &Registry{
		open:    open,
		entries: make(map[string]*entry),
	}
}

// Canonical 返回存储根目录的规范路径
//
// 路径存在但不是目录时返回 URINotADir 故障，不会创建任何文件。
// 符号链接在最近的已存在祖先上解析，尚不存在的部分原样接在后面，
// 因此目录创建前后、经不同链接得到的都是同一条目。
func Canonical(path string) (string, error) {
	if path == "" {
		return "", engine.Faultf(engine.URIInvalidPath, "canonical", "empty storage root")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", engine.NewFault(engine.URIInvalidPath, "canonical", err)
	}
	fi, err := os.Stat(abs)
	switch {
	case err == nil && !fi.IsDir():
		return "", engine.Faultf(engine.URINotADir, "canonical", "%s is not a directory", abs)
	case err != nil && !os.IsNotExist(err):
		return "", engine.IOFault("canonical", err)
	}
	return resolveExisting(abs)
}

// resolveExisting 解析 path 中已存在部分的符号链接
func resolveExisting(path string) (string, error) {
	var missing []string
	p := filepath.Clean(path)
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", engine.IOFault("canonical", err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return filepath.Clean(path), nil
		}
		missing = append([]string{filepath.Base(p)}, missing...)
		p = parent
	}
}

// keyOf 注册表键：后端 + 规范路径
//
// 同一根目录下不同后端的数据互不重叠，可以同时打开。
func keyOf(cfg *engine.Config) (string, string, error) {
	backend, err := engine.ParseBackend(string(cfg.Backend))
	if err != nil {
		return "", "", err
	}
	if backend == engine.BackendMemory && cfg.Path == "" {
		return string(backend) + ":", "", nil
	}
	root, err := Canonical(cfg.Path)
	if err != nil {
		return "", "", err
	}
	return string(backend) + ":" + root, root, nil
}

// Acquire 获取存储根目录上的共享引擎，引用计数加一
//
// 并发的首次 Acquire 只会打开一次引擎。
func (r *Registry) Acquire(cfg *engine.Config) (*Handle, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	key, root, err := keyOf(cfg)
	if err != nil {
		return nil, err
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		if e, ok := r.entries[key]; ok {
			e.refs++
			refs := e.refs
			r.mu.Unlock()
			logger.Debug("复用存储引擎", "root", root, "refs", refs)
			return &Handle{r: r, e: e}, nil
		}
		r.mu.Unlock()

		v, err, _ := r.group.Do(key, func() (any, error) {
			return r.openEntry(key, root, cfg)
		})
		if err != nil {
			return nil, err
		}

		// 打开后、计数前条目可能已被另一个持有者释放，此时重试
		r.mu.Lock()
		e := v.(*entry)
		if cur, ok := r.entries[key]; ok && cur == e {
			e.refs++
			r.mu.Unlock()
			return &Handle{r: r, e: e}, nil
		}
		r.mu.Unlock()
	}
}

// openEntry 打开引擎并登记条目（引用计数为 0，由调用方递增）
func (r *Registry) openEntry(key, root string, cfg *engine.Config) (*entry, error) {
	r.mu.Lock()
	if e, ok := r.entries[key]; ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	c := cfg.Clone()
	if root != "" {
		c.Path = root
	}
	eng, err := r.open(c)
	if err != nil {
		logger.Warn("打开存储引擎失败", "root", root, "error", err)
		return nil, err
	}
	if err := eng.Start(); err != nil {
		_ = eng.Close()
		return nil, err
	}

	e := &entry{key: key, root: root, eng: eng, shared: make(map[string]any)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = eng.Close()
		return nil, ErrClosed
	}
	r.entries[key] = e
	logger.Info("存储引擎已打开", "backend", c.Backend, "root", root)
	return e, nil
}

// release 引用计数减一，归零时关闭引擎
func (r *Registry) release(e *entry) error {
	r.mu.Lock()
	if r.entries[e.key] != e {
		// 已被 CloseAll 关闭
		r.mu.Unlock()
		return nil
	}
	e.refs--
	if e.refs > 0 {
		refs := e.refs
		r.mu.Unlock()
		logger.Debug("释放存储引擎引用", "root", e.root, "refs", refs)
		return nil
	}
	delete(r.entries, e.key)
	r.mu.Unlock()

	return e.close()
}

func (e *entry) close() error {
	e.sharedMu.Lock()
	var err error
	for name, v := range e.shared {
		if c, ok := v.(interface{ Close() error }); ok {
			err = multierr.Append(err, c.Close())
		}
		delete(e.shared, name)
	}
	e.sharedMu.Unlock()

	if cerr := e.eng.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close %s: %w", e.key, cerr))
	}
	logger.Info("存储引擎已关闭", "root", e.root)
	return err
}

// Len 返回当前打开的引擎数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Refs 返回指定配置对应引擎的引用计数，未打开时为 0
func (r *Registry) Refs(cfg *engine.Config) int {
	key, _, err := keyOf(cfg)
	if err != nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.refs
	}
	return 0
}

// CloseAll 强制关闭所有引擎，之后 Acquire 返回 ErrClosed
//
// 未释放的 Handle 仍可调用 Release，不会重复关闭。
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	r.closed = true
	entries := make([]*entry, 0, len(r.entries))
	for k, e := range r.entries {
		entries = append(entries, e)
		delete(r.entries, k)
	}
	r.mu.Unlock()

	var err error
	for _, e := range entries {
		err = multierr.Append(err, e.close())
	}
	return err
}

// Handle 对共享引擎的一个引用
type Handle struct {
	r        *Registry
	e        *entry
	released atomic.Bool
}

// Engine 返回共享引擎
func (h *Handle) Engine() engine.InternalEngine {
	return h.e.eng
}

// Root 返回规范化后的存储根目录（内存后端可能为空）
func (h *Handle) Root() string {
	return h.e.root
}

// Shared 返回挂在该存储根目录上的共享状态，不存在时用 init 创建
//
// 同一根目录上的所有 Handle 看到同一个值。值实现 Close() error 时
// 会在引擎关闭前被关闭。
func (h *Handle) Shared(name string, init func() any) any {
	h.e.sharedMu.Lock()
	defer h.e.sharedMu.Unlock()
	if v, ok := h.e.shared[name]; ok {
		return v
	}
	v := init()
	h.e.shared[name] = v
	return v
}

// Release 释放引用，多次调用是安全的
func (h *Handle) Release() error {
	if h == nil || h.released.Swap(true) {
		return nil
	}
	return h.r.release(h.e)
}
