// Package log 提供 advcache 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，每个组件通过 Logger(component) 获取
// 一个懒加载的日志记录器。组件级别的日志级别由环境变量配置：
//
//	ADVCACHE_LOG_LEVEL=storage/btree=debug,advcache=warn,info
//	ADVCACHE_LOG_FORMAT=json
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stderr

	// levelOverrides 运行时通过 SetComponentLevel 设置的级别
	levelOverrides sync.Map // map[string]slog.Level
)

// dynamicWriter 每次写入时查找当前输出目标
type dynamicWriter struct{}

func (dynamicWriter) Write(p []byte) (int, error) {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()
	return w.Write(p)
}

// SetOutput 设置日志输出目标
//
// 已创建的 LazyLogger 也会立即使用新的输出目标。
//
// 示例：
//
//	file, _ := os.OpenFile("advcache.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
//	log.SetOutput(file)
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}

// SetComponentLevel 运行时调整指定组件的日志级别
func SetComponentLevel(component string, level slog.Level) {
	levelOverrides.Store(component, level)
}

// levelFor 返回组件当前生效的日志级别
func levelFor(component string) slog.Level {
	if v, ok := levelOverrides.Load(component); ok {
		return v.(slog.Level)
	}
	return ConfigFromEnv().LevelFor(component)
}

// newHandler 创建组件的 slog.Handler
func newHandler(level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}
	if ConfigFromEnv().Format == FormatJSON {
		return slog.NewJSONHandler(dynamicWriter{}, opts)
	}
	return slog.NewTextHandler(dynamicWriter{}, opts)
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都按组件当前级别构造记录器，
// 支持在运行时动态切换日志输出目标和级别。
//
// 使用方式：
//
//	var logger = log.Logger("storage/btree")
//	logger.Info("页文件已打开", "path", path)
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) logger() *slog.Logger {
	return slog.New(newHandler(levelFor(l.component))).With("component", l.component)
}

// Enabled 检查指定级别是否会输出
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return level >= levelFor(l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	if !l.Enabled(LevelDebug) {
		return
	}
	l.logger().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	if !l.Enabled(LevelInfo) {
		return
	}
	l.logger().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	if !l.Enabled(LevelWarn) {
		return
	}
	l.logger().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.logger().Error(msg, args...)
}

// WarnContext 带 context 的 Warn 日志
func (l *LazyLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	if !l.Enabled(LevelWarn) {
		return
	}
	l.logger().WarnContext(ctx, msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.logger().With(args...)
}

// Printf 风格适配，供第三方存储库的日志接口使用

// Errorf 输出格式化的 Error 日志
func (l *LazyLogger) Errorf(format string, args ...any) {
	l.Error(sprintf(format, args...))
}

// Warningf 输出格式化的 Warn 日志
func (l *LazyLogger) Warningf(format string, args ...any) {
	l.Warn(sprintf(format, args...))
}

// Infof 输出格式化的 Info 日志
func (l *LazyLogger) Infof(format string, args ...any) {
	l.Info(sprintf(format, args...))
}

// Debugf 输出格式化的 Debug 日志
func (l *LazyLogger) Debugf(format string, args ...any) {
	l.Debug(sprintf(format, args...))
}

// ============================================================================
//                              工具函数
// ============================================================================

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}
