// Package log 提供 meshchat 统一日志接口
//
// 基于 Go 标准库 log/slog 封装。每个包持有一个组件 logger：
//
//	var logger = log.Logger("core/dht")
//	logger.Info("节点已加入路由表", "peer", id.ShortString())
//
// 组件 logger 在每次调用时解析当前默认 handler，因此 Setup 之后创建的
// 以及之前创建的 logger 都会使用新的输出和级别。
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
	// settingsMu 保护 output 和 levels
	settingsMu sync.RWMutex
	output     io.Writer = os.Stderr
	levels               = &Levels{Default: slog.LevelInfo, Subsystems: map[string]slog.Level{}}
	format               = FormatText
)

// ============================================================================
//                              ComponentLogger
// ============================================================================

// ComponentLogger 带组件名的懒加载 logger
//
// 级别按组件过滤：Levels.For(component)。
type ComponentLogger struct {
	component string
}

// Logger 返回带组件名的 logger
func Logger(component string) *ComponentLogger {
	return &ComponentLogger{component: component}
}

func (l *ComponentLogger) enabled(level slog.Level) bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return level >= levels.For(l.component)
}

func (l *ComponentLogger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.enabled(level) {
		return
	}
	slog.Default().With("component", l.component).Log(ctx, level, msg, args...)
}

// Debug 输出 Debug 级别日志
func (l *ComponentLogger) Debug(msg string, args ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info 输出 Info 级别日志
func (l *ComponentLogger) Info(msg string, args ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *ComponentLogger) Warn(msg string, args ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error 输出 Error 级别日志
func (l *ComponentLogger) Error(msg string, args ...any) {
	l.log(context.Background(), slog.LevelError, msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *ComponentLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// WarnContext 带 context 的 Warn 日志
func (l *ComponentLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// ============================================================================
//                              全局设置
// ============================================================================

// Setup 按给定级别和格式安装默认 handler
//
// handler 本身放行所有级别，过滤由 ComponentLogger 按组件完成。
func Setup(w io.Writer, lv *Levels, f Format) {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if w != nil {
		output = w
	}
	if lv != nil {
		levels = lv
	}
	format = f
	slog.SetDefault(slog.New(newHandler(output, format)))
}

// SetupFromEnv 从环境变量安装默认 handler
//
// 环境变量：
//   - MESHCHAT_LOG_LEVEL: 子系统=级别,...,默认级别，例如 core/dht=debug,warn
//   - MESHCHAT_LOG_FORMAT: text 或 json
func SetupFromEnv(w io.Writer) {
	lv := ParseLevels(os.Getenv("MESHCHAT_LOG_LEVEL"))
	f := ParseFormat(os.Getenv("MESHCHAT_LOG_FORMAT"))
	Setup(w, lv, f)
}

// SetOutput 仅替换输出目标
func SetOutput(w io.Writer) {
	settingsMu.RLock()
	lv, f := levels, format
	settingsMu.RUnlock()
	Setup(w, lv, f)
}

func newHandler(w io.Writer, f Format) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}
	if f == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func init() {
	slog.SetDefault(slog.New(newHandler(output, format)))
}
