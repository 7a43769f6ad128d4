package log

import (
	"log/slog"
	"strings"
)

// Format 日志输出格式
type Format int

const (
	// FormatText 文本格式（默认）
	FormatText Format = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// ParseFormat 解析格式名称，未知值回退到文本格式
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Levels 默认级别和各子系统级别
type Levels struct {
	Default    slog.Level
	Subsystems map[string]slog.Level
}

// For 返回子系统的级别
//
// 先精确匹配，再按 "/" 逐级回退到父子系统：core/dht/rpc → core/dht → core。
func (l *Levels) For(subsystem string) slog.Level {
	for s := subsystem; s != ""; {
		if lv, ok := l.Subsystems[s]; ok {
			return lv
		}
		i := strings.LastIndex(s, "/")
		if i < 0 {
			break
		}
		s = s[:i]
	}
	return l.Default
}

// ParseLevels 解析级别配置字符串
//
// 格式: subsystem=level,subsystem=level,defaultLevel
// 无法识别的片段被忽略。
func ParseLevels(spec string) *Levels {
	lv := &Levels{Default: slog.LevelInfo, Subsystems: map[string]slog.Level{}}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, ok := strings.Cut(part, "="); ok {
			if level, ok := ParseLevel(v); ok {
				lv.Subsystems[strings.TrimSpace(k)] = level
			}
			continue
		}
		if level, ok := ParseLevel(part); ok {
			lv.Default = level
		}
	}
	return lv
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
