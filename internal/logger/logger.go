// Package logger 提供全局日志实例，基于 charmbracelet/log。
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Logger 是服务内共享的根日志实例。
var Logger = newLogger(os.Stderr, log.InfoLevel)

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006/01/02 15:04:05.000",
		Level:           level,
	})
}

// Configure 根据 LOG_LEVEL 调整日志级别。
// 需在创建各模块的前缀日志之前调用，子日志会复制当时的级别。
func Configure(level string) {
	Logger.SetLevel(ParseLevel(level))
}

// SetOutput 替换输出目标，测试中用于静默日志。
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// ParseLevel 将字符串转换为日志级别，未知值回退到 info。
func ParseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// WithPrefix 返回带模块前缀的子日志，例如 [turn]、[ocr]。
func WithPrefix(prefix string) *log.Logger {
	return Logger.WithPrefix(prefix)
}

func Debug(msg interface{}, keyvals ...interface{}) { Logger.Debug(msg, keyvals...) }

func Info(msg interface{}, keyvals ...interface{}) { Logger.Info(msg, keyvals...) }

func Warn(msg interface{}, keyvals ...interface{}) { Logger.Warn(msg, keyvals...) }

func Error(msg interface{}, keyvals ...interface{}) { Logger.Error(msg, keyvals...) }

// Fatal 记录日志后退出进程。
func Fatal(msg interface{}, keyvals ...interface{}) { Logger.Fatal(msg, keyvals...) }
