// pkg/logger/logger.go

package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var (
	mu  sync.Mutex
	log *zap.Logger
)

// Options control where and how much the process logs.
type Options struct {
	// Level is DEBUG, INFO, WARN or ERROR. Empty means LOG_LEVEL, then INFO.
	Level string
	// Paths are candidate JSON log files; the first writable one is used.
	// Nil means PlatformLogPaths. An empty non-nil slice disables the file.
	Paths []string
	// Console receives the human-readable stream.
	Console zapcore.WriteSyncer
}

// Init builds the console and JSON file tee, installs it as the zap and
// otelzap globals, and returns the file path in use ("" for console only).
func Init(opts Options) (*zap.Logger, string) {
	level := ParseLogLevel(opts.Level)
	if opts.Level == "" {
		level = ParseLogLevel(os.Getenv("LOG_LEVEL"))
	}

	consoleCfg := DefaultConsoleEncoderConfig()
	console := opts.Console
	if console == nil {
		console = zapcore.Lock(os.Stderr)
		if term.IsTerminal(int(os.Stderr.Fd())) {
			consoleCfg.EncodeLevel = colourLevelEncoder
		}
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), console, level),
	}

	paths := opts.Paths
	if paths == nil {
		paths = PlatformLogPaths()
	}
	path, ok := FindWritableLogPath(paths)
	if ok {
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err == nil {
			jsonCfg := zap.NewProductionEncoderConfig()
			jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
			jsonCfg.EncodeLevel = zapcore.CapitalLevelEncoder
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(file), level))
		} else {
			path = ""
		}
	} else if len(paths) > 0 {
		fmt.Fprintln(os.Stderr, "No writable log path found. Logging to console only.")
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	SetLogger(l)
	return l, path
}

// InitFallback installs a console-only logger.
func InitFallback() *zap.Logger {
	l, _ := Init(Options{Paths: []string{}})
	return l
}

// SetLogger replaces the zap and otelzap globals.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
	zap.ReplaceGlobals(l)
	otelzap.ReplaceGlobals(otelzap.New(l))
}

// L returns the process logger, falling back to the zap global.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		return zap.L()
	}
	return log
}

// Sync flushes buffered entries. Errors from syncing a terminal are ignored.
func Sync() error {
	err := L().Sync()
	if err != nil && (strings.Contains(err.Error(), "inappropriate ioctl") || strings.Contains(err.Error(), "invalid argument")) {
		return nil
	}
	return err
}

func ParseLogLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func DefaultConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "T"
	cfg.LevelKey = "L"
	cfg.NameKey = "N"
	cfg.CallerKey = "C"
	cfg.MessageKey = "M"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}
