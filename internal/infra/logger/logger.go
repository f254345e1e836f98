// Package logger — централизованная обёртка над zap для всего приложения.
// Помимо основного логгера (stdout + общий файл), поддерживает именованные
// синки: success (только успешные пересылки), errors (только ошибки/ретраи),
// debug (включается при LOG_LEVEL=debug) и stats (сводки по циклам, §4.8).
// Каждый синк — отдельный ротируемый файл через lumberjack, что совпадает с
// требованием супервизора писать статистику и ошибки раздельно от общего потока.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Имена синков, используемые §4.8 для раздельной отчётности.
const (
	SinkMain    = "main"
	SinkSuccess = "success"
	SinkError   = "error"
	SinkDebug   = "debug"
	SinkStats   = "stats"
)

var (
	mu sync.Mutex

	log      *zap.Logger
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

	encoderCfg   = defaultEncoderConfig()
	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))

	// sinks хранит дополнительные именованные логгеры, инициализированные InitSinks.
	sinks = map[string]*zap.Logger{}
)

// defaultEncoderConfig формирует консольный encoder с цветами и коротким caller.
func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// fileEncoderConfig — как console, но без цвета (файлы читает grep/less, не терминал).
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := defaultEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func rebuildLoggerLocked() {
	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	core := zapcore.NewCore(encoder, stdoutWriter, logLevel)
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

// Init инициализирует глобальный консольный zap-логгер и настраивает уровень.
// Допустимые уровни: debug, info (по умолчанию), warn, error.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	setLevelLocked(level)
	encoderCfg = defaultEncoderConfig()
	rebuildLoggerLocked()
}

func setLevelLocked(level string) {
	switch strings.ToLower(level) {
	case "debug":
		logLevel.SetLevel(zap.DebugLevel)
	case "warn":
		logLevel.SetLevel(zap.WarnLevel)
	case "error":
		logLevel.SetLevel(zap.ErrorLevel)
	default:
		logLevel.SetLevel(zap.InfoLevel)
	}
}

// InitSinks готовит файловые синки main/success/error/debug/stats под logDir,
// ротируемые lumberjack'ом, и инициализирует консольный логгер уровнем level.
// debug-синк заводится только если level == "debug" — иначе он не несёт данных
// и не стоит открывать лишний файл.
func InitSinks(logDir, level string) error {
	mu.Lock()
	defer mu.Unlock()

	setLevelLocked(level)
	encoderCfg = defaultEncoderConfig()
	rebuildLoggerLocked()

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	sinks[SinkMain] = newFileLogger(logDir, "main.log", logLevel)
	sinks[SinkSuccess] = newFileLogger(logDir, "success.log", zap.NewAtomicLevelAt(zap.InfoLevel))
	sinks[SinkError] = newFileLogger(logDir, "error.log", zap.NewAtomicLevelAt(zap.WarnLevel))
	sinks[SinkStats] = newFileLogger(logDir, "stats.log", zap.NewAtomicLevelAt(zap.InfoLevel))
	if logLevel.Level() <= zap.DebugLevel {
		sinks[SinkDebug] = newFileLogger(logDir, "debug.log", zap.NewAtomicLevelAt(zap.DebugLevel))
	}

	return nil
}

func newFileLogger(logDir, filename string, level zapcore.LevelEnabler) *zap.Logger {
	writer := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, filename),
		MaxSize:    50, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	encoder := zapcore.NewConsoleEncoder(fileEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(writer), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Sink возвращает именованный логгер, зарегистрированный InitSinks. Если синк не
// был инициализирован (например, SinkDebug вне debug-режима), возвращает
// основной консольный логгер — вызывающему не нужно проверять nil.
func Sink(name string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := sinks[name]; ok {
		return l
	}
	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// SetWriters переназначает целевые потоки консольного логгера и пересобирает core.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))
	}

	rebuildLoggerLocked()
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом обращении.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled проверяет, включен ли debug уровень логирования.
func IsDebugEnabled() bool {
	return Logger().Level() <= zap.DebugLevel
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение уровня Warn.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке уровня Error.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет структурированное сообщение об ошибке уровня Fatal и завершает работу приложения.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync()
	os.Exit(1)
}

// Debugf форматирует сообщение через fmt.Sprintf.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует сообщение через fmt.Sprintf.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует сообщение через fmt.Sprintf.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует сообщение через fmt.Sprintf.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
