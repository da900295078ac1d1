// Package logger предоставляет логирование с префиксом сервиса поверх zap.
// Запись буферизована, чтобы не блокировать горячий путь доставки сообщений.
// Поддерживается логирование времени выполнения функций.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	bufferSize    = 256 * 1024
	flushInterval = time.Second
	slowThreshold = 100 * time.Millisecond
)

var (
	mu     sync.RWMutex
	prefix string
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	syncer *zapcore.BufferedWriteSyncer
	level  = zap.NewAtomicLevel()
	once   sync.Once
)

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func initLogger() {
	level.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	if os.Getenv("LOG_FORMAT") == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	syncer = &zapcore.BufferedWriteSyncer{
		WS:            zapcore.Lock(os.Stderr),
		Size:          bufferSize,
		FlushInterval: flushInterval,
	}
	base = zap.New(zapcore.NewCore(encoder, syncer, level), zap.AddCaller(), zap.AddCallerSkip(1))
	rebuildSugar()
}

func rebuildSugar() {
	l := base
	if prefix != "" {
		l = l.With(zap.String("service", prefix))
	}
	sugar = l.Sugar()
}

func get() *zap.SugaredLogger {
	once.Do(initLogger)
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// SetPrefix задаёт имя сервиса для всех последующих логов (например "api").
func SetPrefix(p string) {
	once.Do(initLogger)
	mu.Lock()
	prefix = p
	rebuildSugar()
	mu.Unlock()
}

// SetLevel меняет уровень на лету (значение из конфига перекрывает LOG_LEVEL).
func SetLevel(s string) {
	once.Do(initLogger)
	level.SetLevel(parseLevel(s))
}

// Zap отдаёт базовый логгер для мест, где нужны типизированные поля.
func Zap() *zap.Logger {
	return get().Desugar()
}

func Info(v ...any) { get().Info(v...) }

func Infof(format string, v ...any) { get().Infof(format, v...) }

func Debugf(format string, v ...any) { get().Debugf(format, v...) }

func Warnf(format string, v ...any) { get().Warnf(format, v...) }

func Error(v ...any) { get().Error(v...) }

func Errorf(format string, v ...any) { get().Errorf(format, v...) }

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На уровне info пишутся только вызовы дольше 100ms; на debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := get()
	if elapsed < slowThreshold && !level.Enabled(zapcore.DebugLevel) {
		return
	}
	l.Desugar().Info("duration", zap.String("fn", fn), zap.Int64("duration_ms", elapsed.Milliseconds()))
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("msgRepo.Append", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

// Sync сбрасывает буфер; вызывать перед выходом процесса.
func Sync() error {
	once.Do(initLogger)
	if err := syncer.Stop(); err != nil {
		return fmt.Errorf("logger.Sync: %w", err)
	}
	return nil
}
