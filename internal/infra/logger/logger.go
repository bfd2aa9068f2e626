// Package logger - централизованная обёртка над zap для панели управления.
// Консольный core пишет в переназначаемые потоки (stdout или буферы readline),
// опциональный файловый core пишет JSON в ротируемый файл через lumberjack.
// Уровни консоли и файла независимы и меняются без пересоздания ядра (zap.AtomicLevel).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions описывает файловое логирование. Пустой Path отключает файловый core.
type FileOptions struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu  sync.Mutex
	log *zap.Logger

	consoleLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	fileLevel    = zap.NewAtomicLevelAt(zap.DebugLevel)

	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))

	// rotator - активный ротатор файла логов; nil, пока файловый core не включён.
	rotator *lumberjack.Logger
)

// consoleEncoderConfig - человекочитаемый формат для терминала: цветные уровни, короткий caller.
func consoleEncoderConfig() zapcore.EncoderConfig {
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

// fileEncoderConfig - NDJSON для файла: без цветов, время в ISO8601.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := consoleEncoderConfig()
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// rebuildLoggerLocked собирает ядро заново. Вызывающий держит mu.
func rebuildLoggerLocked() {
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), stdoutWriter, consoleLevel),
	}
	if rotator != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), zapcore.AddSync(rotator), fileLevel))
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

// parseLevel переводит строку debug|info|warn|error в уровень zap. Остальное - info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Init задаёт уровень консольного вывода и пересобирает логгер. Потокобезопасно.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	consoleLevel.SetLevel(parseLevel(level))
	rebuildLoggerLocked()
}

// InitFile включает запись в ротируемый файл. Повторный вызов закрывает прежний ротатор.
func InitFile(opts FileOptions) error {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()

	if rotator != nil {
		if err := rotator.Close(); err != nil {
			return fmt.Errorf("close previous log file: %w", err)
		}
	}
	rotator = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
		LocalTime:  true,
	}
	fileLevel.SetLevel(parseLevel(opts.Level))
	rebuildLoggerLocked()
	return nil
}

// SetWriters переназначает консольные потоки (nil - стандартные). Нужен, чтобы логи
// не ломали строку ввода readline.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))

	rebuildLoggerLocked()
}

// Close сбрасывает буферы и закрывает файл логов, если он открыт.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if log != nil {
		_ = log.Sync()
	}
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	rebuildLoggerLocked()
	return err
}

// Logger возвращает текущий zap.Logger, лениво создавая его.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled сообщает, пишет ли консоль debug-записи.
func IsDebugEnabled() bool {
	return consoleLevel.Enabled(zap.DebugLevel)
}

func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет запись уровня Fatal и завершает процесс.
func Fatal(msg string, fields ...zap.Field) {
	l := Logger()
	_ = l.Sync()
	l.Fatal(msg, fields...)
}

func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
