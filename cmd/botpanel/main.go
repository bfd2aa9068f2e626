package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"botpanel/internal/app"
	"botpanel/internal/infra/config"
	"botpanel/internal/infra/logger"
	"botpanel/internal/infra/pr"
	"botpanel/internal/support/version"
)

func main() {
	// envPath определяет расположение .env с адресом бэкенда и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString(version.Name + " " + version.Version + "\n")
		return
	}

	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assigning stdout and stderr", zap.Error(err))
	}

	cfg, err := config.Load(*envPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	// Часовая зона приложения (IANA или UTC‑смещение) влияет глобально на time.Local.
	if cfg.Env.AppLocation != nil {
		time.Local = cfg.Env.AppLocation //nolint:reassign // намеренно задаём часовую зону процесса
	}

	// logger.Init задаёт уровень, а SetWriters перенаправляет выводы в подсистему pr (чтобы логи не ломали приглашение CLI).
	logger.Init(cfg.Env.LogLevel)
	if cfg.Env.LogFile != "" {
		if err := logger.InitFile(logger.FileOptions{
			Path:       cfg.Env.LogFile,
			Level:      cfg.Env.LogFileLevel,
			MaxSizeMB:  cfg.Env.LogFileMaxSize,
			MaxBackups: cfg.Env.LogFileMaxBackups,
			MaxAgeDays: cfg.Env.LogFileMaxAge,
			Compress:   cfg.Env.LogFileCompress,
		}); err != nil {
			logger.Fatal("failed to open log file", zap.Error(err))
		}
	}
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	for _, msg := range cfg.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := app.NewApp(ctx, stop, cfg)
	if initErr := a.Init(); initErr != nil {
		stop()
		logger.Fatal("app init failed", zap.Error(initErr))
	}

	if runErr := a.Run(); runErr != nil {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	stop()
	logger.Info("Graceful shutdown complete")
	_ = logger.Close()
}
