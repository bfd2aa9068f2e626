// Package app - верхний уровень сборки панели управления ботом.
// Здесь связываются конфигурация, хранилище сессии, HTTP-клиент бэкенда и контроллер сессии,
// после чего Runner запускает консоль и (опционально) веб-панель и обеспечивает корректный shutdown.
package app

import (
	"context"

	"botpanel/internal/adapters/panelapi"
	"botpanel/internal/domain/session"
	"botpanel/internal/infra/config"
	"botpanel/internal/infra/logger"
	"botpanel/internal/infra/pr"
	"botpanel/internal/infra/storage"
	"botpanel/internal/support/version"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// App агрегирует зависимости панели и управляет их связью.
type App struct {
	cfg        *config.Config          // Конфигурация приложения.
	mainCtx    context.Context         // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc      // Инициирует отмену mainCtx.
	store      *storage.BoltTokenStore // Сохранённый токен оператора.
	ctrl       *session.Controller     // Контроллер сессии: единственный владелец состояния.
	runner     *Runner                 // Оркестратор жизненного цикла консоли и веб-панели.
}

const msgSessionExpired = "Session expired. Use 'login' to sign in again."

// NewApp создаёт каркас приложения. Фактическая инициализация выполняется в Init().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc, cfg *config.Config) *App {
	return &App{
		cfg:        cfg,
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Init открывает хранилище сессии и собирает контроллер с HTTP-клиентом бэкенда.
func (a *App) Init() error {
	env := a.cfg.Env
	logger.Info("Bot panel initializing...",
		zap.String("version", version.Version),
		zap.String("api_url", env.APIURL),
	)

	store, err := storage.OpenBoltTokenStore(env.SessionFile)
	if err != nil {
		return errors.Wrap(err, "open session store")
	}
	a.store = store

	a.ctrl, _ = session.Wire(
		panelapi.Options{
			BaseURL: env.APIURL,
			Timeout: env.RequestTimeout,
			RPS:     env.RequestRPS,
		},
		store,
		session.Options{
			PollInterval: env.PollInterval,
			OnExpired:    func() { pr.ErrPrintln(msgSessionExpired) },
		},
	)
	a.runner = NewRunner(a.mainCtx, a.mainCancel, a.cfg, a.ctrl)
	return nil
}

// Run запускает Runner и блокируется до остановки приложения.
// После возврата хранилище сессии закрыто.
func (a *App) Run() error {
	if a.runner == nil {
		return errors.New("app is not initialized")
	}
	defer a.close()
	return a.runner.Run()
}

func (a *App) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logger.Error("failed to close session store", zap.Error(err))
	}
}
