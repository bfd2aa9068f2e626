package app

import (
	"context"
	"time"

	"botpanel/internal/adapters/cli"
	"botpanel/internal/adapters/web"
	"botpanel/internal/domain/session"
	"botpanel/internal/infra/config"
	"botpanel/internal/infra/logger"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Runner инкапсулирует сценарий запуска и остановки панели:
//   - восстановление сохранённой сессии контроллера,
//   - запуск веб-панели (если включена) и консоли,
//   - корректное завершение в обратном порядке по отмене mainCtx.
type Runner struct {
	cfg        *config.Config
	ctrl       *session.Controller
	mainCtx    context.Context    // Внешний контекст процесса: отменяется по Ctrl+C/сигналам.
	mainCancel context.CancelFunc // Инициирует общий shutdown (exit в консоли).
	cliService *cli.Service       // Консоль оператора.
	webServer  *web.Server        // Веб-панель; nil, если выключена.
}

const (
	webServerShutdownTimeout = 10 * time.Second
	cliCommandTimeout        = 3 * time.Minute
)

// NewRunner подготавливает Runner. Сервисы создаются в Run.
func NewRunner(mainCtx context.Context, mainCancel context.CancelFunc, cfg *config.Config, ctrl *session.Controller) *Runner {
	return &Runner{
		cfg:        cfg,
		ctrl:       ctrl,
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Run запускает сервисы и блокируется до отмены mainCtx.
func (r *Runner) Run() error {
	if err := r.startAllServices(r.mainCtx); err != nil {
		r.stopAllServices()
		return err
	}
	logger.Info("Bot panel running...")

	<-r.mainCtx.Done()
	logger.Debug("Shutdown signal received, stopping runner...")
	r.stopAllServices()
	return nil
}

func (r *Runner) startAllServices(ctx context.Context) error {
	env := r.cfg.Env

	// session_controller
	logger.Debug("starting service session_controller")
	if err := r.ctrl.Start(ctx); err != nil {
		if !errors.Is(err, session.ErrNotAuthenticated) {
			return errors.Wrap(err, "start session controller")
		}
		logger.Info("Saved session was rejected by the backend; login required")
	}
	logger.Debug("service session_controller started")

	// web server (если включен)
	var links cli.LinkIssuer
	if env.WebServerEnable {
		logger.Debug("starting service web_server")
		r.webServer = web.NewServer(r.ctrl, web.Options{
			Address:  env.WebServerAddress,
			Location: env.AppLocation,
			LogFile:  env.LogFile,
		})
		if err := r.webServer.Start(ctx); err != nil {
			return err
		}
		links = r.webServer
		logger.Debug("service web_server started")
	}

	// cli
	logger.Debug("starting service cli")
	r.cliService = cli.NewService(r.ctrl, links, r.mainCancel, cli.Options{
		Username:       env.Username,
		Location:       env.AppLocation,
		CommandTimeout: cliCommandTimeout,
	})
	r.cliService.Start(ctx)
	logger.Debug("service cli started")

	return nil
}

func (r *Runner) stopAllServices() {
	// Останавливаем в обратном порядке

	// cli
	if r.cliService != nil {
		logger.Debug("stopping service cli")
		r.cliService.Stop()
		logger.Debug("service cli stopped")
	}

	// web server
	if r.webServer != nil {
		logger.Debug("stopping service web_server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), webServerShutdownTimeout)
		defer cancel()
		if err := r.webServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop web_server", zap.Error(err))
		}
		logger.Debug("service web_server stopped")
	}

	// session_controller
	logger.Debug("stopping service session_controller")
	r.ctrl.Dispose()
	logger.Debug("service session_controller stopped")
}
