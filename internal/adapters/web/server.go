// Package web - локальная веб-панель оператора: те же экраны, что и в консоли
// (вход, вход бот-аккаунта, дашборд), поверх общего контроллера сессии.
// Страницы рендерятся html/template, интерактивность на htmx.
package web

import (
	"context"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"botpanel/internal/domain/session"
	"botpanel/internal/infra/concurrency"
	"botpanel/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Controller - операции контроллера сессии, которые использует веб-панель.
type Controller interface {
	Snapshot() session.Snapshot
	Login(ctx context.Context, creds session.Credentials) error
	Logout()
	RefreshAll(ctx context.Context) error
	MutateConfigField(key string, value any) error
	SaveConfig(ctx context.Context, confirm session.ConfirmFunc) session.Notice
	ToggleBot(ctx context.Context) session.Notice
	ResetHistory(ctx context.Context, confirm session.ConfirmFunc) session.Notice
	TriggerProcess(ctx context.Context) session.Notice
	RequestLoginCode(ctx context.Context) error
	SubmitLoginCode(ctx context.Context, code string) error
}

var _ Controller = (*session.Controller)(nil)

// Options - параметры веб-сервера.
type Options struct {
	// Address - адрес прослушивания, например "127.0.0.1:8080".
	Address string
	// SessionTTL - время жизни сессии браузера без активности; 0 - час.
	SessionTTL time.Duration
	// Location - таймзона для меток истории и логов.
	Location *time.Location
	// LogFile - NDJSON-лог панели для страницы /logs; пусто - страница сообщит, что лог не настроен.
	LogFile string
}

// Server - веб-сервер панели.
type Server struct {
	srv       *http.Server
	auth      *AuthManager
	ctrl      Controller
	opts      Options
	tmpl      *template.Template
	logsTmpl  *template.Template
	cleanup   *concurrency.Periodic
	mu        sync.Mutex
	listener  net.Listener
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

const (
	readTimeout  = 15 * time.Second
	writeTimeout = longTimeOut + 10*time.Second
	idleTimeout  = 60 * time.Second

	defaultSessionTTL            = time.Hour
	cleanExpiredSessionsInterval = 3 * time.Minute
)

// NewServer создаёт веб-сервер. Сеть не открывается до Start.
func NewServer(ctrl Controller, opts Options) *Server {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	s := &Server{
		auth:    NewAuthManager(opts.SessionTTL),
		ctrl:    ctrl,
		opts:    opts,
		cleanup: concurrency.NewPeriodic("web-sessions"),
	}
	s.loadTemplates()

	s.srv = &http.Server{
		Addr:         opts.Address,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Handler собирает маршруты панели.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Публичные эндпоинты (без сессии браузера)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	// Защищённые эндпоинты
	protected := r.NewRoute().Subrouter()
	protected.Use(s.authMiddleware)
	protected.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	protected.HandleFunc("/logs", s.handleLogsPage).Methods(http.MethodGet)
	protected.HandleFunc("/partials/status", s.handleStatusPartial).Methods(http.MethodGet)
	protected.HandleFunc("/partials/history", s.handleHistoryPartial).Methods(http.MethodGet)
	protected.HandleFunc("/partials/logs", s.handleLogsPartial).Methods(http.MethodGet)
	protected.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	protected.HandleFunc("/config", s.handleSaveConfig).Methods(http.MethodPost)
	protected.HandleFunc("/config/discard", s.handleDiscardConfig).Methods(http.MethodPost)
	protected.HandleFunc("/toggle", s.handleToggle).Methods(http.MethodPost)
	protected.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	protected.HandleFunc("/process", s.handleProcess).Methods(http.MethodPost)
	protected.HandleFunc("/bot-login/request", s.handleBotLoginRequest).Methods(http.MethodPost)
	protected.HandleFunc("/bot-login/code", s.handleBotLoginCode).Methods(http.MethodPost)

	return loggingMiddleware(r)
}

// Start открывает порт и обслуживает запросы в фоне. Ошибка прослушивания
// возвращается сразу. Повторные вызовы игнорируются.
func (s *Server) Start(ctx context.Context) error {
	var startErr error
	s.onceStart.Do(func() {
		ln, err := net.Listen("tcp", s.opts.Address)
		if err != nil {
			startErr = errors.Wrap(err, "listen web server")
			return
		}
		s.mu.Lock()
		s.listener = ln
		s.mu.Unlock()
		logger.Info("Starting web server", zap.String("address", ln.Addr().String()))

		s.cleanup.Start(ctx, cleanExpiredSessionsInterval, func(context.Context) {
			if n := s.auth.CleanExpiredSessions(); n > 0 {
				logger.Debugf("web: %d expired sessions removed", n)
			}
		})
		s.wg.Go(func() {
			if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("web server error", zap.Error(err))
			}
		})
	})
	return startErr
}

// Shutdown корректно останавливает веб-сервер и фоновую очистку сессий.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.onceStop.Do(func() {
		logger.Info("Shutting down web server...")
		s.cleanup.Stop()
		err = s.srv.Shutdown(ctx)
		s.wg.Wait()
	})
	return err
}

// IssueLink выпускает одноразовую ссылку входа в панель.
func (s *Server) IssueLink() (string, error) {
	host, port, err := net.SplitHostPort(s.addr())
	if err != nil {
		return "", errors.Wrap(err, "parse web server address")
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	token := s.auth.IssueLinkToken()
	logger.Info("Issued one-time dashboard link")

	u := url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(host, port),
		Path:     "/",
		RawQuery: url.Values{"token": {token}}.Encode(),
	}
	return u.String(), nil
}

// addr - фактический адрес после Start, иначе адрес из настроек.
func (s *Server) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Address
}

// handleHealth проверка здоровья сервера
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	writeResponse(w, []byte("OK"))
}

func withSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func sessionIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(sessionIDKey).(string)
	return id
}
