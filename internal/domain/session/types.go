package session

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"botpanel/internal/adapters/panelapi"
	"botpanel/internal/domain/panel"
)

// ViewState - какой экран показывать оператору.
type ViewState int

const (
	// Unauthenticated - нет токена: форма входа.
	Unauthenticated ViewState = iota
	// LoginPending - оператор вошёл, но бот-аккаунт не залогинен в Telegram: шаги входа по коду.
	LoginPending
	// LoginComplete - полный дашборд.
	LoginComplete
)

func (v ViewState) String() string {
	switch v {
	case Unauthenticated:
		return "unauthenticated"
	case LoginPending:
		return "login-pending"
	case LoginComplete:
		return "login-complete"
	default:
		return "unknown"
	}
}

// LoginFlow - стадия двухшагового входа бот-аккаунта.
type LoginFlow int

const (
	FlowIdle LoginFlow = iota
	FlowCodeRequested
)

// Level - уровень уведомления для адаптеров.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notice - результат пользовательского действия, который адаптер показывает один раз.
// Нулевое значение означает «ничего не произошло» (оператор отказался в подтверждении).
type Notice struct {
	Level Level
	Title string
	Text  string
	Err   error
}

// IsZero сообщает, что показывать нечего.
func (n Notice) IsZero() bool { return n.Level == "" }

// ConfirmFunc спрашивает оператора. false - отказ, действие не выполняется.
type ConfirmFunc func(title, text string) bool

// Credentials - учётные данные оператора панели.
type Credentials struct {
	Username string
	Password string
}

// Snapshot - неизменяемая копия состояния для отрисовки.
type Snapshot struct {
	View        ViewState
	Status      *panel.BotStatus
	Draft       *panel.Configuration
	Dirty       bool
	History     []panel.HistoryEntry
	LoginState  panel.LoginState
	Flow        LoginFlow
	FlowError   string
	Error       string
	Loading     bool
	LastRefresh time.Time
}

// API - операции бэкенда, которые нужны контроллеру. Реализуется *panelapi.Client.
type API interface {
	Auth(ctx context.Context, token string) (panelapi.MessageResponse, error)
	Status(ctx context.Context) (panel.BotStatus, error)
	Config(ctx context.Context) (panel.Configuration, []byte, error)
	SaveConfig(ctx context.Context, body []byte) (panelapi.MessageResponse, error)
	History(ctx context.Context) ([]panel.HistoryEntry, error)
	Toggle(ctx context.Context) (panelapi.MessageResponse, error)
	Reset(ctx context.Context) (panelapi.MessageResponse, error)
	Process(ctx context.Context) (panelapi.MessageResponse, error)
	BotStatus(ctx context.Context) (panel.LoginState, error)
	RequestLoginCode(ctx context.Context) (panelapi.MessageResponse, error)
	SubmitLoginCode(ctx context.Context, code string) (panelapi.MessageResponse, error)
}

var _ API = (*panelapi.Client)(nil)

var (
	ErrNotAuthenticated   = errors.New("not logged in")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoDraft            = errors.New("configuration is not loaded yet")
	ErrCodeNotRequested   = errors.New("login code was not requested")
	ErrDisposed           = errors.New("controller is disposed")
)

// Тексты уведомлений и подтверждений.
const (
	titleSuccess = "Success"
	titleError   = "Error"
	titleInfo    = "Info"

	ConfirmSaveTitle  = "Save settings"
	ConfirmSaveText   = "Are you sure you want to update all settings?"
	ConfirmResetTitle = "Reset database"
	ConfirmResetText  = "Run history will be deleted. Continue?"

	textSaveFailed    = "Failed to update settings"
	textToggleFailed  = "Failed to change bot state"
	textResetFailed   = "Failed to reset database"
	textProcessFailed = "Failed to process channels"
	textStatusFailed  = "Failed to fetch bot status"
	textConfigFailed  = "Failed to fetch configuration"
	textLoginStart    = "Could not start login"
	textLoginFailed   = "Login failed"
)
