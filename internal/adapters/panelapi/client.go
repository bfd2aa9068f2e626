// Package panelapi - типизированный HTTP-клиент бэкенда бота (FastAPI, префикс /api).
//
// Клиент:
//   - подставляет "Authorization: Basic <token>" (токен передаётся как есть) и JSON Content-Type;
//   - ограничивает частоту запросов общим token bucket (x/time/rate);
//   - ровно HTTP 401 превращает в ErrUnauthorized и сообщает о нём через OnUnauthorized;
//   - прочие не-2xx превращает в *RequestError со статусом и полем detail ответа.
//
// Повторов и backoff нет: следующую попытку делает тик опроса или действие оператора.
package panelapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"botpanel/internal/domain/panel"
	"botpanel/internal/infra/logger"
)

const (
	defaultTimeout = 15 * time.Second
	defaultRPS     = 5
	// maxBodyBytes ограничивает чтение ответа: конфигурация и история занимают единицы КБ.
	maxBodyBytes = 4 << 20
)

var (
	// ErrUnauthorized - сервер ответил 401: токен недействителен или отозван.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoToken - запрос с авторизацией без сохранённого токена. Сеть не трогается.
	ErrNoToken = errors.New("no session token")
)

// RequestError - не-2xx ответ, кроме 401.
type RequestError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *RequestError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
}

// MessageResponse - общий ответ бэкенда {status, message}.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Options - параметры клиента.
type Options struct {
	BaseURL string
	Timeout time.Duration
	RPS     int
	// Token возвращает текущий токен сессии ("" - сессии нет).
	Token func() string
	// OnUnauthorized вызывается при 401 с токеном, которым был подписан запрос.
	OnUnauthorized func(token string)
	// HTTPClient заменяет клиент по умолчанию (тесты).
	HTTPClient *http.Client
}

// Client - клиент бэкенда. Потокобезопасен.
type Client struct {
	baseURL        string
	http           *http.Client
	limiter        *rate.Limiter
	token          func() string
	onUnauthorized func(string)
}

// New создаёт клиента. BaseURL ожидается без завершающего "/".
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	tokenFn := opts.Token
	if tokenFn == nil {
		tokenFn = func() string { return "" }
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		http:           hc,
		limiter:        rate.NewLimiter(rate.Limit(rps), rps),
		token:          tokenFn,
		onUnauthorized: opts.OnUnauthorized,
	}
}

// BasicToken строит непрозрачный токен сессии из учётных данных: base64("user:password").
func BasicToken(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// Auth проверяет токен через POST /api/auth. Токен передаётся явно: он ещё не сохранён.
// 401 здесь означает неверный пароль и не вызывает OnUnauthorized.
func (c *Client) Auth(ctx context.Context, token string) (MessageResponse, error) {
	var out MessageResponse
	_, err := c.send(ctx, http.MethodPost, "/api/auth", token, nil, &out, false)
	return out, err
}

// Status - GET /api/status.
func (c *Client) Status(ctx context.Context) (panel.BotStatus, error) {
	var out panel.BotStatus
	_, err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Config - GET /api/config. Возвращает и разобранную модель, и сырое тело ответа:
// неизменённый черновик отправляется обратно байт в байт.
func (c *Client) Config(ctx context.Context) (panel.Configuration, []byte, error) {
	var out panel.Configuration
	raw, err := c.do(ctx, http.MethodGet, "/api/config", nil, &out)
	if err != nil {
		return panel.Configuration{}, nil, err
	}
	return out, raw, nil
}

// SaveConfig - POST /api/config/bulk с готовым JSON-телом (полная замена конфигурации).
func (c *Client) SaveConfig(ctx context.Context, body []byte) (MessageResponse, error) {
	var out MessageResponse
	_, err := c.do(ctx, http.MethodPost, "/api/config/bulk", body, &out)
	return out, err
}

// History - GET /api/history, новые записи первыми.
func (c *Client) History(ctx context.Context) ([]panel.HistoryEntry, error) {
	var out []panel.HistoryEntry
	if _, err := c.do(ctx, http.MethodGet, "/api/history", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []panel.HistoryEntry{}
	}
	return out, nil
}

// Toggle - POST /api/toggle.
func (c *Client) Toggle(ctx context.Context) (MessageResponse, error) {
	return c.postMessage(ctx, "/api/toggle", nil)
}

// Reset - POST /api/reset.
func (c *Client) Reset(ctx context.Context) (MessageResponse, error) {
	return c.postMessage(ctx, "/api/reset", nil)
}

// Process - POST /api/process: один внеочередной прогон каналов.
func (c *Client) Process(ctx context.Context) (MessageResponse, error) {
	return c.postMessage(ctx, "/api/process", nil)
}

// BotStatus - GET /api/bot-status, состояние входа бот-аккаунта.
func (c *Client) BotStatus(ctx context.Context) (panel.LoginState, error) {
	var out MessageResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/bot-status", nil, &out); err != nil {
		return panel.LoginUnknown, err
	}
	return panel.ParseLoginState(out.Status), nil
}

// RequestLoginCode - GET /api/login: бэкенд отправляет код на телефон бот-аккаунта.
func (c *Client) RequestLoginCode(ctx context.Context) (MessageResponse, error) {
	var out MessageResponse
	_, err := c.do(ctx, http.MethodGet, "/api/login", nil, &out)
	return out, err
}

// SubmitLoginCode - POST /api/login {code}.
func (c *Client) SubmitLoginCode(ctx context.Context, code string) (MessageResponse, error) {
	body, err := json.Marshal(struct {
		Code string `json:"code"`
	}{Code: code})
	if err != nil {
		return MessageResponse{}, errors.Wrap(err, "encode login code")
	}
	return c.postMessage(ctx, "/api/login", body)
}

func (c *Client) postMessage(ctx context.Context, path string, body []byte) (MessageResponse, error) {
	var out MessageResponse
	_, err := c.do(ctx, http.MethodPost, path, body, &out)
	return out, err
}

// do выполняет запрос от имени текущей сессии.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) ([]byte, error) {
	token := c.token()
	if token == "" {
		return nil, ErrNoToken
	}
	return c.send(ctx, method, path, token, body, out, true)
}

// send - общий путь: лимитер → запрос → классификация статуса → JSON-разбор.
// notify=false отключает OnUnauthorized (проверка пароля при входе).
func (c *Client) send(ctx context.Context, method, path, token string, body []byte, out any, notify bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Authorization", "Basic "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s %s", method, path)
	}

	logger.Debug("panel api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(started)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if notify && c.onUnauthorized != nil {
			c.onUnauthorized(token)
		}
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &RequestError{Method: method, Path: path, Status: resp.StatusCode, Detail: extractDetail(raw)}
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, errors.Wrapf(err, "decode %s %s", method, path)
		}
	}
	return raw, nil
}

// extractDetail достаёт поле detail из тела ошибки FastAPI. detail бывает строкой
// (HTTPException) или списком (422 валидации); во втором случае возвращается JSON как есть.
func extractDetail(raw []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Detail) == 0 {
		return strings.TrimSpace(string(raw))
	}
	var s string
	if err := json.Unmarshal(payload.Detail, &s); err == nil {
		return s
	}
	return string(payload.Detail)
}
