// Package apitest - фейковый бэкенд бота поверх httptest для тестов клиента,
// контроллера сессии и адаптеров. Повторяет маршруты /api/* и их ответы,
// записывает вызовы и позволяет подменять ошибки по маршруту.
package apitest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"botpanel/internal/domain/panel"
)

// DefaultConfigRaw - конфигурация, которую фейк отдаёт по умолчанию. Пробелы и порядок
// ключей нарочно отличаются от json.Marshal: так видно, что неизменённый черновик
// уходит обратно байт в байт.
const DefaultConfigRaw = `{"api_id": 12345, "api_hash": "hash", "phone_number": "+900000000000", ` +
	`"source_channels": ["@src1", "@src2"], "target_channel": "@target", "add_fee": 150, ` +
	`"gemini_api_key": "gem", "is_active": true, "interval_minutes": 30}`

// Backend - состояние фейкового сервера. Поля меняются только через методы.
type Backend struct {
	Server *httptest.Server

	mu         sync.Mutex
	token      string
	status     panel.BotStatus
	configRaw  []byte
	history    []panel.HistoryEntry
	loginState string
	loginCode  string
	failures   map[string]failure
	calls      []string
	bodies     map[string][]byte
	onRequest  func(route string)
}

type failure struct {
	status int
	detail string
}

// New поднимает сервер, принимающий токен token. Сервер закрывается в t.Cleanup.
func New(t testing.TB, token string) *Backend {
	t.Helper()

	b := &Backend{
		token:      token,
		status:     panel.BotStatus{Status: panel.BotActive, Message: "Bot is running"},
		configRaw:  []byte(DefaultConfigRaw),
		loginState: "logged_in",
		loginCode:  "12345",
		failures:   make(map[string]failure),
		bodies:     make(map[string][]byte),
		history: []panel.HistoryEntry{
			{Status: panel.HistorySuccess, Message: "Forwarded 3 posts", CreatedAt: "2024-03-01 10:15:00"},
			{Status: panel.HistoryInfo, Message: "Nothing new", CreatedAt: "2024-03-01 09:45:00"},
		},
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Server.Close)
	return b
}

// URL - базовый адрес сервера.
func (b *Backend) URL() string { return b.Server.URL }

// Fail заставляет маршрут ("POST /api/config/bulk") отвечать status с detail.
func (b *Backend) Fail(route string, status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = failure{status: status, detail: detail}
}

// Heal снимает подменённую ошибку маршрута.
func (b *Backend) Heal(route string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, route)
}

// SetToken меняет принимаемый токен (имитация смены пароля на сервере).
func (b *Backend) SetToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
}

// SetLoginState задаёт ответ /api/bot-status ("logged_in", "not_logged", ...).
func (b *Backend) SetLoginState(state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginState = state
}

// SetConfigRaw задаёт тело ответа /api/config.
func (b *Backend) SetConfigRaw(raw string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configRaw = []byte(raw)
}

// SetStatus задаёт ответ /api/status.
func (b *Backend) SetStatus(st panel.BotStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = st
}

// OnRequest регистрирует хук, вызываемый до обработки каждого запроса (вне мьютекса).
func (b *Backend) OnRequest(fn func(route string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onRequest = fn
}

// Calls возвращает маршруты всех запросов в порядке поступления.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Count - сколько раз вызывался маршрут.
func (b *Backend) Count(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c == route {
			n++
		}
	}
	return n
}

// ResetCalls очищает журнал вызовов.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// LastBody - тело последнего запроса на маршрут.
func (b *Backend) LastBody(route string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.bodies[route]...)
}

// LastAuthorization - заголовок Authorization последнего запроса.
func (b *Backend) LastAuthorization() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.bodies["Authorization"])
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.Path
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	hook := b.onRequest
	b.calls = append(b.calls, route)
	b.bodies[route] = body
	b.bodies["Authorization"] = []byte(r.Header.Get("Authorization"))
	b.mu.Unlock()

	if hook != nil {
		hook(route)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if r.Header.Get("Authorization") != "Basic "+b.token {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect password"})
		return
	}
	if f, ok := b.failures[route]; ok {
		writeJSON(w, f.status, map[string]string{"detail": f.detail})
		return
	}

	switch route {
	case "POST /api/auth":
		writeJSON(w, http.StatusOK, message("success", "Authentication successful"))
	case "GET /api/status":
		writeJSON(w, http.StatusOK, b.status)
	case "GET /api/config":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b.configRaw)
	case "POST /api/config/bulk":
		var cfg panel.Configuration
		if err := json.Unmarshal(body, &cfg); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": []map[string]string{{"msg": err.Error()}}})
			return
		}
		b.configRaw = body
		writeJSON(w, http.StatusOK, message("success", "All settings updated"))
	case "GET /api/history":
		writeJSON(w, http.StatusOK, b.history)
	case "POST /api/toggle":
		msg := "Bot stopped"
		if b.status.Status == panel.BotActive {
			b.status.Status = panel.BotInactive
		} else {
			b.status.Status = panel.BotActive
			msg = "Bot started"
		}
		writeJSON(w, http.StatusOK, message("success", msg))
	case "POST /api/reset":
		b.history = []panel.HistoryEntry{}
		writeJSON(w, http.StatusOK, message("success", "Database reset (settings kept)"))
	case "POST /api/process":
		writeJSON(w, http.StatusOK, message("success", "Processing finished"))
	case "GET /api/bot-status":
		writeJSON(w, http.StatusOK, message(b.loginState, ""))
	case "GET /api/login":
		writeJSON(w, http.StatusOK, message("pending", "Code sent to your phone"))
	case "POST /api/login":
		var req struct {
			Code string `json:"code"`
		}
		_ = json.Unmarshal(body, &req)
		if req.Code != b.loginCode {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Invalid code"})
			return
		}
		b.loginState = "logged_in"
		writeJSON(w, http.StatusOK, message("success", "Bot logged in"))
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	}
}

func message(status, msg string) map[string]string {
	return map[string]string{"status": status, "message": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
