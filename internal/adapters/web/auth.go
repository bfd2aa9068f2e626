package web

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuthManager управляет одноразовыми ссылками входа и сессиями браузера.
// Сессия браузера не связана с токеном бэкенда: она лишь открывает доступ к панели.
type AuthManager struct {
	mu         sync.Mutex
	linkToken  string              // текущий одноразовый токен ссылки
	sessions   map[string]*Session // sessionID -> Session
	sessionTTL time.Duration       // время жизни сессии без активности
	now        func() time.Time
}

// Session представляет активную сессию браузера.
type Session struct {
	ID        string
	CreatedAt time.Time
	LastSeen  time.Time
	flash     *Flash // уведомление, которое покажется при следующей отрисовке
}

// NewAuthManager создаёт менеджер сессий с заданным TTL.
func NewAuthManager(sessionTTL time.Duration) *AuthManager {
	return &AuthManager{
		sessions:   make(map[string]*Session),
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// IssueLinkToken выпускает новый одноразовый токен. Прежние сессии браузера завершаются.
func (am *AuthManager) IssueLinkToken() string {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.linkToken = uuid.New().String()
	am.sessions = make(map[string]*Session)
	return am.linkToken
}

// ConsumeLinkToken проверяет токен ссылки и создаёт сессию. Токен гасится при первом
// успешном использовании.
func (am *AuthManager) ConsumeLinkToken(token string) (string, bool) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if token == "" || am.linkToken == "" || token != am.linkToken {
		return "", false
	}
	am.linkToken = ""
	return am.newSessionLocked(), true
}

// NewSession создаёт сессию после входа через форму.
func (am *AuthManager) NewSession() string {
	am.mu.Lock()
	defer am.mu.Unlock()
	return am.newSessionLocked()
}

func (am *AuthManager) newSessionLocked() string {
	id := uuid.New().String()
	now := am.now()
	am.sessions[id] = &Session{ID: id, CreatedAt: now, LastSeen: now}
	return id
}

// ValidateSession проверяет сессию и продлевает её.
func (am *AuthManager) ValidateSession(sessionID string) bool {
	am.mu.Lock()
	defer am.mu.Unlock()

	sess, exists := am.sessions[sessionID]
	if !exists {
		return false
	}
	if am.now().Sub(sess.LastSeen) > am.sessionTTL {
		delete(am.sessions, sessionID)
		return false
	}
	sess.LastSeen = am.now()
	return true
}

// InvalidateSession удаляет сессию.
func (am *AuthManager) InvalidateSession(sessionID string) {
	am.mu.Lock()
	defer am.mu.Unlock()
	delete(am.sessions, sessionID)
}

// CleanExpiredSessions удаляет истекшие сессии и возвращает их число.
func (am *AuthManager) CleanExpiredSessions() int {
	am.mu.Lock()
	defer am.mu.Unlock()

	removed := 0
	now := am.now()
	for id, sess := range am.sessions {
		if now.Sub(sess.LastSeen) > am.sessionTTL {
			delete(am.sessions, id)
			removed++
		}
	}
	return removed
}

// SetFlash запоминает уведомление для сессии. Новое уведомление заменяет непоказанное.
func (am *AuthManager) SetFlash(sessionID string, f Flash) {
	am.mu.Lock()
	defer am.mu.Unlock()
	if sess, ok := am.sessions[sessionID]; ok {
		sess.flash = &f
	}
}

// PopFlash возвращает и забирает уведомление сессии.
func (am *AuthManager) PopFlash(sessionID string) (Flash, bool) {
	am.mu.Lock()
	defer am.mu.Unlock()
	sess, ok := am.sessions[sessionID]
	if !ok || sess.flash == nil {
		return Flash{}, false
	}
	f := *sess.flash
	sess.flash = nil
	return f, true
}
