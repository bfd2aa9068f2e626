package web

import (
	"net/http"
	"time"

	"botpanel/internal/infra/logger"

	"go.uber.org/zap"
)

const sessionCookieName = "botpanel_session"

type ctxKey int

const sessionIDKey ctxKey = iota

// authMiddleware пропускает запрос только с действующей сессией браузера.
// Параметр ?token= обменивается на сессию один раз, после чего браузер уходит на / без токена.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get("token"); token != "" {
			sessionID, valid := s.auth.ConsumeLinkToken(token)
			if !valid {
				logger.Warn("Invalid dashboard link token", zap.String("remote", r.RemoteAddr))
				s.renderUnauthorized(w, r, "This link is invalid or has already been used.")
				return
			}
			s.setSessionCookie(w, sessionID)
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			s.renderUnauthorized(w, r, "")
			return
		}
		if !s.auth.ValidateSession(cookie.Value) {
			logger.Debug("Session expired or invalid")
			s.renderUnauthorized(w, r, "")
			return
		}

		// Продлеваем cookie вместе с сессией.
		s.setSessionCookie(w, cookie.Value)
		next.ServeHTTP(w, r.WithContext(withSessionID(r.Context(), cookie.Value)))
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(s.opts.SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// renderUnauthorized отдаёт форму входа с кодом 401. htmx-запросы перенаправляются на /.
func (s *Server) renderUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	logger.Debugf("Unauthorized access: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.renderPage(w, http.StatusUnauthorized, pageData{
		Title:      "Sign in",
		Page:       pageSignIn,
		LoginError: message,
	})
}

// loggingMiddleware логирует все запросы.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
