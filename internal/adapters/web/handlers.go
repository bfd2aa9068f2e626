package web

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"botpanel/internal/domain/panel"
	"botpanel/internal/domain/session"
	"botpanel/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
)

const (
	pageSignIn    = "signin"
	pageBotLogin  = "botlogin"
	pageDashboard = "dashboard"
	pageLogs      = "logs"
)

// pageData - данные для рендеринга страницы.
type pageData struct {
	Title      string
	Page       string
	Flash      *Flash
	LoginError string
	Snap       session.Snapshot
	Fields     []fieldView
}

// fieldView - поле формы настроек.
type fieldView struct {
	Key       string
	Label     string
	Unit      string
	InputType string // number, text, password, checkbox, textarea
	Text      string
	Checked   bool
}

const (
	mediumTimeOut = 30 * time.Second
	longTimeOut   = 120 * time.Second
)

// handleIndex рисует экран по состоянию контроллера: форма входа, вход бот-аккаунта или дашборд.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Snapshot()
	data := pageData{Snap: snap, Flash: s.popFlash(r)}

	switch snap.View {
	case session.Unauthenticated:
		data.Title, data.Page = "Sign in", pageSignIn
	case session.LoginPending:
		data.Title, data.Page = "Bot login", pageBotLogin
	default:
		data.Title, data.Page = "Dashboard", pageDashboard
		data.Fields = buildFieldViews(snap.Draft)
	}
	s.renderPage(w, http.StatusOK, data)
}

// handleLogin - вход через форму: проверяет учётные данные на бэкенде и открывает сессию браузера.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	creds := session.Credentials{
		Username: strings.TrimSpace(r.PostForm.Get("username")),
		Password: r.PostForm.Get("password"),
	}

	ctx, cancel := context.WithTimeout(r.Context(), mediumTimeOut)
	defer cancel()

	if err := s.ctrl.Login(ctx, creds); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, session.ErrInvalidCredentials) {
			status = http.StatusUnauthorized
		}
		logger.Warnf("web login failed: %v", err)
		s.renderPage(w, status, pageData{Title: "Sign in", Page: pageSignIn, LoginError: err.Error()})
		return
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		s.auth.InvalidateSession(cookie.Value)
	}
	s.setSessionCookie(w, s.auth.NewSession())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout стирает сессию бэкенда и закрывает сессию браузера.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Logout()
	s.auth.InvalidateSession(sessionIDFrom(r))
	clearSessionCookie(w)
	redirectHome(w, r)
}

// handleSaveConfig переносит изменённые поля формы в черновик и сохраняет его целиком.
// Подтверждение выполняется в браузере (hx-confirm).
func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	snap := s.ctrl.Snapshot()
	if snap.Draft == nil {
		s.finish(w, r, errorFlash("Failed to update settings", session.ErrNoDraft))
		return
	}
	changes, err := formChanges(r.PostForm, snap.Draft)
	if err != nil {
		s.finish(w, r, errorFlash("Invalid input", err))
		return
	}
	for _, c := range changes {
		if err := s.ctrl.MutateConfigField(c.key, c.value); err != nil {
			s.finish(w, r, errorFlash("Invalid input", err))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), mediumTimeOut)
	defer cancel()
	s.finishNotice(w, r, s.ctrl.SaveConfig(ctx, nil))
}

// handleDiscardConfig отбрасывает несохранённые правки, перечитывая данные с сервера.
func (s *Server) handleDiscardConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), mediumTimeOut)
	defer cancel()
	if err := s.ctrl.RefreshAll(ctx); err != nil {
		logger.Debugf("discard: %v", err)
	}
	redirectHome(w, r)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), mediumTimeOut)
	defer cancel()
	s.finishNotice(w, r, s.ctrl.ToggleBot(ctx))
}

// handleReset очищает историю. Подтверждение выполняется в браузере (hx-confirm).
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), mediumTimeOut)
	defer cancel()
	s.finishNotice(w, r, s.ctrl.ResetHistory(ctx, nil))
}

// handleProcess запускает ручную обработку; она может идти долго.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), longTimeOut)
	defer cancel()
	s.finishNotice(w, r, s.ctrl.TriggerProcess(ctx))
}

// handleBotLoginRequest просит бэкенд отправить код. Ошибка видна на странице как ошибка шага входа.
func (s *Server) handleBotLoginRequest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), mediumTimeOut)
	defer cancel()
	if err := s.ctrl.RequestLoginCode(ctx); err != nil {
		logger.Debugf("bot login request: %v", err)
	}
	redirectHome(w, r)
}

func (s *Server) handleBotLoginCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), mediumTimeOut)
	defer cancel()
	err := s.ctrl.SubmitLoginCode(ctx, strings.TrimSpace(r.PostForm.Get("code")))
	if errors.Is(err, session.ErrCodeNotRequested) {
		s.finish(w, r, errorFlash("Login failed", err))
		return
	}
	redirectHome(w, r)
}

// handleStatusPartial - карточка статуса для htmx-опроса. Данные берутся из снимка,
// свежесть обеспечивает опрос контроллера.
func (s *Server) handleStatusPartial(w http.ResponseWriter, r *http.Request) {
	s.renderPartial(w, "status-card", s.ctrl.Snapshot())
}

func (s *Server) handleHistoryPartial(w http.ResponseWriter, r *http.Request) {
	s.renderPartial(w, "history-card", s.ctrl.Snapshot())
}

// finish сохраняет баннер в сессии браузера и возвращает на главную.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, f Flash) {
	s.auth.SetFlash(sessionIDFrom(r), f)
	redirectHome(w, r)
}

// finishNotice - как finish, но нулевое уведомление баннера не даёт.
func (s *Server) finishNotice(w http.ResponseWriter, r *http.Request, n session.Notice) {
	if n.IsZero() {
		redirectHome(w, r)
		return
	}
	if n.Err != nil {
		logger.Debugf("web action: %v", n.Err)
	}
	s.finish(w, r, flashFromNotice(n))
}

func (s *Server) popFlash(r *http.Request) *Flash {
	if f, ok := s.auth.PopFlash(sessionIDFrom(r)); ok {
		return &f
	}
	return nil
}

func (s *Server) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		logger.Errorf("Error rendering %s: %v", data.Page, err)
	}
}

func (s *Server) renderPartial(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		logger.Errorf("Error rendering %s: %v", name, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

type fieldChange struct {
	key   string
	value any
}

// formChanges сравнивает форму с черновиком и возвращает только изменённые поля в порядке
// отображения. Неизменённые поля не трогаются, чтобы нетронутый черновик ушёл на сервер как есть.
// Отсутствующий флажок означает «выключено»; прочие отсутствующие поля пропускаются.
func formChanges(form url.Values, draft *panel.Configuration) ([]fieldChange, error) {
	var changes []fieldChange
	for _, f := range panel.Fields {
		values, present := form[f.Key]
		text := ""
		switch {
		case present:
			text = values[len(values)-1]
		case f.Kind != panel.FieldBool:
			continue
		}
		if f.Kind == panel.FieldString || f.Kind == panel.FieldInt {
			text = strings.TrimSpace(text)
		}

		value, err := panel.ConvertFieldText(f.Key, text)
		if err != nil {
			return nil, err
		}
		current, err := draft.Value(f.Key)
		if err != nil {
			return nil, err
		}
		if !sameValue(current, value) {
			changes = append(changes, fieldChange{key: f.Key, value: value})
		}
	}
	return changes, nil
}

func sameValue(a, b any) bool {
	as, aok := a.([]string)
	bs, bok := b.([]string)
	if aok || bok {
		return aok && bok && slices.Equal(as, bs)
	}
	return a == b
}

// buildFieldViews готовит поля формы настроек в порядке отображения.
func buildFieldViews(draft *panel.Configuration) []fieldView {
	if draft == nil {
		return nil
	}
	return lo.FilterMap(panel.Fields, func(f panel.Field, _ int) (fieldView, bool) {
		value, err := draft.Value(f.Key)
		if err != nil {
			return fieldView{}, false
		}
		fv := fieldView{Key: f.Key, Label: f.Label, Unit: f.Unit}
		switch v := value.(type) {
		case int:
			fv.InputType, fv.Text = "number", strconv.Itoa(v)
		case bool:
			fv.InputType, fv.Checked = "checkbox", v
		case []string:
			fv.InputType, fv.Text = "textarea", panel.FormatChannels(v)
		case string:
			fv.InputType, fv.Text = "text", v
			if f.Kind == panel.FieldSecret {
				fv.InputType = "password"
			}
		}
		return fv, true
	})
}
