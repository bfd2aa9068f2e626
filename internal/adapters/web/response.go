package web

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"botpanel/internal/domain/session"
	"botpanel/internal/infra/logger"

	"go.uber.org/zap"
)

// Flash - одноразовый баннер с результатом действия.
type Flash struct {
	Level session.Level
	Title string
	Text  string
}

// Class возвращает CSS-классы баннера.
func (f Flash) Class() string {
	switch f.Level {
	case session.LevelSuccess:
		return "bg-green-50 text-green-800 border-green-400"
	case session.LevelError:
		return "bg-red-50 text-red-800 border-red-400"
	default:
		return "bg-blue-50 text-blue-800 border-blue-400"
	}
}

func flashFromNotice(n session.Notice) Flash {
	return Flash{Level: n.Level, Title: n.Title, Text: n.Text}
}

func errorFlash(title string, err error) Flash {
	return Flash{Level: session.LevelError, Title: title, Text: err.Error()}
}

// isHTMX сообщает, что запрос пришёл от htmx.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// redirectHome возвращает браузер на главную: для htmx через HX-Redirect, иначе 303.
func redirectHome(w http.ResponseWriter, r *http.Request) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// writeResponse записывает ответ в ResponseWriter с автоматическим логированием ошибок.
// Автоматически определяет место вызова для отладки.
func writeResponse(w http.ResponseWriter, data []byte) {
	var writeErr error

	if _, writeErr = w.Write(data); writeErr == nil {
		return
	}

	callerLocation := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		if wd, getwdErr := os.Getwd(); getwdErr == nil {
			if rel, relErr := filepath.Rel(wd, file); relErr == nil {
				file = rel
			}
		}
		callerLocation = file + ":" + strconv.Itoa(line)
	}

	logger.Error("failed to write response",
		zap.String("caller", callerLocation),
		zap.Error(writeErr))
}
