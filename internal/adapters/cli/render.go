package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"botpanel/internal/domain/panel"
	"botpanel/internal/domain/session"
	"botpanel/internal/infra/timeutil"
)

const hintLogin = "Not logged in. Use 'login' to sign in."

// renderView печатает экран, соответствующий состоянию: подсказку входа,
// шаги входа бот-аккаунта или дашборд.
func renderView(w io.Writer, snap session.Snapshot, loc *time.Location) {
	switch snap.View {
	case session.Unauthenticated:
		fmt.Fprintln(w, hintLogin)
		return
	case session.LoginPending:
		if snap.Loading {
			fmt.Fprintln(w, "Loading...")
			return
		}
		renderBotLogin(w, snap)
		return
	}

	if snap.Loading {
		fmt.Fprintln(w, "Loading...")
		return
	}
	if snap.Error != "" {
		fmt.Fprintf(w, "! %s\n", snap.Error)
	}
	renderStatus(w, snap)
	renderConfig(w, snap.Draft, snap.Dirty)
	renderHistory(w, snap.History, loc)
}

// renderBotLogin - экран входа бот-аккаунта в Telegram по коду.
func renderBotLogin(w io.Writer, snap session.Snapshot) {
	badge := snap.LoginState.Badge()
	fmt.Fprintf(w, "Bot account: [%s]\n", badge.Label)
	if snap.LoginState == panel.LoginLoggedIn {
		return
	}
	switch snap.Flow {
	case session.FlowCodeRequested:
		fmt.Fprintln(w, "Enter the code sent to the bot's phone: code <digits>")
	default:
		fmt.Fprintln(w, "The bot is not logged in to Telegram. Use 'code' to request a login code.")
	}
	if snap.FlowError != "" {
		fmt.Fprintf(w, "! %s\n", snap.FlowError)
	}
}

// renderStatus - карточка статуса бота.
func renderStatus(w io.Writer, snap session.Snapshot) {
	if snap.Status == nil {
		fmt.Fprintln(w, "Bot status: <unknown>")
		return
	}
	fmt.Fprintf(w, "Bot status: [%s]\n", snap.Status.Status.Badge().Label)
	for line := range strings.SplitSeq(strings.TrimRight(snap.Status.Message, "\n"), "\n") {
		if line != "" {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

// renderConfig печатает черновик конфигурации. Секреты маскируются.
func renderConfig(w io.Writer, cfg *panel.Configuration, dirty bool) {
	if cfg == nil {
		fmt.Fprintln(w, "Settings: <not loaded>")
		return
	}
	title := "Settings:"
	if dirty {
		title = "Settings (unsaved changes):"
	}
	fmt.Fprintln(w, title)
	for _, f := range panel.Fields {
		value, err := cfg.Value(f.Key)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "  %-18s %s\n", f.Label+":", formatFieldValue(f, value))
	}
}

func formatFieldValue(f panel.Field, value any) string {
	var text string
	switch v := value.(type) {
	case int:
		text = strconv.Itoa(v)
	case bool:
		if v {
			text = "on"
		} else {
			text = "off"
		}
	case []string:
		if len(v) == 0 {
			return "<none>"
		}
		return strings.Join(v, ", ")
	case string:
		text = v
	}
	if f.Kind == panel.FieldSecret {
		text = maskSecret(text)
	}
	if f.Unit != "" {
		text += " " + f.Unit
	}
	return text
}

// maskSecret оставляет видимыми последние четыре символа.
func maskSecret(s string) string {
	const visible = 4
	if s == "" {
		return "<empty>"
	}
	if len(s) <= visible {
		return "****"
	}
	return "****" + s[len(s)-visible:]
}

// renderHistory печатает ленту запусков в порядке сервера.
func renderHistory(w io.Writer, items []panel.HistoryEntry, loc *time.Location) {
	fmt.Fprintln(w, "Run history:")
	if len(items) == 0 {
		fmt.Fprintln(w, "  <empty>")
		return
	}
	for _, item := range items {
		fmt.Fprintf(w, "  %s %s  %s\n",
			item.Status.Icon().Symbol,
			timeutil.FormatBackendTime(item.CreatedAt, loc),
			item.Message,
		)
	}
}
