package panel

import "strings"

// Badge - подпись и CSS-класс бейджа статуса.
type Badge struct {
	Label string
	Class string
}

var botBadges = map[BotState]Badge{
	BotActive:   {Label: "ACTIVE", Class: "badge-active"},
	BotInactive: {Label: "INACTIVE", Class: "badge-inactive"},
}

// Badge возвращает бейдж статуса бота. Неизвестный статус показывается заглавными буквами
// на нейтральном фоне.
func (s BotState) Badge() Badge {
	if b, ok := botBadges[s]; ok {
		return b
	}
	return Badge{Label: strings.ToUpper(string(s)), Class: "badge-unknown"}
}

var loginBadges = map[LoginState]Badge{
	LoginLoggedIn:  {Label: "Logged in", Class: "badge-active"},
	LoginLoggedOut: {Label: "Not logged in", Class: "badge-inactive"},
}

// Badge возвращает бейдж входа бот-аккаунта. Всё, кроме logged_in, - «не вошёл».
func (s LoginState) Badge() Badge {
	if b, ok := loginBadges[s]; ok {
		return b
	}
	return Badge{Label: "Not logged in", Class: "badge-inactive"}
}

// HistoryIcon - символ для консоли и CSS-класс для веб-ленты.
type HistoryIcon struct {
	Symbol string
	Class  string
}

var historyIcons = map[HistoryStatus]HistoryIcon{
	HistorySuccess: {Symbol: "✔", Class: "hist-success"},
	HistoryError:   {Symbol: "✖", Class: "hist-error"},
	HistoryInfo:    {Symbol: "↻", Class: "hist-info"},
}

// Icon возвращает иконку записи истории; для неизвестного статуса - серый крест.
func (s HistoryStatus) Icon() HistoryIcon {
	if i, ok := historyIcons[s]; ok {
		return i
	}
	return HistoryIcon{Symbol: "✖", Class: "hist-unknown"}
}
