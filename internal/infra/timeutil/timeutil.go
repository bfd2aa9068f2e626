// Пакет timeutil содержит служебные функции для работы со временем:
// разбор таймзон (IANA или UTC-смещение) и меток времени, которые присылает бэкенд бота.
package timeutil

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DisplayLayout - формат отображения меток времени в консоли и веб-панели.
const DisplayLayout = "02.01.2006 15:04:05"

// backendLayouts - форматы created_at, встречающиеся в ответах бэкенда. SQLite CURRENT_TIMESTAMP
// хранит время в UTC без зоны; ISO-варианты появляются при сериализации через pydantic.
var backendLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	time.RFC3339,
	time.RFC3339Nano,
}

var offsetRe = regexp.MustCompile(`^([+-])\s*(\d{1,2})(?::?(\d{2}))?$`)

// ParseLocation разбирает либо IANA‑таймзону ("Europe/Istanbul"),
// либо UTC‑смещение ("+03:00", "-0700", "UTC+3", "GMT-04:30").
func ParseLocation(value string) (*time.Location, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("empty timezone")
	}
	if loc, err := time.LoadLocation(v); err == nil {
		return loc, nil
	}
	if loc, ok := ParseUTCOffsetToLocation(v); ok {
		return loc, nil
	}
	return nil, fmt.Errorf("invalid timezone %q: not an IANA name or UTC offset", value)
}

// ParseUTCOffsetToLocation парсит "+03:00", "-0700", "UTC+3", "GMT-04:30" или "Z"
// и возвращает фиксированную зону.
func ParseUTCOffsetToLocation(value string) (*time.Location, bool) {
	v := strings.TrimSpace(strings.ToUpper(value))
	if v == "Z" || v == "UTC" || v == "GMT" {
		return time.FixedZone("UTC+00:00", 0), true
	}
	v = strings.TrimPrefix(v, "UTC")
	v = strings.TrimPrefix(v, "GMT")
	v = strings.TrimSpace(v)

	m := offsetRe.FindStringSubmatch(v)
	if m == nil {
		return nil, false
	}
	sign := 1
	if m[1] == "-" {
		sign = -1
	}
	hours, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	mins := 0
	if m[3] != "" {
		if mins, err = strconv.Atoi(m[3]); err != nil {
			return nil, false
		}
	}
	if hours > 14 || mins > 59 {
		return nil, false
	}
	const (
		secInHour = 60 * 60
		secInMin  = 60
	)
	offset := sign * (hours*secInHour + mins*secInMin)
	return time.FixedZone(fmt.Sprintf("UTC%+03d:%02d", sign*hours, mins), offset), true
}

// ParseBackendTime разбирает created_at из истории запусков. Метки без зоны считаются UTC.
func ParseBackendTime(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range backendLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}

// FormatBackendTime приводит created_at к DisplayLayout в зоне loc.
// Если разобрать не удалось, возвращает исходную строку: лента истории не должна падать из-за формата.
func FormatBackendTime(value string, loc *time.Location) string {
	t, err := ParseBackendTime(value)
	if err != nil {
		return value
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayLayout)
}

// logLayouts - форматы поля time в NDJSON-логе zap.
var logLayouts = []string{
	"2006-01-02T15:04:05.999Z0700",
	"2006-01-02T15:04:05Z0700",
	time.RFC3339,
	time.RFC3339Nano,
}

// NormalizeLogTimestamp приводит метку времени из файла лога к DisplayLayout в зоне loc.
// Нераспознанная строка возвращается как есть.
func NormalizeLogTimestamp(value string, loc *time.Location) string {
	if value == "" {
		return ""
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range logLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.In(loc).Format(DisplayLayout)
		}
	}
	return value
}
