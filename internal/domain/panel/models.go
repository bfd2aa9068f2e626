// Package panel описывает модели данных панели управления ботом в том виде,
// в котором их отдаёт и принимает бэкенд: статус бота, состояние входа бот-аккаунта,
// конфигурация и лента истории запусков. Здесь же живут таблицы отображения
// (иконки, подписи, классы бейджей) с явной строкой по умолчанию.
package panel

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
)

// BotState - статус бота из /api/status. Неизвестные значения сохраняются как есть.
type BotState string

const (
	BotActive   BotState = "active"
	BotInactive BotState = "inactive"
)

// BotStatus - снимок /api/status.
type BotStatus struct {
	Status  BotState `json:"status"`
	Message string   `json:"message"`
}

// LoginState - состояние входа бот-аккаунта в Telegram (/api/bot-status).
type LoginState string

const (
	LoginUnknown   LoginState = "unknown"
	LoginLoggedIn  LoginState = "logged_in"
	LoginLoggedOut LoginState = "logged_out"
)

// ParseLoginState нормализует сырое значение бэкенда. Бэкенд шлёт "not_logged",
// что соответствует LoginLoggedOut; прочие нераспознанные строки дают LoginUnknown.
func ParseLoginState(raw string) LoginState {
	switch strings.TrimSpace(raw) {
	case "logged_in":
		return LoginLoggedIn
	case "not_logged", "logged_out":
		return LoginLoggedOut
	default:
		return LoginUnknown
	}
}

// HistoryStatus - исход одного запуска в истории.
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "success"
	HistoryError   HistoryStatus = "error"
	HistoryInfo    HistoryStatus = "info"
)

// HistoryEntry - запись /api/history. Порядок ленты задаёт сервер (новые первыми).
type HistoryEntry struct {
	Status    HistoryStatus `json:"status"`
	Message   string        `json:"message"`
	CreatedAt string        `json:"created_at"`
}

// Configuration - настройки бота, которыми владеет бэкенд. Порядок полей повторяет
// модель бэкенда; omitempty не используется: POST /api/config/bulk заменяет всё целиком.
type Configuration struct {
	APIID           int      `json:"api_id"`
	APIHash         string   `json:"api_hash"`
	PhoneNumber     string   `json:"phone_number"`
	SourceChannels  []string `json:"source_channels"`
	TargetChannel   string   `json:"target_channel"`
	AddFee          int      `json:"add_fee"`
	GeminiAPIKey    string   `json:"gemini_api_key"`
	IsActive        bool     `json:"is_active"`
	IntervalMinutes int      `json:"interval_minutes"`
}

// Ключи полей конфигурации (совпадают с JSON-тегами).
const (
	KeyAPIID           = "api_id"
	KeyAPIHash         = "api_hash"
	KeyPhoneNumber     = "phone_number"
	KeySourceChannels  = "source_channels"
	KeyTargetChannel   = "target_channel"
	KeyAddFee          = "add_fee"
	KeyGeminiAPIKey    = "gemini_api_key"
	KeyIsActive        = "is_active"
	KeyIntervalMinutes = "interval_minutes"
)

var (
	// ErrUnknownField - ключ не входит в модель конфигурации.
	ErrUnknownField = errors.New("unknown configuration field")
	// ErrFieldType - значение не того типа, что поле.
	ErrFieldType = errors.New("value type does not match field")
)

// FieldKind - тип поля для ввода и отображения.
type FieldKind int

const (
	FieldInt FieldKind = iota
	FieldString
	FieldSecret
	FieldBool
	FieldList
)

// Field - описание одного редактируемого поля.
type Field struct {
	Key   string
	Label string
	Kind  FieldKind
	Unit  string
}

// Fields - все поля конфигурации в порядке отображения формы.
var Fields = []Field{
	{Key: KeyAPIID, Label: "API ID", Kind: FieldInt},
	{Key: KeyAPIHash, Label: "API Hash", Kind: FieldSecret},
	{Key: KeyPhoneNumber, Label: "Phone number", Kind: FieldString},
	{Key: KeyIsActive, Label: "Bot enabled", Kind: FieldBool},
	{Key: KeyIntervalMinutes, Label: "Run interval", Kind: FieldInt, Unit: "minutes"},
	{Key: KeyAddFee, Label: "Fee", Kind: FieldInt, Unit: "TL"},
	{Key: KeySourceChannels, Label: "Source channels", Kind: FieldList},
	{Key: KeyTargetChannel, Label: "Target channel", Kind: FieldString},
	{Key: KeyGeminiAPIKey, Label: "Gemini API key", Kind: FieldSecret},
}

// LookupField ищет описание поля по ключу.
func LookupField(key string) (Field, bool) {
	return lo.Find(Fields, func(f Field) bool { return f.Key == key })
}

// Clone возвращает глубокую копию (срез каналов не разделяется).
func (c Configuration) Clone() Configuration {
	out := c
	if c.SourceChannels != nil {
		out.SourceChannels = append([]string(nil), c.SourceChannels...)
	}
	return out
}

// Set записывает одно поле по JSON-ключу, последняя запись побеждает.
// Тип value обязан совпадать с типом поля: int, string, bool или []string.
func (c *Configuration) Set(key string, value any) error {
	switch key {
	case KeyAPIID:
		return assign(&c.APIID, key, value)
	case KeyAPIHash:
		return assign(&c.APIHash, key, value)
	case KeyPhoneNumber:
		return assign(&c.PhoneNumber, key, value)
	case KeySourceChannels:
		v, ok := value.([]string)
		if !ok {
			return errors.Wrapf(ErrFieldType, "%s: got %T, want []string", key, value)
		}
		c.SourceChannels = append([]string(nil), v...)
		return nil
	case KeyTargetChannel:
		return assign(&c.TargetChannel, key, value)
	case KeyAddFee:
		return assign(&c.AddFee, key, value)
	case KeyGeminiAPIKey:
		return assign(&c.GeminiAPIKey, key, value)
	case KeyIsActive:
		return assign(&c.IsActive, key, value)
	case KeyIntervalMinutes:
		return assign(&c.IntervalMinutes, key, value)
	default:
		return errors.Wrapf(ErrUnknownField, "%q", key)
	}
}

func assign[T any](dst *T, key string, value any) error {
	v, ok := value.(T)
	if !ok {
		return errors.Wrapf(ErrFieldType, "%s: got %T, want %T", key, value, *dst)
	}
	*dst = v
	return nil
}

// ConvertFieldText переводит текстовый ввод (консоль, веб-форма) в значение нужного типа.
// Это единственная проверка на клиенте: диапазоны не проверяются, их валидирует бэкенд.
func ConvertFieldText(key, text string) (any, error) {
	field, ok := LookupField(key)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownField, "%q", key)
	}
	switch field.Kind {
	case FieldInt:
		v, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return nil, errors.Errorf("%s must be an integer, got %q", key, text)
		}
		return v, nil
	case FieldBool:
		v, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			switch strings.ToLower(strings.TrimSpace(text)) {
			case "on", "yes", "y":
				return true, nil
			case "off", "no", "n", "":
				return false, nil
			}
			return nil, errors.Errorf("%s must be true or false, got %q", key, text)
		}
		return v, nil
	case FieldList:
		return ParseChannels(text), nil
	default:
		return text, nil
	}
}

// Value возвращает текущее значение поля по ключу.
func (c Configuration) Value(key string) (any, error) {
	switch key {
	case KeyAPIID:
		return c.APIID, nil
	case KeyAPIHash:
		return c.APIHash, nil
	case KeyPhoneNumber:
		return c.PhoneNumber, nil
	case KeySourceChannels:
		return append([]string(nil), c.SourceChannels...), nil
	case KeyTargetChannel:
		return c.TargetChannel, nil
	case KeyAddFee:
		return c.AddFee, nil
	case KeyGeminiAPIKey:
		return c.GeminiAPIKey, nil
	case KeyIsActive:
		return c.IsActive, nil
	case KeyIntervalMinutes:
		return c.IntervalMinutes, nil
	default:
		return nil, errors.Wrapf(ErrUnknownField, "%q", key)
	}
}

// ParseChannels разбивает многострочный ввод на список каналов: одна строка - один канал,
// пустые строки отбрасываются, порядок сохраняется. "\r" от браузерных textarea срезается.
func ParseChannels(text string) []string {
	return lo.FilterMap(strings.Split(text, "\n"), func(line string, _ int) (string, bool) {
		v := strings.TrimSpace(line)
		return v, v != ""
	})
}

// FormatChannels - обратная операция для заполнения поля ввода.
func FormatChannels(channels []string) string {
	return strings.Join(channels, "\n")
}
