// Пакет config собирает операционную конфигурацию панели управления ботом:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует значения, подставляя дефолты,
//  3. копит предупреждения о подставленных значениях, чтобы вывести их после инициализации логгера.
//
// Настройки самого бота (каналы, интервал, комиссия) здесь не живут: они принадлежат бэкенду
// и редактируются через /api/config.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"botpanel/internal/infra/timeutil"
)

// EnvConfig описывает параметры запуска панели.
type EnvConfig struct {
	APIURL          string // базовый URL бэкенда бота, без завершающего "/"
	Username        string // имя оператора для Basic-токена
	SessionFile     string // bbolt-файл с сохранённым токеном
	PollInterval    time.Duration
	RequestTimeout  time.Duration
	RequestRPS      int
	AppTimezone     string
	AppLocation     *time.Location
	LogLevel        string
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
	// Web Server
	WebServerEnable  bool
	WebServerAddress string
}

// Config хранит снимок окружения и накопленные предупреждения. После Load не меняется.
type Config struct {
	Env      EnvConfig
	warnings []string
}

const (
	defaultUsername          = "admin"
	defaultSessionFile       = "data/panel_session.bbolt"
	defaultPollIntervalSec   = 30
	defaultRequestTimeoutSec = 15
	defaultRequestRPS        = 5
	defaultAppTimezone       = "UTC"
	defaultLogLevel          = "info"
	// Файловое логирование (LOG_FILE не имеет дефолта)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 20
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
	// Web Server
	defaultWebServerEnable  = false
	defaultWebServerAddress = "127.0.0.1:8090"
)

// ErrMissingAPIURL возвращается, если PANEL_API_URL не задан.
var ErrMissingAPIURL = errors.New("env PANEL_API_URL must be set")

// Load читает .env по пути envPath и окружение процесса. Отсутствующий .env не фатален:
// переменные могут прийти из окружения контейнера, об этом пишется предупреждение.
func Load(envPath string) (*Config, error) {
	var warnings []string
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			appendWarningf(&warnings, "failed to load %s: %v; using process environment", envPath, err)
		}
	}
	cfg, err := fromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	cfg.warnings = append(warnings, cfg.warnings...)
	return cfg, nil
}

// fromEnv строит Config по функции чтения переменных. Удобно для тестов без глобального окружения.
func fromEnv(getenv func(string) string) (*Config, error) {
	var warnings []string

	apiURL, err := sanitizeAPIURL(getenv("PANEL_API_URL"))
	if err != nil {
		return nil, err
	}

	username := sanitizeString("PANEL_USERNAME", getenv("PANEL_USERNAME"), defaultUsername, &warnings)
	sessionFile := sanitizeString("PANEL_SESSION_FILE", getenv("PANEL_SESSION_FILE"), defaultSessionFile, &warnings)
	pollSec := parseIntDefault(getenv, "PANEL_POLL_INTERVAL_SEC", defaultPollIntervalSec, greaterThanZero, &warnings)
	timeoutSec := parseIntDefault(getenv, "PANEL_REQUEST_TIMEOUT_SEC", defaultRequestTimeoutSec, greaterThanZero, &warnings)
	rps := parseIntDefault(getenv, "PANEL_REQUEST_RPS", defaultRequestRPS, greaterThanZero, &warnings)
	logLevel := sanitizeLogLevel("LOG_LEVEL", getenv("LOG_LEVEL"), defaultLogLevel, &warnings)

	appTimezone := strings.TrimSpace(getenv("APP_TIMEZONE"))
	if appTimezone == "" {
		appendWarningf(&warnings, "env APP_TIMEZONE is not set; using default %q", defaultAppTimezone)
		appTimezone = defaultAppTimezone
	}
	loc, locErr := timeutil.ParseLocation(appTimezone)
	if locErr != nil {
		appendWarningf(&warnings, "env APP_TIMEZONE value %q is invalid; using default %q", appTimezone, defaultAppTimezone)
		appTimezone = defaultAppTimezone
		loc = time.UTC
	}

	logFile := strings.TrimSpace(getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel("LOG_FILE_LEVEL", getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault(getenv, "LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault(getenv, "LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault(getenv, "LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault(getenv, "LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	webEnable := parseBoolDefault(getenv, "WEB_SERVER_ENABLE", defaultWebServerEnable, &warnings)
	webAddr := sanitizeString("WEB_SERVER_ADDRESS", getenv("WEB_SERVER_ADDRESS"), defaultWebServerAddress, &warnings)

	return &Config{
		Env: EnvConfig{
			APIURL:            apiURL,
			Username:          username,
			SessionFile:       sessionFile,
			PollInterval:      time.Duration(pollSec) * time.Second,
			RequestTimeout:    time.Duration(timeoutSec) * time.Second,
			RequestRPS:        rps,
			AppTimezone:       appTimezone,
			AppLocation:       loc,
			LogLevel:          logLevel,
			LogFile:           logFile,
			LogFileLevel:      logFileLevel,
			LogFileMaxSize:    logFileMaxSize,
			LogFileMaxBackups: logFileMaxBackups,
			LogFileMaxAge:     logFileMaxAge,
			LogFileCompress:   logFileCompress,
			WebServerEnable:   webEnable,
			WebServerAddress:  webAddr,
		},
		warnings: warnings,
	}, nil
}

// Warnings возвращает копию предупреждений, накопленных при загрузке.
func (c *Config) Warnings() []string {
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// sanitizeAPIURL требует абсолютный http(s) URL и срезает завершающий слэш,
// чтобы конкатенация с "/api/..." не давала "//".
func sanitizeAPIURL(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", ErrMissingAPIURL
	}
	u, err := url.Parse(v)
	if err != nil {
		return "", errors.Wrapf(err, "env PANEL_API_URL value %q", v)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", errors.Errorf("env PANEL_API_URL must be an absolute http(s) URL, got %q", v)
	}
	return strings.TrimRight(v, "/"), nil
}

func parseIntDefault(getenv func(string) string, name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

func parseBoolDefault(getenv func(string) string, name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel ограничивает уровень набором {debug, info, warn, error}.
func sanitizeLogLevel(name, level, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	switch lvl {
	case "":
		appendWarningf(warnings, "env %s is not set; using default %q", name, defaultVal)
		return defaultVal
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, level, defaultVal)
		return defaultVal
	}
}

func sanitizeString(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }
