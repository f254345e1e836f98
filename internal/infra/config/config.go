// Пакет config отвечает за сбор и предоставление конфигурации всего процесса
// (супервизора многотенантного форвардера). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. предоставляет потокобезопасный доступ к результату через R/W мьютекс.
//
// Бизнес-контекст: в отличие от однопользовательского userbot'а, здесь .env несёт
// только процесс-уровневые настройки — где лежат персистентные документы (§4.6),
// токен и ID главного оператора admin-бота (§4.7), уровень логирования и его
// разбивка по синкам (§4.8), параметры ретраев по умолчанию (§4.3) и режим
// авторизации новых аккаунтов (headless через бота или интерактивно с консоли).
// Параметры самих аккаунтов (API ID/hash, телефон, файл сессии) живут в
// персистентном документе credentials, а не в .env — это то, что меняется через
// admin-бота во время работы процесса, а не при его запуске.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env) процесса супервизора.
type EnvConfig struct {
	DataDir           string // корень персистентных документов и файлов сессий
	CredentialsFile   string
	TargetsFile       string
	OperatorsFile     string
	GlobalPolicyFile  string
	SessionsDir       string
	EntityCacheFile   string // bbolt-файл кэша резолва сущностей (§4.1/§4.2)
	LogDir            string
	LogLevel          string
	BotToken          string // токен admin-бота (§4.7)
	PrimaryOperatorID int64  // ID первичного оператора, неотзываемый (§3)
	Headless          bool   // true: зачисление аккаунтов только через admin-бота, без консоли
	RetryBaseSeconds  int    // база экспоненциального бэкоффа, секунды (§4.3)
	RetryMaxAttempts  int    // максимум повторов на одну цель за цикл (§4.3)
	ThrottleRPS       int    // ограничение скорости исходящих сообщений admin-бота
	WatchDebounceMS   int    // задержка дебаунса файлового наблюдателя (§4.5)
	AppTimezone       string // проверяется при загрузке; статистика её не читает и делит сутки по локальному времени процесса
}

// Config хранит конфигурацию процесса.
//
// Потокобезопасность: публичные геттеры берут RLock.
type Config struct {
	Env      EnvConfig
	warnings []string
	mu       sync.RWMutex
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultDataDir           = "data"
	defaultCredentialsFile   = "credentials.json"
	defaultTargetsFile       = "targets.json"
	defaultOperatorsFile     = "operators.json"
	defaultGlobalPolicyFile  = "global_policy.json"
	defaultSessionsSubdir    = "sessions"
	defaultEntityCacheFile   = "entity_cache.bbolt"
	defaultLogDir            = "logs"
	defaultLogLevel          = "info"
	defaultRetryBaseSeconds  = 30
	defaultRetryMaxAttempts  = 3
	defaultThrottleRPS       = 1
	defaultWatchDebounceMS   = 2000
	defaultAppTimezone       = "UTC"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего процесса.
// Повторный вызов запрещён (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	var warnings []string

	if err := godotenv.Load(envPath); err != nil {
		// Процесс-уровневые настройки почти все имеют разумные дефолты, но
		// отсутствие .env-файла всё равно сообщается как предупреждение: в
		// продакшене его отсутствие обычно означает ошибку деплоя.
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
		appendWarningf(&warnings, ".env file %q not found; using the process environment only", envPath)
	}

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set")
	}

	primaryOperatorID, err := parseRequiredInt64("ADMIN_PRIMARY_ID")
	if err != nil {
		return nil, err
	}

	dataDir := sanitizeFile("DATA_DIR", os.Getenv("DATA_DIR"), defaultDataDir, &warnings)
	logDir := sanitizeFile("LOG_DIR", os.Getenv("LOG_DIR"), defaultLogDir, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), &warnings)
	headless := strings.EqualFold(strings.TrimSpace(os.Getenv("TELEGRAM_HEADLESS")), "true")

	retryBase := parseIntDefault("RETRY_BASE_SECONDS", defaultRetryBaseSeconds, greaterThanZero, &warnings)
	retryMax := parseIntDefault("RETRY_MAX_ATTEMPTS", defaultRetryMaxAttempts, greaterThanZero, &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	watchDebounceMS := parseIntDefault("WATCH_DEBOUNCE_MS", defaultWatchDebounceMS, nonNegative, &warnings)
	appTimezone := sanitizeTimezone(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)

	env := EnvConfig{
		DataDir:           dataDir,
		CredentialsFile:   filepath.Join(dataDir, defaultCredentialsFile),
		TargetsFile:       filepath.Join(dataDir, defaultTargetsFile),
		OperatorsFile:     filepath.Join(dataDir, defaultOperatorsFile),
		GlobalPolicyFile:  filepath.Join(dataDir, defaultGlobalPolicyFile),
		SessionsDir:       filepath.Join(dataDir, defaultSessionsSubdir),
		EntityCacheFile:   filepath.Join(dataDir, defaultEntityCacheFile),
		LogDir:            logDir,
		LogLevel:          logLevel,
		BotToken:          botToken,
		PrimaryOperatorID: primaryOperatorID,
		Headless:          headless,
		RetryBaseSeconds:  retryBase,
		RetryMaxAttempts:  retryMax,
		ThrottleRPS:       throttleRPS,
		WatchDebounceMS:   watchDebounceMS,
		AppTimezone:       appTimezone,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton.
func Env() EnvConfig {
	return cfgInstance.Env
}

func parseRequiredInt64(name string) (int64, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
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

func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}.
func sanitizeLogLevel(level string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultLogLevel)
		return defaultLogLevel
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultLogLevel)
		return defaultLogLevel
	}
}

// sanitizeFile возвращает валидный путь. Если переменная не задана, подставляет
// fallback и пишет предупреждение.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// ParseLocation разбирает IANA-таймзону (например, "Europe/Moscow") и
// возвращает *time.Location или ошибку; UTC-смещения вида "+03:00" не
// принимаются. Используется sanitizeTimezone для проверки APP_TIMEZONE.
func ParseLocation(value string) (*time.Location, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("empty timezone")
	}
	if loc, err := time.LoadLocation(v); err == nil {
		return loc, nil
	}
	return nil, fmt.Errorf("invalid timezone %q: not an IANA name", value)
}

// sanitizeTimezone проверяет, что значение — корректная IANA-зона. При неудаче
// возвращает значение по умолчанию и добавляет предупреждение.
func sanitizeTimezone(value string, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env APP_TIMEZONE is not set; using default %q", fallback)
		return fallback
	}
	if _, err := ParseLocation(v); err != nil {
		appendWarningf(warnings, "timezone %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}
