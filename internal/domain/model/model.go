// Package model — основные сущности из §3 спецификации: Operator, Account,
// Target, GlobalPolicy, CycleSession. Грунтуется на полях, которыми
// оперируют original_source/bot_manager.py и multi_user.py, но представлен
// как типизированные Go-структуры вместо динамических dict.
package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ForwardMode — режим пересылки сообщения (§4.2).
type ForwardMode int

const (
	// ModePreserveOriginal сохраняет атрибуцию и уведомление получателя.
	ModePreserveOriginal ForwardMode = iota + 1
	// ModeSilent сохраняет атрибуцию, но подавляет уведомление.
	ModeSilent
	// ModeAsCopy репостит содержимое заново, без форвард-заголовка.
	ModeAsCopy
)

// String возвращает каноническую цифровую строку ("1"|"2"|"3"), как того
// требует формат персистентного документа (§6).
func (m ForwardMode) String() string {
	switch m {
	case ModeSilent:
		return "2"
	case ModeAsCopy:
		return "3"
	default:
		return "1"
	}
}

// ParseForwardMode разбирает строку формата документа. Неизвестное значение
// трактуется как PRESERVE_ORIGINAL (B2).
func ParseForwardMode(s string) ForwardMode {
	switch strings.TrimSpace(s) {
	case "2":
		return ModeSilent
	case "3":
		return ModeAsCopy
	default:
		return ModePreserveOriginal
	}
}

// OperatorRole различает главного оператора от вторичных.
type OperatorRole int

const (
	RolePrimary OperatorRole = iota
	RoleSecondary
)

// Operator — принципал, управляющий admin-ботом (§3).
type Operator struct {
	OperatorID int64
	Role       OperatorRole
}

// GlobalPolicy — процесс-уровневые настройки по умолчанию (§3).
type GlobalPolicy struct {
	AutoStartForwarding bool
	SkipConfirmation    bool
	// ConcurrentUsers не несёт поведенческого эффекта в движке (воркеры всегда
	// независимы, §9 Open Questions); хранится только ради совместимости формата.
	ConcurrentUsers   bool
	DefaultDelay      time.Duration
	DefaultForwardMode ForwardMode
}

// DefaultGlobalPolicy — значения по умолчанию для свежеинициализированного процесса.
func DefaultGlobalPolicy() GlobalPolicy {
	return GlobalPolicy{
		AutoStartForwarding: true,
		SkipConfirmation:    false,
		ConcurrentUsers:     true,
		DefaultDelay:        60 * time.Second,
		DefaultForwardMode:  ModePreserveOriginal,
	}
}

// Target — одна цель пересылки, привязанная к одному Account (§3).
type Target struct {
	URL      string
	Active   bool
	AddedAt  time.Time
}

// Account — аккаунт Telegram-пользователя, от имени которого работает движок (§3).
type Account struct {
	AccountID           string // десятичная строка, равна APIID
	APIID               int
	APIHash             string
	Phone               string
	SessionFile         string
	Start               bool
	AutoStartForwarding bool
	Delay               time.Duration
	ForwardMode         ForwardMode
	ModeSet             bool
	ExpiryDate          *time.Time // nil означает "unlimited"
	LastUpdated         time.Time

	Targets []Target
}

// IsExpired сообщает, истёк ли срок аккаунта относительно момента now (§3).
func (a *Account) IsExpired(now time.Time) bool {
	if a.ExpiryDate == nil {
		return false
	}
	return now.After(*a.ExpiryDate)
}

// EffectiveStart возвращает, должен ли воркер аккаунта работать — с учётом
// инварианта «account с is_expired=true трактуется как start=false» (§3).
func (a *Account) EffectiveStart(now time.Time) bool {
	return a.Start && !a.IsExpired(now)
}

// ActiveTargets возвращает снимок целей с active=true, в порядке вставки (§4.5).
func (a *Account) ActiveTargets() []Target {
	out := make([]Target, 0, len(a.Targets))
	for _, t := range a.Targets {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// minDelay — нижняя граница задержки между пересылками (B1).
const minDelay = 1 * time.Second

var delayPartRe = regexp.MustCompile(`(?i)(\d+)\s*([hms])`)

// ParseDelay разбирает строку вида "[Nh][ Nm][ Ns]" (любой поднабор, любой
// порядок, регистронезависимо) в time.Duration. Голое целое — секунды.
// Пустая строка, "0" или мусор — падают на минимальный порог в 1с (B1).
func ParseDelay(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return minDelay
	}

	// Голое целое число — трактуем как секунды.
	if n, err := strconv.Atoi(s); err == nil {
		d := time.Duration(n) * time.Second
		if d < minDelay {
			return minDelay
		}
		return d
	}

	matches := delayPartRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return minDelay
	}

	var total time.Duration
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}

	if total < minDelay {
		return minDelay
	}
	return total
}

// FormatDelay формирует человекочитаемую строку вида "1h 2m 3s" для записи в
// персистентный документ. Компоненты с нулевым значением опускаются; если вся
// длительность нулевая, возвращает "1s" (минимум по B1).
func FormatDelay(d time.Duration) string {
	if d < minDelay {
		d = minDelay
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

// ExpiryLayout — формат временной метки истечения аккаунта (§6).
const ExpiryLayout = "2006-01-02-15:04:05"

// ParseExpiry разбирает "YYYY-MM-DD-HH:MM:SS" в локальном времени. Пустая
// строка означает unlimited (nil, без ошибки).
func ParseExpiry(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(ExpiryLayout, s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("parse expiry_date %q: %w", s, err)
	}
	return &t, nil
}

// FormatExpiry сериализует истечение в формат документа; nil → пустая строка.
func FormatExpiry(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(ExpiryLayout)
}

// ExpiryPreset — именованные сдвиги для установки expiry_date через admin-бота (§4.7).
type ExpiryPreset string

const (
	ExpiryUnlimited ExpiryPreset = "unlimited"
	ExpiryOneMonth  ExpiryPreset = "+1m"
	ExpiryThreeMonths ExpiryPreset = "+3m"
	ExpirySixMonths ExpiryPreset = "+6m"
	ExpiryOneYear   ExpiryPreset = "+1y"
)

// ResolveExpiryPreset переводит именованный пресет в абсолютную временную
// метку относительно now. ExpiryUnlimited возвращает nil.
func ResolveExpiryPreset(preset ExpiryPreset, now time.Time) *time.Time {
	var t time.Time
	switch preset {
	case ExpiryOneMonth:
		t = now.AddDate(0, 1, 0)
	case ExpiryThreeMonths:
		t = now.AddDate(0, 3, 0)
	case ExpirySixMonths:
		t = now.AddDate(0, 6, 0)
	case ExpiryOneYear:
		t = now.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &t
}

// CycleSession — одноразовая (per worker, per cycle) сводка прохода по целям (§3/§4.8).
type CycleSession struct {
	SessionID      string
	StartTime      time.Time
	EndTime        time.Time
	TotalTargets   int
	Successful     int
	Failed         int
	Errors         []string
	SourcePreview  string
}

// Duration возвращает продолжительность цикла; если EndTime ещё не выставлен,
// считает до now.
func (c *CycleSession) Duration(now time.Time) time.Duration {
	if c.EndTime.IsZero() {
		return now.Sub(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

var sessionFileDigits = regexp.MustCompile(`[^0-9]`)

// SessionFileName возвращает канонический базовый путь session-файла
// аккаунта: телефон, из которого удалено всё, кроме цифр (в том числе "+",
// пробелы и дефисы), как того требует bot_manager.py's
// _get_session_path (§3a).
func SessionFileName(phone string) string {
	return sessionFileDigits.ReplaceAllString(phone, "") + ".session"
}
