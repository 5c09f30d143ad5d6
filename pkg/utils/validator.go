package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - валидация входных данных
//
// Проверка торговых символов, числовых параметров и учетных данных
// биржи до того, как они попадут в движок. Все функции чистые,
// возвращают error с описанием проблемы или nil.

// Ошибки валидации
var (
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrInvalidVolume    = errors.New("invalid volume")
	ErrInvalidLeverage  = errors.New("invalid leverage")
	ErrInvalidStopLoss  = errors.New("invalid stop loss")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrInvalidAPIKey    = errors.New("invalid api key")
	ErrInvalidAPISecret = errors.New("invalid api secret")
)

var (
	symbolRe = regexp.MustCompile(`^[A-Za-z0-9]+([-_/][A-Za-z0-9]+)?$`)
	emailRe  = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	apiKeyRe = regexp.MustCompile(`^[A-Za-z0-9\-_]+$`)
)

// Известные котируемые валюты для разбора слитных символов (BTCUSDT)
var knownQuotes = []string{"USDT", "USDC", "BUSD", "BTC", "ETH"}

// ============ Символы ============

// ValidateSymbol проверяет формат торгового символа.
//
// Допустимы формы BTCUSDT, BTC/USDT, BTC-USDT, BTC_USDT,
// от 2 до 30 символов.
func ValidateSymbol(symbol string) error {
	if len(symbol) < 2 || len(symbol) > 30 {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	if !symbolRe.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// IsValidSymbol - краткая форма ValidateSymbol
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

// NormalizeSymbol приводит символ к внутреннему формату BASE/QUOTE
//
// "btc-usdt", "BTC_USDT" и "btcusdt" становятся "BTC/USDT".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("-", "/", "_", "/").Replace(s)
	if strings.Contains(s, "/") {
		return s
	}
	// Слитный формат: отделяем известную котируемую валюту
	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)] + "/" + quote
		}
	}
	return s
}

// ExtractBaseCurrency возвращает базовую валюту символа ("BTC/USDT" -> "BTC")
func ExtractBaseCurrency(symbol string) string {
	s := NormalizeSymbol(symbol)
	if i := strings.Index(s, "/"); i > 0 {
		return s[:i]
	}
	return s
}

// ExtractQuoteCurrency возвращает котируемую валюту символа ("BTC/USDT" -> "USDT")
func ExtractQuoteCurrency(symbol string) string {
	s := NormalizeSymbol(symbol)
	if i := strings.Index(s, "/"); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	return ""
}

// ============ Числовые параметры ============

// ValidateVolume проверяет объем: положительный и в разумных пределах
func ValidateVolume(volume float64) error {
	if volume <= 0 || volume > 1e9 {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, volume)
	}
	return nil
}

// ValidateLeverage проверяет плечо: от 1x до 100x
func ValidateLeverage(leverage int) error {
	if leverage < 1 || leverage > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidLeverage, leverage)
	}
	return nil
}

// ValidateStopLoss проверяет stop loss в процентах: (0, 100]
func ValidateStopLoss(sl float64) error {
	if sl <= 0 || sl > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidStopLoss, sl)
	}
	return nil
}

// ValidatePercentage проверяет процентное значение: [0, 100]
func ValidatePercentage(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("invalid percentage: %v", pct)
	}
	return nil
}

// ============ Учетные данные ============

// ValidateEmail проверяет формат email
func ValidateEmail(email string) error {
	if email == "" || !emailRe.MatchString(email) {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}

// IsValidEmail - краткая форма ValidateEmail
func IsValidEmail(email string) bool {
	return ValidateEmail(email) == nil
}

// ValidateAPIKey проверяет API ключ биржи: минимум 16 символов,
// только буквы, цифры, дефисы и подчеркивания
func ValidateAPIKey(apiKey string) error {
	if len(apiKey) < 16 {
		return fmt.Errorf("%w: too short", ErrInvalidAPIKey)
	}
	if !apiKeyRe.MatchString(apiKey) {
		return fmt.Errorf("%w: invalid characters", ErrInvalidAPIKey)
	}
	return nil
}

// IsValidAPIKey - краткая форма ValidateAPIKey
func IsValidAPIKey(apiKey string) bool {
	return ValidateAPIKey(apiKey) == nil
}

// ValidateAPISecret проверяет секретный ключ: минимум 16 символов.
// Спецсимволы допустимы, биржи их используют.
func ValidateAPISecret(secret string) error {
	if len(secret) < 16 {
		return fmt.Errorf("%w: too short", ErrInvalidAPISecret)
	}
	return nil
}

// ============ Накопитель ошибок ============

// ValidationError - ошибка валидации одного поля
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors накапливает ошибки валидации нескольких полей
type ValidationErrors []ValidationError

// Add добавляет ошибку по полю
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку, если она не nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors сообщает, накоплены ли ошибки
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}
