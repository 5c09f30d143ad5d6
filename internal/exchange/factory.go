package exchange

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SupportedExchanges - список поддерживаемых live бирж
var SupportedExchanges = []string{
	"bybit",
}

// NewLiveExchange создает live коннектор биржи по имени
//
// Пустое имя трактуется как bybit.
func NewLiveExchange(name, apiKey, secretKey string, logger *zap.Logger) (Exchange, error) {
	name = strings.ToLower(name)

	switch name {
	case "", "bybit":
		return NewBybit(apiKey, secretKey, logger), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}
