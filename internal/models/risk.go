package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel - уровень риска позиции или портфеля
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// RiskLimits - лимиты риск-менеджера
//
// Доли заданы десятичными дробями (0.10 = 10% портфеля).
type RiskLimits struct {
	MaxPositionSize      decimal.Decimal `json:"max_position_size"`      // доля портфеля на одну позицию
	MaxDailyLoss         decimal.Decimal `json:"max_daily_loss"`         // дневной лимит убытка
	MaxDrawdown          decimal.Decimal `json:"max_drawdown"`           // максимальная просадка от пика
	MaxLeverage          decimal.Decimal `json:"max_leverage"`           // максимальное плечо
	MaxOpenPositions     int             `json:"max_open_positions"`     // число открытых позиций
	MaxCorrelation       decimal.Decimal `json:"max_correlation"`        // доля портфеля на коррелированные активы
	StopLossPct          decimal.Decimal `json:"stop_loss_pct"`          // базовый стоп-лосс
	TakeProfitPct        decimal.Decimal `json:"take_profit_pct"`        // базовый тейк-профит
	MinRiskReward        decimal.Decimal `json:"min_risk_reward"`        // минимальное соотношение риск/прибыль
	MaxConsecutiveLosses int             `json:"max_consecutive_losses"` // подряд убыточных сделок до паузы
	CoolingOffPeriod     time.Duration   `json:"cooling_off_period"`     // пауза после серии убытков
}

// DefaultRiskLimits возвращает консервативные лимиты по умолчанию
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:      decimal.NewFromFloat(0.10),
		MaxDailyLoss:         decimal.NewFromFloat(0.05),
		MaxDrawdown:          decimal.NewFromFloat(0.15),
		MaxLeverage:          decimal.NewFromInt(3),
		MaxOpenPositions:     10,
		MaxCorrelation:       decimal.NewFromFloat(0.30),
		StopLossPct:          decimal.NewFromFloat(0.02),
		TakeProfitPct:        decimal.NewFromFloat(0.06),
		MinRiskReward:        decimal.NewFromFloat(2.0),
		MaxConsecutiveLosses: 5,
		CoolingOffPeriod:     24 * time.Hour,
	}
}

// PositionRisk - риск-срез одной позиции
type PositionRisk struct {
	Symbol        string          `json:"symbol"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	RiskPercent   decimal.Decimal `json:"risk_percent"`
	RiskLevel     RiskLevel       `json:"risk_level"`
	StopLoss      decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit    decimal.Decimal `json:"take_profit,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PortfolioRisk - агрегированный риск-срез портфеля
type PortfolioRisk struct {
	TotalValue        decimal.Decimal `json:"total_value"`
	TotalExposure     decimal.Decimal `json:"total_exposure"`
	UnrealizedPnl     decimal.Decimal `json:"unrealized_pnl"`
	DailyPnl          decimal.Decimal `json:"daily_pnl"`
	MaxDrawdown       decimal.Decimal `json:"max_drawdown"`
	CurrentDrawdown   decimal.Decimal `json:"current_drawdown"`
	VaR95             decimal.Decimal `json:"var_95"`
	SharpeRatio       decimal.Decimal `json:"sharpe_ratio"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	OpenPositions     int             `json:"open_positions"`
	CorrelationRisk   decimal.Decimal `json:"correlation_risk"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	CalculatedAt      time.Time       `json:"calculated_at"`
}
