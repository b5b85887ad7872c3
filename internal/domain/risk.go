package domain

import (
	"strings"
	"time"
)

// RiskLimits configures a risk manager instance.
type RiskLimits struct {
	MaxDailyLoss    float64 `json:"maxDailyLoss" yaml:"max_daily_loss"`
	MaxPositionSize float64 `json:"maxPositionSize" yaml:"max_position_size"`
	MaxCorrelation  float64 `json:"maxCorrelation" yaml:"max_correlation"`
	MaxVolatility   float64 `json:"maxVolatility" yaml:"max_volatility"`
	MaxDrawdown     float64 `json:"maxDrawdown" yaml:"max_drawdown"`
	CooldownPeriod  Millis  `json:"cooldownPeriodMs" yaml:"cooldown_period_ms"`
}

// Millis is a duration serialized as integer milliseconds.
type Millis int64

// Duration converts m to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// DefaultRiskLimits returns the limits used when none are configured.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxDailyLoss:    1000,
		MaxPositionSize: 10000,
		MaxCorrelation:  0.7,
		MaxVolatility:   0.05,
		MaxDrawdown:     0.15,
		CooldownPeriod:  Millis(5 * time.Minute / time.Millisecond),
	}
}

// RiskMetrics is derived entirely from a trade-history window.
type RiskMetrics struct {
	WinRate         float64   `json:"winRate"`
	AvgWin          float64   `json:"avgWin"`
	AvgLoss         float64   `json:"avgLoss"`
	SharpeRatio     float64   `json:"sharpeRatio"`
	MaxDrawdown     float64   `json:"maxDrawdown"`
	Volatility      float64   `json:"volatility"`
	CorrelationRisk float64   `json:"correlationRisk"`
	TradeCount      int       `json:"tradeCount"`
	ComputedAt      time.Time `json:"computedAt"`
}

// PositionSizeRecommendation is computed fresh for every sizing request.
type PositionSizeRecommendation struct {
	RecommendedSize float64  `json:"recommendedSize"`
	MaxSize         float64  `json:"maxSize"`
	RiskScore       float64  `json:"riskScore"`
	KellyFraction   float64  `json:"kellyFraction"`
	ConfidenceLevel float64  `json:"confidenceLevel"`
	Reasoning       []string `json:"reasoning"`
}

// RiskCheck is the outcome of a portfolio limit check.
type RiskCheck struct {
	WithinLimits    bool     `json:"withinLimits"`
	Violations      []string `json:"violations"`
	Recommendations []string `json:"recommendations"`
}

// Position is an open position as reported by a broker or ledger.
type Position struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entryPrice"`
	OpenedAt   time.Time `json:"openedAt,omitempty"`
}

// Value returns the absolute notional of the position.
func (p Position) Value() float64 {
	v := p.Quantity * p.EntryPrice
	if v < 0 {
		return -v
	}
	return v
}

// AccountInfo is a snapshot of account balances.
type AccountInfo struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buyingPower"`
}

// LedgerTrade is a closed trade as recorded in a trade-history source.
type LedgerTrade struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	PnL            float64   `json:"pnl"`
	InvestedAmount float64   `json:"investedAmount"`
	CreatedAt      time.Time `json:"createdAt"`
}

// LedgerTradeFrom converts a simulated trade into a ledger record stamped
// at the trade's exit.
func LedgerTradeFrom(id string, t SimulatedTrade) LedgerTrade {
	return LedgerTrade{
		ID:             id,
		Symbol:         t.Symbol,
		Side:           t.Side,
		PnL:            t.PnL,
		InvestedAmount: t.Invested(),
		CreatedAt:      t.ExitDate,
	}
}

// cryptoQuotes are the suffixes that mark a symbol as a crypto pair.
var cryptoQuotes = []string{"USD", "USDT", "USDC", "BTC", "ETH"}

// IsCrypto reports whether symbol looks like a crypto pair such as BTCUSD
// or ETH/USDT.
func IsCrypto(symbol string) bool {
	s := strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
	for _, q := range cryptoQuotes {
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return true
		}
	}
	return false
}
