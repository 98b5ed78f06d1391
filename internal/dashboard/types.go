// Package dashboard is a strictly read-only HTTP/WebSocket status surface
// over the trade bridge's running state — market-update BBOs, risk
// exposure, and recent order responses. It never accepts control input;
// quoting decisions remain entirely inside the trade engine.
package dashboard

import (
	"time"

	"tradebridge/internal/config"
	"tradebridge/pkg/types"
)

// Snapshot represents the complete dashboard state at one instant.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Tickers []TickerStatus `json:"tickers"`

	TotalRealizedPnL   int64 `json:"total_realized_pnl"`
	TotalUnrealizedPnL int64 `json:"total_unrealized_pnl"`

	Risk   RiskStatus    `json:"risk"`
	Config ConfigSummary `json:"config"`
}

// TickerStatus is the per-ticker book and position view.
type TickerStatus struct {
	TickerID    types.TickerId `json:"ticker_id"`
	Symbol      string         `json:"symbol"`
	BestBid     types.Price    `json:"best_bid"`
	BestAsk     types.Price    `json:"best_ask"`
	MidPrice    types.Price    `json:"mid_price"`
	LastUpdated time.Time      `json:"last_updated"`

	Position      int64 `json:"position"`
	AvgCost       int64 `json:"avg_cost"`
	RealizedPnL   int64 `json:"realized_pnl"`
	UnrealizedPnL int64 `json:"unrealized_pnl"`
}

// RiskStatus is the aggregate risk-gate view, per spec.md §4.7's
// portfolio-wide invariants.
type RiskStatus struct {
	DailyLoss       int64 `json:"daily_loss"`
	MaxDailyLoss    int64 `json:"max_daily_loss"`
	MaxPositionValue int64 `json:"max_position_value"`
}

// ConfigSummary is a read-only projection of the active configuration.
type ConfigSummary struct {
	TradingMode    string  `json:"trading_mode"`
	ActiveExchange string  `json:"active_exchange"`
	StrategyType   string  `json:"strategy_type"`
	FillProbability float64 `json:"fill_probability,omitempty"`
}

// NewConfigSummary projects the subset of Config the dashboard exposes.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		TradingMode:     string(cfg.TradingSystem.TradingMode),
		ActiveExchange:  cfg.TradingSystem.ActiveExchange,
		StrategyType:    cfg.TradingSystem.Strategy.Type,
		FillProbability: cfg.TradingSystem.PaperTrading.FillProbability,
	}
}
