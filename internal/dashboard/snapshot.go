package dashboard

import (
	"time"

	"tradebridge/internal/config"
	"tradebridge/internal/risk"
	"tradebridge/pkg/types"
)

// Provider supplies the read-only state the dashboard renders. Satisfied
// by *tradeengine.Engine plus whatever exposes the registry and risk gate.
type Provider interface {
	TickerSnapshots() []TickerStatus
	RiskManager() *risk.Manager
	// Events streams ResponseEvent/ClientResponse-derived pushes as they
	// occur; nil disables live push (snapshot polling still works).
	Events() <-chan Event
}

// BuildSnapshot aggregates state from the provider and config into one
// Snapshot.
func BuildSnapshot(provider Provider, cfg config.Config, riskCfg config.RiskConfig) Snapshot {
	tickers := provider.TickerSnapshots()

	var totalRealized, totalUnrealized int64
	for _, t := range tickers {
		totalRealized += t.RealizedPnL
		totalUnrealized += t.UnrealizedPnL
	}

	dailyLoss, _ := provider.RiskManager().Snapshot()

	return Snapshot{
		Timestamp:          time.Now(),
		Tickers:            tickers,
		TotalRealizedPnL:   totalRealized,
		TotalUnrealizedPnL: totalUnrealized,
		Risk: RiskStatus{
			DailyLoss:        dailyLoss,
			MaxDailyLoss:     riskCfg.MaxDailyLoss,
			MaxPositionValue: riskCfg.MaxPositionValue,
		},
		Config: NewConfigSummary(cfg),
	}
}

// TickerStatusFromRisk merges a risk.TickerSnapshot with book-side BBO
// fields a caller already resolved, since the risk package has no notion
// of Symbol or BBO. Providers outside this package (e.g. the CLI's engine
// adapter) use this to build TickerSnapshots() without duplicating the
// field mapping.
func TickerStatusFromRisk(rs risk.TickerSnapshot, symbol string, bid, ask, mid types.Price, lastUpdated time.Time) TickerStatus {
	return TickerStatus{
		TickerID: rs.TickerID, Symbol: symbol,
		BestBid: bid, BestAsk: ask, MidPrice: mid, LastUpdated: lastUpdated,
		Position: rs.Position, AvgCost: rs.AvgCost,
		RealizedPnL: rs.RealizedPnL, UnrealizedPnL: rs.UnrealizedPnL,
	}
}
