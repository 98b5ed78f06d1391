package main

import (
	"time"

	"tradebridge/internal/dashboard"
	"tradebridge/internal/registry"
	"tradebridge/internal/risk"
	"tradebridge/internal/tradeengine"
)

// engineProvider adapts the running engine, registry, and risk gate into
// dashboard.Provider without the dashboard package needing to know about
// any of their concrete types.
type engineProvider struct {
	engine   *tradeengine.Engine
	registry *registry.Registry
	risk     *risk.Manager
}

func (p *engineProvider) TickerSnapshots() []dashboard.TickerStatus {
	_, riskTickers := p.risk.Snapshot()

	out := make([]dashboard.TickerStatus, 0, len(riskTickers))
	for _, rs := range riskTickers {
		symbol, _ := p.registry.Symbol(rs.TickerID)
		book := p.engine.Book(rs.TickerID)
		bbo, _ := book.BestBidAsk()
		mid, _ := book.MidPrice()

		out = append(out, dashboard.TickerStatusFromRisk(rs, symbol, bbo.BidPrice, bbo.AskPrice, mid, time.Now()))
	}
	return out
}

func (p *engineProvider) RiskManager() *risk.Manager { return p.risk }

// Events returns nil: this reference wiring serves snapshot polling only;
// a deployment wanting live push would tap the response queue here.
func (p *engineProvider) Events() <-chan dashboard.Event { return nil }
