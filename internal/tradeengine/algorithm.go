package tradeengine

import "tradebridge/pkg/types"

// FeatureEngine observes every market update before the algorithm does,
// typically maintaining rolling statistics (volatility, order-flow
// imbalance) the algorithm's decision function reads back out. The
// strategy itself is out of scope here; only the call shape is specified.
type FeatureEngine interface {
	OnUpdate(update types.MarketUpdate)
}

// Algorithm is the strategy seam: it sees every market update and
// response, and is ticked once per loop iteration to express its desired
// quotes via OrderManager.MoveOrders.
type Algorithm interface {
	OnMarketUpdate(update types.MarketUpdate)
	OnResponse(resp types.ClientResponse)
	// Tick is called once per loop iteration; implementations call
	// om.MoveOrders for whichever tickers they want to (re)quote.
	Tick(om *OrderManager)
}

// NoopFeatureEngine satisfies FeatureEngine without computing anything —
// a placeholder for configurations that run an algorithm needing no
// shared feature state.
type NoopFeatureEngine struct{}

func (NoopFeatureEngine) OnUpdate(types.MarketUpdate) {}

// PassThroughAlgorithm never quotes; it exists so the engine can be
// exercised (and its tests written) without pulling in a concrete
// strategy implementation, and as a documented extension point.
type PassThroughAlgorithm struct{}

func (PassThroughAlgorithm) OnMarketUpdate(types.MarketUpdate)    {}
func (PassThroughAlgorithm) OnResponse(types.ClientResponse)      {}
func (PassThroughAlgorithm) Tick(*OrderManager)                  {}

var (
	_ FeatureEngine = NoopFeatureEngine{}
	_ Algorithm     = PassThroughAlgorithm{}
)
