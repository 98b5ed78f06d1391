package tradeengine

import (
	"context"
	"log/slog"
	"time"

	"tradebridge/internal/orderbook"
	"tradebridge/internal/queue"
	"tradebridge/pkg/types"
)

// DefaultSilentThreshold is the default wall-clock gap after which the
// engine treats the feed as dead and shuts down gracefully.
const DefaultSilentThreshold = 60 * time.Second

// idleSleep bounds how long the loop parks when both queues are empty —
// the 10µs idle budget named for the decoder/trade-engine tasks.
const idleSleep = 10 * time.Microsecond

// Engine is the single-threaded trade engine loop: drain market data,
// drain order responses, tick the algorithm, track feed liveness.
type Engine struct {
	marketUpdates   *queue.SPSCQueue[types.MarketUpdate]
	clientResponses *queue.SPSCQueue[types.ClientResponse]

	books   map[types.TickerId]*orderbook.Book
	feature FeatureEngine
	algo    Algorithm
	om      *OrderManager
	logger  *slog.Logger

	silentThreshold time.Duration
	lastEventAt     time.Time
}

// New builds a trade engine over the given market-update and
// client-response queues (typically the adapter session's and gateway's
// output queues respectively).
func New(
	marketUpdates *queue.SPSCQueue[types.MarketUpdate],
	clientResponses *queue.SPSCQueue[types.ClientResponse],
	feature FeatureEngine,
	algo Algorithm,
	om *OrderManager,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		marketUpdates:   marketUpdates,
		clientResponses: clientResponses,
		books:           make(map[types.TickerId]*orderbook.Book),
		feature:         feature,
		algo:            algo,
		om:              om,
		logger:          logger,
		silentThreshold: DefaultSilentThreshold,
		lastEventAt:     time.Now(),
	}
}

// SetSilentThreshold overrides the default 60s shutdown threshold.
func (e *Engine) SetSilentThreshold(d time.Duration) { e.silentThreshold = d }

// MidPrice implements gateway.PriceSource, letting the paper gateway
// dither market orders around this engine's own downstream book instead
// of needing a separate reference-price feed.
func (e *Engine) MidPrice(ticker types.TickerId) (types.Price, bool) {
	return e.Book(ticker).MidPrice()
}

// Book returns the downstream market-data book for a ticker, creating it
// on first touch. Separate from the synthesizer's own book: this one only
// ever sees already-diffed MarketUpdate events.
func (e *Engine) Book(ticker types.TickerId) *orderbook.Book {
	b, ok := e.books[ticker]
	if !ok {
		b = orderbook.NewBook()
		e.books[ticker] = b
	}
	return b
}

// Tickers returns every ticker the engine has touched so far, for
// dashboard enumeration.
func (e *Engine) Tickers() []types.TickerId {
	ids := make([]types.TickerId, 0, len(e.books))
	for id := range e.books {
		ids = append(ids, id)
	}
	return ids
}

// silentSeconds reports the wall-clock gap since the last event of either
// kind was processed.
func (e *Engine) silentSeconds() time.Duration {
	return time.Since(e.lastEventAt)
}

// Run executes the loop until ctx is cancelled or the silent threshold is
// exceeded, returning nil in the latter case (a graceful, expected exit).
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		progressed := e.drainMarketUpdates()
		progressed = e.drainResponses() || progressed
		e.algo.Tick(e.om)

		if progressed {
			e.lastEventAt = time.Now()
		} else if e.silentSeconds() > e.silentThreshold {
			e.logger.Warn("tradeengine: silent threshold exceeded, shutting down",
				"silent_for", e.silentSeconds())
			return nil
		} else {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idleSleep):
			}
		}
	}
}

// drainMarketUpdates consumes every currently-available slot of the
// market-update queue. Returns whether any were processed.
func (e *Engine) drainMarketUpdates() bool {
	var any bool
	for {
		slot := e.marketUpdates.NextToRead()
		if slot == nil {
			return any
		}
		update := *slot
		e.marketUpdates.AdvanceRead()
		any = true

		e.Book(update.TickerID).Apply(update)
		if update.Type == types.Trade {
			e.om.MarkPrice(update.TickerID, update.Price)
		}
		e.feature.OnUpdate(update)
		e.algo.OnMarketUpdate(update)
	}
}

// drainResponses consumes every currently-available slot of the
// client-response queue. Returns whether any were processed.
func (e *Engine) drainResponses() bool {
	var any bool
	for {
		slot := e.clientResponses.NextToRead()
		if slot == nil {
			return any
		}
		resp := *slot
		e.clientResponses.AdvanceRead()
		any = true

		e.om.RouteResponse(resp)
		e.algo.OnResponse(resp)
	}
}
