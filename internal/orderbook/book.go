package orderbook

import (
	"sync"
	"time"

	"tradebridge/pkg/types"
)

// BBO is the cached best-bid/best-offer, recomputed on every mutation.
type BBO struct {
	BidPrice types.Price
	BidQty   types.Qty
	AskPrice types.Price
	AskQty   types.Qty
}

// Book is the downstream order book the trade engine reads from — separate
// from the Synthesizer's book. It only applies already-diffed MarketUpdate
// events (ADD/MODIFY/CANCEL/TRADE/CLEAR); it never derives a diff itself.
// Grounded on the teacher's market.Book (RWMutex-protected mirror with
// BestBidAsk/MidPrice/IsStale), generalized from raw JSON price levels to
// the canonical MarketUpdate stream.
type Book struct {
	mu   sync.RWMutex
	bids map[types.Price]Level
	asks map[types.Price]Level
	bbo  BBO

	updated time.Time
}

// NewBook creates an empty book for one ticker.
func NewBook() *Book {
	return &Book{
		bids: make(map[types.Price]Level),
		asks: make(map[types.Price]Level),
	}
}

// Apply consumes one MarketUpdate and mutates the book accordingly.
// TRADE events do not change resting levels; they only refresh the BBO
// cache and the update time.
func (b *Book) Apply(u types.MarketUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch u.Type {
	case types.Add, types.Modify:
		lvl := Level{Price: u.Price, AggregateQty: u.Qty, OrderCount: 1, SyntheticOrderID: u.OrderID}
		b.sideMap(u.Side)[u.Price] = lvl
	case types.Cancel:
		delete(b.sideMap(u.Side), u.Price)
	case types.Clear:
		b.bids = make(map[types.Price]Level)
		b.asks = make(map[types.Price]Level)
	}

	b.recomputeBBO()
	b.updated = time.Now()
}

func (b *Book) sideMap(sd types.Side) map[types.Price]Level {
	if sd == types.Buy {
		return b.bids
	}
	return b.asks
}

func (b *Book) recomputeBBO() {
	b.bbo = BBO{}
	for p, lvl := range b.bids {
		if b.bbo.BidPrice == 0 || p > b.bbo.BidPrice {
			b.bbo.BidPrice = p
			b.bbo.BidQty = lvl.AggregateQty
		}
	}
	var haveAsk bool
	for p, lvl := range b.asks {
		if !haveAsk || p < b.bbo.AskPrice {
			b.bbo.AskPrice = p
			b.bbo.AskQty = lvl.AggregateQty
			haveAsk = true
		}
	}
}

// BestBidAsk returns the cached BBO. ok is false if either side is empty.
func (b *Book) BestBidAsk() (BBO, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bids) == 0 || len(b.asks) == 0 {
		return BBO{}, false
	}
	return b.bbo, true
}

// MidPrice returns (bestBid+bestAsk)/2 in the same fixed-point unit.
func (b *Book) MidPrice() (types.Price, bool) {
	bbo, ok := b.BestBidAsk()
	if !ok {
		return 0, false
	}
	return (bbo.BidPrice + bbo.AskPrice) / 2, true
}

// IsStale reports whether the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// Clear empties the book, used when the adapter session signals reconnect.
func (b *Book) Clear() {
	b.Apply(types.MarketUpdate{Type: types.Clear})
}
