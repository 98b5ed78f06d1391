// Package orderbook derives per-level ADD/MODIFY/CANCEL/TRADE events from
// the venue's periodic aggregated depth snapshots (Synthesizer), and
// separately maintains the downstream book the trade engine actually reads
// from already-diffed MarketUpdate events (Book).
//
// The synthesizer never attempts to reconstruct true per-order priority —
// that information does not exist in an aggregated depth feed. It only
// diffs price-level sets, which is the one thing the feed genuinely
// supports.
package orderbook

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"

	"tradebridge/internal/decoder"
	"tradebridge/pkg/types"
)

// ErrCrossedBook is returned when an incoming FULL snapshot's best bid is
// not strictly below its best ask. The synthesizer discards the whole
// update and leaves its prior state untouched.
var ErrCrossedBook = errors.New("orderbook: crossed book in snapshot, discarded")

// Level is one synthesized price level.
type Level struct {
	Price            types.Price
	AggregateQty     types.Qty
	OrderCount       int32
	SyntheticOrderID int64
}

type side map[types.Price]Level

// tickerState is the synthesizer's private view of one instrument's book,
// kept only for diffing — the trade engine consumes the diff events, not
// this struct, through orderbook.Book.
type tickerState struct {
	bids side
	asks side

	lastPrice int32
	lastQty   int32
	haveLast  bool
}

func newTickerState() *tickerState {
	return &tickerState{bids: make(side), asks: make(side)}
}

// Synthesizer diffs successive FULL packets per ticker. It is strictly
// CPU-bound and single-threaded by design — the concurrency model runs
// exactly one decoder/synthesizer task per adapter session, so no internal
// locking is needed.
type Synthesizer struct {
	tickers map[types.TickerId]*tickerState
}

// New creates an empty Synthesizer.
func New() *Synthesizer {
	return &Synthesizer{tickers: make(map[types.TickerId]*tickerState)}
}

func (s *Synthesizer) state(ticker types.TickerId) *tickerState {
	st, ok := s.tickers[ticker]
	if !ok {
		st = newTickerState()
		s.tickers[ticker] = st
	}
	return st
}

// ApplyFull diffs a decoded FULL packet against the synthesizer's prior
// state for that ticker and returns the ordered set of MarketUpdate events
// (CANCELs, then MODIFYs, then ADDs, then an optional TRADE). On a crossed
// incoming snapshot it returns ErrCrossedBook and leaves prior state
// unchanged.
func (s *Synthesizer) ApplyFull(pkt decoder.Packet) ([]types.MarketUpdate, error) {
	if pkt.Kind != decoder.KindFull {
		return nil, errors.New("orderbook: ApplyFull requires a FULL packet")
	}

	newBids := levelsFromDepth(pkt.Bids)
	newAsks := levelsFromDepth(pkt.Asks)

	if len(newBids) > 0 && len(newAsks) > 0 {
		bestBid := bestPrice(newBids, true)
		bestAsk := bestPrice(newAsks, false)
		if bestBid >= bestAsk {
			return nil, ErrCrossedBook
		}
	}

	st := s.state(pkt.TickerID)

	var cancels, modifies, adds []types.MarketUpdate
	diffSide(pkt.TickerID, types.Buy, st.bids, newBids, &cancels, &modifies, &adds)
	diffSide(pkt.TickerID, types.Sell, st.asks, newAsks, &cancels, &modifies, &adds)

	// Commit new state before returning, per the synthesizer contract.
	removedFromBids := removedPrices(st.bids, newBids)
	removedFromAsks := removedPrices(st.asks, newAsks)
	st.bids = newBids
	st.asks = newAsks

	events := make([]types.MarketUpdate, 0, len(cancels)+len(modifies)+len(adds)+1)
	events = append(events, cancels...)
	events = append(events, modifies...)
	events = append(events, adds...)

	if trade, ok := detectTrade(pkt, st, removedFromBids, removedFromAsks); ok {
		events = append(events, trade)
	}
	st.lastPrice = pkt.LastPrice
	st.lastQty = pkt.LastQty
	st.haveLast = true

	return events, nil
}

// Reconnect clears all synthesized state for a ticker and returns a CANCEL
// event for every level that was live, per the reconnect-rebuild contract:
// the book is emptied immediately on transition, and the next snapshot
// after reconnect is processed as a fresh build.
func (s *Synthesizer) Reconnect(ticker types.TickerId) []types.MarketUpdate {
	st, ok := s.tickers[ticker]
	if !ok {
		return nil
	}

	events := make([]types.MarketUpdate, 0, len(st.bids)+len(st.asks))
	for _, lvl := range st.bids {
		events = append(events, types.MarketUpdate{
			Type: types.Cancel, TickerID: ticker, Side: types.Buy,
			Price: lvl.Price, Qty: 0, OrderID: lvl.SyntheticOrderID,
		})
	}
	for _, lvl := range st.asks {
		events = append(events, types.MarketUpdate{
			Type: types.Cancel, TickerID: ticker, Side: types.Sell,
			Price: lvl.Price, Qty: 0, OrderID: lvl.SyntheticOrderID,
		})
	}
	delete(s.tickers, ticker)
	return events
}

func levelsFromDepth(entries [5]decoder.DepthEntry) side {
	s := make(side)
	for _, e := range entries {
		if e.Qty <= 0 {
			continue
		}
		s[types.Price(e.Price)] = Level{
			Price:        types.Price(e.Price),
			AggregateQty: types.Qty(e.Qty),
			OrderCount:   int32(e.Orders),
		}
	}
	return s
}

func bestPrice(s side, max bool) types.Price {
	first := true
	var best types.Price
	for p := range s {
		if first || (max && p > best) || (!max && p < best) {
			best = p
			first = false
		}
	}
	return best
}

func removedPrices(old, new_ side) map[types.Price]Level {
	removed := make(map[types.Price]Level)
	for p, lvl := range old {
		if _, still := new_[p]; !still {
			removed[p] = lvl
		}
	}
	return removed
}

func diffSide(ticker types.TickerId, sd types.Side, old, new_ side,
	cancels, modifies, adds *[]types.MarketUpdate) {

	for p, oldLvl := range old {
		newLvl, still := new_[p]
		if !still {
			*cancels = append(*cancels, types.MarketUpdate{
				Type: types.Cancel, TickerID: ticker, Side: sd,
				Price: p, Qty: 0, OrderID: oldLvl.SyntheticOrderID,
			})
			continue
		}
		id := SyntheticOrderID(ticker, sd, p)
		newLvl.SyntheticOrderID = id
		new_[p] = newLvl
		if oldLvl.AggregateQty != newLvl.AggregateQty || oldLvl.OrderCount != newLvl.OrderCount {
			*modifies = append(*modifies, types.MarketUpdate{
				Type: types.Modify, TickerID: ticker, Side: sd,
				Price: p, Qty: newLvl.AggregateQty, OrderID: id,
			})
		}
	}

	for p, newLvl := range new_ {
		if _, existed := old[p]; existed {
			continue
		}
		id := SyntheticOrderID(ticker, sd, p)
		newLvl.SyntheticOrderID = id
		new_[p] = newLvl
		*adds = append(*adds, types.MarketUpdate{
			Type: types.Add, TickerID: ticker, Side: sd,
			Price: p, Qty: newLvl.AggregateQty, OrderID: id,
		})
	}
}

// detectTrade infers a trade from the packet's last_price/last_qty moving
// and the removed price matching a level that just vanished from one side
// — the only aggressor signal this aggregated feed can offer.
func detectTrade(pkt decoder.Packet, st *tickerState, removedBids, removedAsks map[types.Price]Level) (types.MarketUpdate, bool) {
	if !st.haveLast {
		return types.MarketUpdate{}, false
	}
	if pkt.LastPrice == st.lastPrice && pkt.LastQty == st.lastQty {
		return types.MarketUpdate{}, false
	}

	price := types.Price(pkt.LastPrice)
	upd := types.MarketUpdate{
		Type: types.Trade, TickerID: pkt.TickerID,
		Price: price, Qty: types.Qty(pkt.LastQty),
	}
	if _, ok := removedBids[price]; ok {
		upd.Side = types.Sell // a resting bid vanished: a sell aggressor hit it
	}
	if _, ok := removedAsks[price]; ok {
		upd.Side = types.Buy // a resting ask vanished: a buy aggressor lifted it
	}
	return upd, true
}

// SyntheticOrderID derives a deterministic order ID from (ticker, side,
// price), stable across repeated calls. Used because the aggregated feed
// carries no true per-order identifiers.
func SyntheticOrderID(ticker types.TickerId, sd types.Side, price types.Price) int64 {
	buf := make([]byte, 0, 2+1+8)
	tickerBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(tickerBuf, uint16(ticker))
	buf = append(buf, tickerBuf...)

	sideByte := byte(0)
	if sd == types.Sell {
		sideByte = 1
	}
	buf = append(buf, sideByte)

	priceBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(priceBuf, uint64(price))
	buf = append(buf, priceBuf...)

	sum := crypto.Keccak256(buf)
	id := int64(binary.BigEndian.Uint64(sum[0:8]))
	if id < 0 {
		id = -id
	}
	return id
}
