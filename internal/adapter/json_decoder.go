package adapter

import (
	"encoding/json"
	"fmt"

	"tradebridge/internal/registry"
	"tradebridge/pkg/types"
)

// jsonTick is the wire shape of the reference crypto venue's trade/book
// ticker message: a flat JSON object naming the instrument by symbol
// rather than a binary token, and carrying at most a top-of-book quote
// plus the last trade.
type jsonTick struct {
	Symbol   string  `json:"s"`
	Side     string  `json:"side"`
	BidPrice float64 `json:"bp"`
	BidQty   float64 `json:"bq"`
	AskPrice float64 `json:"ap"`
	AskQty   float64 `json:"aq"`
	LastPx   float64 `json:"lp"`
	LastQty  float64 `json:"lq"`
	priceScale int64
}

// JSONDecoder adapts a crypto venue's flat JSON ticker messages into
// canonical MarketUpdates. Unlike BinaryDecoder it has no depth book to
// synthesize from — the venue publishes top-of-book directly, so every
// message becomes a MODIFY replacing the resting best bid/ask for that
// symbol (ADD is used the first time a side is seen).
type JSONDecoder struct {
	resolver   *registry.Registry
	priceScale int64 // multiplies float prices and quantities into integers; one value for every symbol

	// seen tracks which (ticker, side) pairs have already been emitted so
	// the first observation is an ADD and subsequent ones are MODIFY.
	seen map[types.TickerId]map[types.Side]bool
}

// NewJSONDecoder builds a venue B decoder. priceScale converts the
// venue's floating-point prices into the integer tick convention used
// throughout the rest of the system (e.g. 1e8 for 8 decimal places).
func NewJSONDecoder(resolver *registry.Registry, priceScale int64) *JSONDecoder {
	if priceScale <= 0 {
		priceScale = 1
	}
	return &JSONDecoder{
		resolver:   resolver,
		priceScale: priceScale,
		seen:       make(map[types.TickerId]map[types.Side]bool),
	}
}

// Decode implements adapter.Decoder.
func (j *JSONDecoder) Decode(raw []byte) ([]types.MarketUpdate, error) {
	var tick jsonTick
	if err := json.Unmarshal(raw, &tick); err != nil {
		return nil, fmt.Errorf("json_decoder: %w", err)
	}

	tickerID, ok := j.resolver.Resolve(types.VenueToken(tick.Symbol))
	if !ok {
		return nil, fmt.Errorf("json_decoder: unregistered symbol %q", tick.Symbol)
	}

	var updates []types.MarketUpdate
	if tick.BidPrice > 0 {
		updates = append(updates, j.levelUpdate(tickerID, types.Buy, tick.BidPrice, tick.BidQty))
	}
	if tick.AskPrice > 0 {
		updates = append(updates, j.levelUpdate(tickerID, types.Sell, tick.AskPrice, tick.AskQty))
	}
	if tick.LastPx > 0 {
		updates = append(updates, types.MarketUpdate{
			Type:     types.Trade,
			TickerID: tickerID,
			Price:    j.scale(tick.LastPx),
			Qty:      j.scale(tick.LastQty),
		})
	}
	return updates, nil
}

func (j *JSONDecoder) levelUpdate(tickerID types.TickerId, side types.Side, price, qty float64) types.MarketUpdate {
	sides, ok := j.seen[tickerID]
	if !ok {
		sides = make(map[types.Side]bool)
		j.seen[tickerID] = sides
	}
	updateType := types.Modify
	if !sides[side] {
		updateType = types.Add
		sides[side] = true
	}
	return types.MarketUpdate{
		Type:     updateType,
		TickerID: tickerID,
		Side:     side,
		Price:    j.scale(price),
		Qty:      j.scale(qty),
	}
}

func (j *JSONDecoder) scale(f float64) int64 {
	return int64(f * float64(j.priceScale))
}

// Reconnect implements adapter.Decoder: venue B has no order IDs to
// cancel individually, so a reconnect just clears the seen-sides tracker
// and emits a CLEAR for every ticker touched so far, letting the trade
// engine reset its book.
func (j *JSONDecoder) Reconnect() []types.MarketUpdate {
	updates := make([]types.MarketUpdate, 0, len(j.seen))
	for tickerID := range j.seen {
		updates = append(updates, types.MarketUpdate{Type: types.Clear, TickerID: tickerID})
	}
	j.seen = make(map[types.TickerId]map[types.Side]bool)
	return updates
}

var _ Decoder = (*JSONDecoder)(nil)
