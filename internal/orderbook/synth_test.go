package orderbook

import (
	"sort"
	"testing"

	"tradebridge/internal/decoder"
	"tradebridge/pkg/types"
)

func fullPacket(ticker types.TickerId, lastPrice, lastQty int32, bids, asks []decoder.DepthEntry) decoder.Packet {
	p := decoder.Packet{Kind: decoder.KindFull, TickerID: ticker, LastPrice: lastPrice, LastQty: lastQty}
	for i, e := range bids {
		p.Bids[i] = e
	}
	for i, e := range asks {
		p.Asks[i] = e
	}
	return p
}

func depth(qty, price int32, orders int16) decoder.DepthEntry {
	return decoder.DepthEntry{Qty: qty, Price: price, Orders: orders}
}

func typesOf(events []types.MarketUpdate) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e.Type)
	}
	return out
}

// Scenario 1: fresh subscribe, one snapshot.
func TestSynthesizerFreshSubscribe(t *testing.T) {
	t.Parallel()

	s := New()
	pkt := fullPacket(1, 0, 0,
		[]decoder.DepthEntry{depth(5, 10000, 1), depth(3, 9995, 1)},
		[]decoder.DepthEntry{depth(4, 10010, 1), depth(2, 10015, 1)},
	)

	events, err := s.ApplyFull(pkt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var adds int
	for _, e := range events {
		if e.Type != types.Add {
			t.Fatalf("expected only ADD events on fresh subscribe, got %s", e.Type)
		}
		adds++
	}
	if adds != 4 {
		t.Fatalf("expected 4 ADD events, got %d", adds)
	}

	view := &Book{bids: s.tickers[1].bids, asks: s.tickers[1].asks}
	view.recomputeBBO()
	bbo, ok := view.BestBidAsk()
	if !ok {
		t.Fatal("expected a BBO")
	}
	if bbo.BidPrice != 10000 || bbo.AskPrice != 10010 {
		t.Fatalf("unexpected BBO: %+v", bbo)
	}
}

// Scenario 2: a price level disappears.
func TestSynthesizerLevelDisappears(t *testing.T) {
	t.Parallel()

	s := New()
	first := fullPacket(1, 0, 0,
		[]decoder.DepthEntry{depth(5, 10000, 1), depth(3, 9995, 1)},
		[]decoder.DepthEntry{depth(4, 10010, 1), depth(2, 10015, 1)},
	)
	if _, err := s.ApplyFull(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := fullPacket(1, 0, 0,
		[]decoder.DepthEntry{depth(5, 10000, 1)},
		[]decoder.DepthEntry{depth(4, 10010, 1), depth(2, 10015, 1)},
	)
	events, err := s.ApplyFull(second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(events) != 1 || events[0].Type != types.Cancel || events[0].Price != 9995 {
		t.Fatalf("expected a single CANCEL at 9995, got %+v", events)
	}
}

// Scenario 3: quantity change at best.
func TestSynthesizerQuantityChangeAtBest(t *testing.T) {
	t.Parallel()

	s := New()
	first := fullPacket(1, 0, 0,
		[]decoder.DepthEntry{depth(5, 10000, 1)},
		[]decoder.DepthEntry{depth(4, 10010, 1)},
	)
	if _, err := s.ApplyFull(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := fullPacket(1, 0, 0,
		[]decoder.DepthEntry{depth(7, 10000, 2)},
		[]decoder.DepthEntry{depth(4, 10010, 1)},
	)
	events, err := s.ApplyFull(second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Type != types.Modify || events[0].Qty != 7 {
		t.Fatalf("expected a single MODIFY qty=7, got %+v", events)
	}
}

// Scenario 4: reconnect rebuild.
func TestSynthesizerReconnectRebuild(t *testing.T) {
	t.Parallel()

	s := New()
	first := fullPacket(1, 0, 0,
		[]decoder.DepthEntry{depth(5, 10000, 1), depth(3, 9995, 1)},
		[]decoder.DepthEntry{depth(4, 10010, 1), depth(2, 10015, 1)},
	)
	if _, err := s.ApplyFull(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancels := s.Reconnect(1)
	if len(cancels) != 4 {
		t.Fatalf("expected 4 CANCEL events on reconnect, got %d", len(cancels))
	}
	for _, e := range cancels {
		if e.Type != types.Cancel {
			t.Fatalf("expected only CANCEL events, got %s", e.Type)
		}
	}

	// Next snapshot after reconnect rebuilds from scratch.
	events, err := s.ApplyFull(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adds := 0
	for _, e := range events {
		if e.Type == types.Add {
			adds++
		}
	}
	if adds != 4 {
		t.Fatalf("expected a fresh build of 4 ADDs, got %d", adds)
	}
}

// Boundary: a FULL packet whose bid[0].price == ask[0].price is rejected.
func TestSynthesizerCrossedBookRejected(t *testing.T) {
	t.Parallel()

	s := New()
	first := fullPacket(1, 0, 0,
		[]decoder.DepthEntry{depth(5, 10000, 1)},
		[]decoder.DepthEntry{depth(4, 10010, 1)},
	)
	if _, err := s.ApplyFull(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	crossed := fullPacket(1, 0, 0,
		[]decoder.DepthEntry{depth(5, 10010, 1)},
		[]decoder.DepthEntry{depth(4, 10010, 1)},
	)
	_, err := s.ApplyFull(crossed)
	if err != ErrCrossedBook {
		t.Fatalf("expected ErrCrossedBook, got %v", err)
	}

	// Prior state must be unchanged — re-applying the same snapshot yields
	// no events.
	events, err := s.ApplyFull(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no-op re-application, got %+v", events)
	}
}

// Property: synthetic order ID is stable for repeated (ticker, side, price).
func TestSyntheticOrderIDStable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ticker types.TickerId
		side   types.Side
		price  types.Price
	}{
		{1, types.Buy, 10000},
		{2, types.Sell, 555},
		{65535, types.Buy, 1},
	}
	for _, tc := range cases {
		a := SyntheticOrderID(tc.ticker, tc.side, tc.price)
		b := SyntheticOrderID(tc.ticker, tc.side, tc.price)
		if a != b {
			t.Fatalf("SyntheticOrderID not stable for %+v: %d != %d", tc, a, b)
		}
	}

	id1 := SyntheticOrderID(1, types.Buy, 100)
	id2 := SyntheticOrderID(1, types.Sell, 100)
	if id1 == id2 {
		t.Fatal("expected different sides to produce different synthetic IDs")
	}
}

// Invariant: net effect of diff events applied to an empty book equals the
// final snapshot state.
func TestSynthesizerDiffReproducesSnapshot(t *testing.T) {
	t.Parallel()

	s := New()
	snap := fullPacket(9, 0, 0,
		[]decoder.DepthEntry{depth(5, 10000, 1), depth(3, 9995, 1), depth(1, 9990, 1)},
		[]decoder.DepthEntry{depth(4, 10010, 1), depth(2, 10015, 1)},
	)
	events, err := s.ApplyFull(snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	book := NewBook()
	for _, e := range events {
		book.Apply(e)
	}

	gotBids := pricesOf(book.bids)
	gotAsks := pricesOf(book.asks)
	wantBids := []int64{9990, 9995, 10000}
	wantAsks := []int64{10010, 10015}

	if !equalInt64(gotBids, wantBids) {
		t.Fatalf("bids = %v, want %v", gotBids, wantBids)
	}
	if !equalInt64(gotAsks, wantAsks) {
		t.Fatalf("asks = %v, want %v", gotAsks, wantAsks)
	}
}

func pricesOf(m map[types.Price]Level) []int64 {
	out := make([]int64, 0, len(m))
	for p := range m {
		out = append(out, int64(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalInt64(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
