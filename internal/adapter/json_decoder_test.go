package adapter

import (
	"testing"

	"tradebridge/internal/registry"
	"tradebridge/pkg/types"
)

func newTestJSONDecoder(t *testing.T) (*JSONDecoder, types.TickerId) {
	t.Helper()
	reg := registry.New()
	if err := reg.LoadInstrument("BTC-USD", types.Instrument{TickerID: 42}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewJSONDecoder(reg, 100), 42
}

func TestJSONDecoderFirstTickIsAdd(t *testing.T) {
	t.Parallel()

	dec, tickerID := newTestJSONDecoder(t)
	raw := []byte(`{"s":"BTC-USD","bp":100.25,"bq":2,"ap":100.50,"aq":3}`)

	updates, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates (bid+ask), got %d", len(updates))
	}
	for _, u := range updates {
		if u.Type != types.Add || u.TickerID != tickerID {
			t.Fatalf("unexpected update: %+v", u)
		}
	}
}

func TestJSONDecoderSecondTickIsModify(t *testing.T) {
	t.Parallel()

	dec, _ := newTestJSONDecoder(t)
	first := []byte(`{"s":"BTC-USD","bp":100.25,"bq":2,"ap":100.50,"aq":3}`)
	if _, err := dec.Decode(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := []byte(`{"s":"BTC-USD","bp":100.30,"bq":4,"ap":100.55,"aq":1}`)
	updates, err := dec.Decode(second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, u := range updates {
		if u.Type != types.Modify {
			t.Fatalf("expected MODIFY on second observation, got %s", u.Type)
		}
	}
}

func TestJSONDecoderUnregisteredSymbolErrors(t *testing.T) {
	t.Parallel()

	dec, _ := newTestJSONDecoder(t)
	_, err := dec.Decode([]byte(`{"s":"ETH-USD","bp":1,"ap":2}`))
	if err == nil {
		t.Fatal("expected error for unregistered symbol")
	}
}

func TestJSONDecoderLastTradeEmitsTradeEvent(t *testing.T) {
	t.Parallel()

	dec, tickerID := newTestJSONDecoder(t)
	raw := []byte(`{"s":"BTC-USD","lp":101.00,"lq":0.5}`)

	updates, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 || updates[0].Type != types.Trade || updates[0].TickerID != tickerID {
		t.Fatalf("unexpected updates: %+v", updates)
	}
	if updates[0].Price != 10100 {
		t.Fatalf("Price = %d, want scaled 10100", updates[0].Price)
	}
}

func TestJSONDecoderReconnectEmitsClearAndResetsSeen(t *testing.T) {
	t.Parallel()

	dec, tickerID := newTestJSONDecoder(t)
	if _, err := dec.Decode([]byte(`{"s":"BTC-USD","bp":100.25,"bq":2}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := dec.Reconnect()
	if len(events) != 1 || events[0].Type != types.Clear || events[0].TickerID != tickerID {
		t.Fatalf("unexpected reconnect events: %+v", events)
	}

	// After reconnect, the next observation should again be an ADD.
	updates, err := dec.Decode([]byte(`{"s":"BTC-USD","bp":100.25,"bq":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updates[0].Type != types.Add {
		t.Fatalf("expected ADD after reconnect reset, got %s", updates[0].Type)
	}
}
