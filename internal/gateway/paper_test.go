package gateway

import (
	"context"
	"testing"
	"time"

	"tradebridge/pkg/types"
)

func drainUntil(t *testing.T, g *PaperGateway, n int, timeout time.Duration) []types.ClientResponse {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var got []types.ClientResponse
	for len(got) < n && time.Now().Before(deadline) {
		if slot := g.Responses().NextToRead(); slot != nil {
			got = append(got, *slot)
			g.Responses().AdvanceRead()
			continue
		}
		time.Sleep(time.Millisecond)
	}
	return got
}

// TestPaperGatewayLiteralScenario reproduces the spec's own example:
// fill_probability=1.0, latency=(10,10) should yield ACCEPTED at ~t+10ms
// and FILLED at ~t+20ms.
func TestPaperGatewayLiteralScenario(t *testing.T) {
	t.Parallel()

	cfg := PaperConfig{FillProbability: 1.0, MinLatency: 10 * time.Millisecond, MaxLatency: 10 * time.Millisecond}
	v := fakeValidator{known: map[types.TickerId]types.Instrument{1: {TickerID: 1}}}
	gw := NewPaperGateway(v, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := gw.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer gw.Stop()

	start := time.Now()
	gw.Submit(types.ClientRequest{Type: types.ReqNew, ClientID: 1, OrderID: 1, TickerID: 1, Side: types.Buy, Price: 100, Qty: 5})

	got := drainUntil(t, gw, 2, time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 responses, got %d: %+v", len(got), got)
	}
	if got[0].Type != types.RespAccepted {
		t.Fatalf("first response = %s, want ACCEPTED", got[0].Type)
	}
	if got[1].Type != types.RespFilled {
		t.Fatalf("second response = %s, want FILLED", got[1].Type)
	}
	if got[1].ExecQty != 5 || got[1].LeavesQty != 0 {
		t.Fatalf("unexpected fill accounting: %+v", got[1])
	}

	elapsed := time.Since(start)
	if elapsed < 15*time.Millisecond {
		t.Fatalf("FILLED arrived too soon (%v) for two 10ms latency draws", elapsed)
	}
}

// TestPaperGatewayPartialFillSumsToOriginalQty exercises
// PartialFillEnabled, which TestPaperGatewayLiteralScenario above does
// not touch: the PARTIALLY_FILLED and FILLED exec quantities must sum to
// exactly the original order quantity, per spec §8 testable property 6.
func TestPaperGatewayPartialFillSumsToOriginalQty(t *testing.T) {
	t.Parallel()

	cfg := PaperConfig{
		FillProbability:    1.0,
		MinLatency:         5 * time.Millisecond,
		MaxLatency:         5 * time.Millisecond,
		PartialFillEnabled: true,
	}
	v := fakeValidator{known: map[types.TickerId]types.Instrument{1: {TickerID: 1}}}
	gw := NewPaperGateway(v, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := gw.Start(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer gw.Stop()

	gw.Submit(types.ClientRequest{Type: types.ReqNew, ClientID: 1, OrderID: 1, TickerID: 1, Side: types.Buy, Price: 100, Qty: 7})

	got := drainUntil(t, gw, 3, time.Second)
	if len(got) != 3 {
		t.Fatalf("expected ACCEPTED, PARTIALLY_FILLED, FILLED, got %d: %+v", len(got), got)
	}
	if got[0].Type != types.RespAccepted {
		t.Fatalf("first response = %s, want ACCEPTED", got[0].Type)
	}
	if got[1].Type != types.RespPartiallyFilled {
		t.Fatalf("second response = %s, want PARTIALLY_FILLED", got[1].Type)
	}
	if got[2].Type != types.RespFilled {
		t.Fatalf("third response = %s, want FILLED", got[2].Type)
	}

	sum := got[1].ExecQty + got[2].ExecQty
	if sum != 7 {
		t.Fatalf("exec_qty sum = %d, want 7 (original qty)", sum)
	}
	if got[2].LeavesQty != 0 {
		t.Fatalf("FILLED LeavesQty = %d, want 0", got[2].LeavesQty)
	}
}

func TestPaperGatewayNeverFillsStaysOpenUntilCancel(t *testing.T) {
	t.Parallel()

	cfg := PaperConfig{FillProbability: 0, MinLatency: 5 * time.Millisecond, MaxLatency: 5 * time.Millisecond}
	v := fakeValidator{known: map[types.TickerId]types.Instrument{1: {TickerID: 1}}}
	gw := NewPaperGateway(v, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	gw.Submit(types.ClientRequest{Type: types.ReqNew, ClientID: 1, OrderID: 1, TickerID: 1, Side: types.Buy, Price: 100, Qty: 5})
	got := drainUntil(t, gw, 1, 200*time.Millisecond)
	if len(got) != 1 || got[0].Type != types.RespAccepted {
		t.Fatalf("expected only ACCEPTED with fill_probability=0, got %+v", got)
	}

	gw.Submit(types.ClientRequest{Type: types.ReqCancel, ClientID: 1, OrderID: 1, TickerID: 1})
	got = drainUntil(t, gw, 2, 200*time.Millisecond)
	if len(got) != 2 || got[1].Type != types.RespCanceled {
		t.Fatalf("expected CANCELED after explicit cancel, got %+v", got)
	}
}

func TestPaperGatewayDuplicateOrderIDRejected(t *testing.T) {
	t.Parallel()

	cfg := PaperConfig{FillProbability: 0, MinLatency: time.Millisecond, MaxLatency: time.Millisecond}
	v := fakeValidator{known: map[types.TickerId]types.Instrument{1: {TickerID: 1}}}
	gw := NewPaperGateway(v, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	req := types.ClientRequest{Type: types.ReqNew, ClientID: 1, OrderID: 1, TickerID: 1, Side: types.Buy, Price: 100, Qty: 1}
	gw.Submit(req)
	drainUntil(t, gw, 1, 200*time.Millisecond)

	gw.Submit(req)
	got := drainUntil(t, gw, 2, 200*time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("expected a second response for the duplicate submission, got %d", len(got))
	}
	if got[1].Type != types.RespRejected || got[1].RejectReason != types.DuplicateOrderID {
		t.Fatalf("second response = %+v, want REJECTED/DUPLICATE_ORDER_ID", got[1])
	}
}
