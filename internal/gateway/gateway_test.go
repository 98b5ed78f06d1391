package gateway

import (
	"testing"

	"tradebridge/pkg/types"
)

type fakeValidator struct {
	known map[types.TickerId]types.Instrument
}

func (f fakeValidator) Instrument(tickerID types.TickerId) (types.Instrument, bool) {
	inst, ok := f.known[tickerID]
	return inst, ok
}

func TestValidateRejectsUnknownTicker(t *testing.T) {
	t.Parallel()

	req := types.ClientRequest{Type: types.ReqNew, TickerID: 1, Qty: 1, Price: 100}
	resp, ok := validate(req, fakeValidator{}, newOrderTracker())
	if ok {
		t.Fatal("expected validation failure for unknown ticker")
	}
	if resp.RejectReason != types.InvalidTicker {
		t.Fatalf("RejectReason = %s, want INVALID_TICKER", resp.RejectReason)
	}
}

func TestValidateRejectsNonPositiveQty(t *testing.T) {
	t.Parallel()

	v := fakeValidator{known: map[types.TickerId]types.Instrument{1: {TickerID: 1}}}
	req := types.ClientRequest{Type: types.ReqNew, TickerID: 1, Qty: 0, Price: 100}
	_, ok := validate(req, v, newOrderTracker())
	if ok {
		t.Fatal("expected validation failure for zero quantity")
	}
}

func TestValidateAllowsMarketOrderZeroPrice(t *testing.T) {
	t.Parallel()

	v := fakeValidator{known: map[types.TickerId]types.Instrument{1: {TickerID: 1}}}
	req := types.ClientRequest{Type: types.ReqNew, TickerID: 1, Qty: 1, Price: 0}
	_, ok := validate(req, v, newOrderTracker())
	if !ok {
		t.Fatal("expected a zero-price NEW to be treated as a valid market order")
	}
}

func TestValidateRejectsDuplicateOrderID(t *testing.T) {
	t.Parallel()

	v := fakeValidator{known: map[types.TickerId]types.Instrument{1: {TickerID: 1}}}
	tracker := newOrderTracker()
	req := types.ClientRequest{Type: types.ReqNew, ClientID: 1, OrderID: 1, TickerID: 1, Qty: 1, Price: 100}
	tracker.register(req)

	resp, ok := validate(req, v, tracker)
	if ok {
		t.Fatal("expected validation failure for duplicate order id")
	}
	if resp.RejectReason != types.DuplicateOrderID {
		t.Fatalf("RejectReason = %s, want DUPLICATE_ORDER_ID", resp.RejectReason)
	}
}

func TestValidateRejectsOversizedOrder(t *testing.T) {
	t.Parallel()

	v := fakeValidator{known: map[types.TickerId]types.Instrument{1: {TickerID: 1, MaxOrderQty: 10}}}
	req := types.ClientRequest{Type: types.ReqNew, TickerID: 1, Qty: 11, Price: 100}
	resp, ok := validate(req, v, newOrderTracker())
	if ok {
		t.Fatal("expected validation failure for an order exceeding MaxOrderQty")
	}
	if resp.RejectReason != types.ExceedsMaxOrderQty {
		t.Fatalf("RejectReason = %s, want EXCEEDS_MAX_ORDER_QTY", resp.RejectReason)
	}
}

func TestValidateRejectsUnknownCancel(t *testing.T) {
	t.Parallel()

	v := fakeValidator{known: map[types.TickerId]types.Instrument{1: {TickerID: 1}}}
	req := types.ClientRequest{Type: types.ReqCancel, ClientID: 1, OrderID: 99, TickerID: 1}
	resp, ok := validate(req, v, newOrderTracker())
	if ok {
		t.Fatal("expected validation failure for cancelling an unknown order")
	}
	if resp.Type != types.RespCancelRejected {
		t.Fatalf("Type = %s, want CANCEL_REJECTED", resp.Type)
	}
}
