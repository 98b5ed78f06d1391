// Package gateway implements the order gateway described in the trade
// engine's execution layer: common request validation shared by both
// execution modes, a live mode translating requests to venue REST calls,
// and a paper mode simulating fills under configurable latency and fill
// probability.
package gateway

import (
	"context"
	"sync"

	"tradebridge/internal/queue"
	"tradebridge/pkg/types"
)

const responseQueueCap = 4096

// InstrumentValidator supplies the configured instrument for a TickerId,
// doubling as the gateway's INVALID_TICKER check (ok == false) and the
// source of its per-request MaxOrderQty cap. Satisfied by
// *registry.Registry.
type InstrumentValidator interface {
	Instrument(tickerID types.TickerId) (types.Instrument, bool)
}

// Gateway is the capability surface the trade engine uses — neither mode
// leaks its execution-specific types upward.
type Gateway interface {
	Start(ctx context.Context) error
	Stop() error
	Submit(req types.ClientRequest)
	Responses() *queue.SPSCQueue[types.ClientResponse]
}

// liveOrder is the gateway's bookkeeping record for one order, shared by
// both execution modes for the duplicate/unknown-order-id validation that
// precedes venue dispatch.
type liveOrder struct {
	clientID int64
	orderID  int64
	tickerID types.TickerId
	side     types.Side
	price    types.Price
	qty      types.Qty
	venueID  string // live mode only; empty until ACCEPTED
}

// orderTracker is the shared live-order bookkeeping embedded by both
// LiveGateway and PaperGateway. It is not exported — each mode exposes
// only the Gateway interface.
type orderTracker struct {
	mu    sync.Mutex
	byKey map[int64]*liveOrder // keyed by (client_id<<32 ^ order_id) via orderKey
}

func newOrderTracker() *orderTracker {
	return &orderTracker{byKey: make(map[int64]*liveOrder)}
}

func orderKey(clientID, orderID int64) int64 {
	return clientID<<32 ^ orderID
}

func (t *orderTracker) register(req types.ClientRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byKey[orderKey(req.ClientID, req.OrderID)] = &liveOrder{
		clientID: req.ClientID, orderID: req.OrderID, tickerID: req.TickerID,
		side: req.Side, price: req.Price, qty: req.Qty,
	}
}

func (t *orderTracker) isLive(clientID, orderID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byKey[orderKey(clientID, orderID)]
	return ok
}

func (t *orderTracker) remove(clientID, orderID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byKey, orderKey(clientID, orderID))
}

func (t *orderTracker) setVenueID(clientID, orderID int64, venueID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok := t.byKey[orderKey(clientID, orderID)]; ok {
		o.venueID = venueID
	}
}

// validate applies the request checks common to both execution modes,
// returning a populated REJECTED/CANCEL_REJECTED response when a check
// fails, or a zero-value response and true when the request may proceed.
func validate(req types.ClientRequest, instruments InstrumentValidator, orders *orderTracker) (types.ClientResponse, bool) {
	reject := func(reason types.RejectReason) types.ClientResponse {
		return types.ClientResponse{
			Type: types.RespRejected, RejectReason: reason,
			ClientID: req.ClientID, TickerID: req.TickerID, OrderID: req.OrderID,
			Side: req.Side, Price: req.Price, LeavesQty: 0,
		}
	}

	inst, ok := instruments.Instrument(req.TickerID)
	if !ok {
		return reject(types.InvalidTicker), false
	}
	switch req.Type {
	case types.ReqNew:
		if req.Qty <= 0 {
			return reject(types.InvalidQuantity), false
		}
		if req.Price < 0 {
			return reject(types.InvalidPrice), false
		}
		if inst.MaxOrderQty > 0 && int64(req.Qty) > inst.MaxOrderQty {
			return reject(types.ExceedsMaxOrderQty), false
		}
		if orders.isLive(req.ClientID, req.OrderID) {
			return reject(types.DuplicateOrderID), false
		}
	case types.ReqCancel:
		if !orders.isLive(req.ClientID, req.OrderID) {
			return types.ClientResponse{
				Type: types.RespCancelRejected, RejectReason: types.InvalidOrderID,
				ClientID: req.ClientID, TickerID: req.TickerID, OrderID: req.OrderID,
			}, false
		}
	}

	return types.ClientResponse{}, true
}
