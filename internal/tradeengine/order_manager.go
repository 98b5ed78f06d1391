// Package tradeengine implements the single-threaded strategy loop: drain
// market data, drain order responses, tick the active algorithm, and move
// quotes through the order manager under the risk gate — generalized from
// the reference bot's per-market engine loop into the spec's
// venue-agnostic, algorithm-agnostic shape.
package tradeengine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"tradebridge/internal/gateway"
	"tradebridge/internal/risk"
	"tradebridge/pkg/types"
)

// orderKey identifies one live order by the triple the spec routes
// responses on.
type orderKey struct {
	ticker types.TickerId
	side   types.Side
	id     int64
}

type sideKey struct {
	ticker types.TickerId
	side   types.Side
}

type managedOrder struct {
	price types.Price
	qty   types.Qty
	// accepted is false until the gateway's ACCEPTED response arrives.
	// Cancels and replaces are not deferred on it: they are sent
	// immediately whether or not the order has been accepted.
	accepted bool
}

// OrderManager owns order lifecycle state keyed by (ticker_id, side,
// order_id) and is the single point where the risk gate is consulted
// before a NEW reaches the gateway.
type OrderManager struct {
	mu       sync.Mutex
	clientID int64
	nextID   atomic.Int64

	gw     gateway.Gateway
	risk   *risk.Manager
	logger *slog.Logger

	live    map[orderKey]*managedOrder
	current map[sideKey]orderKey // the one live (ticker, side) quote, if any

	// onReject is called synchronously for requests the risk gate drops
	// before they ever reach the gateway — the spec's "synthesized by the
	// OrderManager directly" path.
	onReject func(types.ClientResponse)
}

// NewOrderManager builds an order manager bound to one client ID, one
// gateway instance, and the shared risk gate.
func NewOrderManager(clientID int64, gw gateway.Gateway, riskMgr *risk.Manager, logger *slog.Logger) *OrderManager {
	return &OrderManager{
		clientID: clientID,
		gw:       gw,
		risk:     riskMgr,
		logger:   logger,
		live:     make(map[orderKey]*managedOrder),
		current:  make(map[sideKey]orderKey),
	}
}

// OnReject registers the callback invoked for risk-gate rejections that
// never reach the gateway.
func (om *OrderManager) OnReject(fn func(types.ClientResponse)) {
	om.onReject = fn
}

// MarkPrice forwards a traded price to the risk gate so its unrealized
// PnL and portfolio notional stay current between fills.
func (om *OrderManager) MarkPrice(tickerID types.TickerId, price types.Qty) {
	om.risk.MarkPrice(tickerID, price)
}

// MoveOrders is the algorithm's single entry point for expressing desired
// quotes: it cancels/replaces the live bid and ask for ticker so each
// lands at the requested price and clip size, skipping any side already
// resting at the right price.
func (om *OrderManager) MoveOrders(ticker types.TickerId, bidPrice, askPrice types.Price, clipQty types.Qty) {
	om.moveSide(ticker, types.Buy, bidPrice, clipQty)
	om.moveSide(ticker, types.Sell, askPrice, clipQty)
}

func (om *OrderManager) moveSide(ticker types.TickerId, side types.Side, price types.Price, qty types.Qty) {
	if price <= 0 || qty <= 0 {
		om.cancelSide(ticker, side)
		return
	}

	om.mu.Lock()
	key, hasCurrent := om.current[sideKey{ticker, side}]
	if hasCurrent {
		if existing := om.live[key]; existing != nil && existing.price == price && existing.qty == qty {
			om.mu.Unlock()
			return // already quoting at the requested level
		}
	}
	om.mu.Unlock()

	if hasCurrent {
		om.cancelSide(ticker, side)
	}
	om.submitNew(ticker, side, price, qty)
}

func (om *OrderManager) cancelSide(ticker types.TickerId, side types.Side) {
	om.mu.Lock()
	key, ok := om.current[sideKey{ticker, side}]
	if ok {
		delete(om.current, sideKey{ticker, side})
	}
	om.mu.Unlock()
	if !ok {
		return
	}

	om.gw.Submit(types.ClientRequest{
		Type: types.ReqCancel, ClientID: om.clientID, TickerID: ticker, OrderID: key.id, Side: side,
	})
}

func (om *OrderManager) submitNew(ticker types.TickerId, side types.Side, price types.Price, qty types.Qty) {
	if ok, reason := om.risk.Check(ticker, side, qty, price); !ok {
		resp := types.ClientResponse{
			Type: types.RespRejected, RejectReason: reason,
			ClientID: om.clientID, TickerID: ticker, Side: side, Price: price,
		}
		om.logger.Warn("tradeengine: risk gate dropped NEW", "ticker", ticker, "side", side, "reason", reason)
		if om.onReject != nil {
			om.onReject(resp)
		}
		return
	}

	orderID := om.nextID.Add(1)
	om.mu.Lock()
	key := orderKey{ticker, side, orderID}
	om.live[key] = &managedOrder{price: price, qty: qty}
	om.current[sideKey{ticker, side}] = key
	om.mu.Unlock()

	om.gw.Submit(types.ClientRequest{
		Type: types.ReqNew, ClientID: om.clientID, TickerID: ticker, OrderID: orderID,
		Side: side, Price: price, Qty: qty,
	})
}

// RouteResponse updates order state from a gateway ClientResponse keyed
// by (ticker_id, side, order_id), and reports fills to the risk gate so
// its position/PnL tracking stays current.
func (om *OrderManager) RouteResponse(resp types.ClientResponse) {
	key := orderKey{resp.TickerID, resp.Side, resp.OrderID}

	switch resp.Type {
	case types.RespAccepted:
		om.mu.Lock()
		if o, ok := om.live[key]; ok {
			o.accepted = true
		}
		om.mu.Unlock()
	case types.RespFilled, types.RespPartiallyFilled:
		if resp.ExecQty > 0 {
			om.risk.OnFill(resp.TickerID, resp.Side, resp.ExecQty, resp.Price)
		}
		if resp.Type == types.RespFilled {
			om.forget(key)
		}
	case types.RespCanceled, types.RespRejected, types.RespCancelRejected:
		om.forget(key)
	}
}

func (om *OrderManager) forget(key orderKey) {
	om.mu.Lock()
	defer om.mu.Unlock()
	delete(om.live, key)
	sk := sideKey{key.ticker, key.side}
	if om.current[sk] == key {
		delete(om.current, sk)
	}
}

// IsQuoting reports whether ticker/side currently has a live resting order.
func (om *OrderManager) IsQuoting(ticker types.TickerId, side types.Side) bool {
	om.mu.Lock()
	defer om.mu.Unlock()
	_, ok := om.current[sideKey{ticker, side}]
	return ok
}
