package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tradebridge/internal/queue"
	"tradebridge/pkg/types"
)

// AuthProvider injects venue-specific auth headers into each REST call.
// The reference venues in this corpus use either HMAC-over-body or
// EIP-712 wallet signing; both are out of scope here (see DESIGN.md), so
// this interface is the seam a concrete venue integration implements.
type AuthProvider interface {
	Headers(method, path, body string) (map[string]string, error)
}

// venuePlaceResponse and venuePollResponse are the minimal shapes the live
// gateway expects back from the venue's order-place and order-status
// endpoints. A real venue integration would define its own richer DTOs;
// these are intentionally the smallest contract this package depends on.
type venuePlaceResponse struct {
	VenueOrderID string `json:"order_id"`
	Status       string `json:"status"`
}

type venuePollResponse struct {
	VenueOrderID string  `json:"order_id"`
	Status       string  `json:"status"` // OPEN | FILLED | PARTIALLY_FILLED | CANCELED | REJECTED
	FilledQty    int64   `json:"filled_qty"`
	AvgPrice     float64 `json:"avg_price"`
}

// LiveGatewayConfig names the venue endpoints and polling cadence.
type LiveGatewayConfig struct {
	BaseURL      string
	PlacePath    string // e.g. "/orders"
	CancelPath   string // e.g. "/orders/%s" (formatted with venue order ID)
	PollPath     string // e.g. "/orders/%s"
	PollInterval time.Duration
}

// LiveGateway translates ClientRequests to venue REST calls and polls for
// order-state transitions, grounded on the reference REST client's
// resty-based request/retry/rate-limit shape.
type LiveGateway struct {
	cfg    LiveGatewayConfig
	auth   AuthProvider
	http   *resty.Client
	rl     *RateLimiter
	logger *slog.Logger

	instruments InstrumentValidator
	orders      *orderTracker

	out   *queue.SPSCQueue[types.ClientResponse]
	reqCh chan types.ClientRequest

	cancel context.CancelFunc
	done   chan struct{}
}

// NewLiveGateway builds a live-mode gateway.
func NewLiveGateway(cfg LiveGatewayConfig, auth AuthProvider, instruments InstrumentValidator, logger *slog.Logger) *LiveGateway {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &LiveGateway{
		cfg: cfg, auth: auth, http: httpClient, rl: NewRateLimiter(), logger: logger,
		instruments: instruments, orders: newOrderTracker(),
		out:   queue.NewSPSCQueue[types.ClientResponse](responseQueueCap),
		reqCh: make(chan types.ClientRequest, 1024),
	}
}

// Responses implements Gateway.
func (g *LiveGateway) Responses() *queue.SPSCQueue[types.ClientResponse] { return g.out }

// Submit implements Gateway.
func (g *LiveGateway) Submit(req types.ClientRequest) { g.reqCh <- req }

// Start implements Gateway: one goroutine consumes requests and drives
// venue calls, and a second polls open orders — both funnel their
// responses through a single internal channel so the out queue keeps its
// single-writer discipline.
func (g *LiveGateway) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})

	pollResults := make(chan types.ClientResponse, 256)
	go g.pollLoop(runCtx, pollResults)
	go g.run(runCtx, pollResults)
	return nil
}

// Stop implements Gateway.
func (g *LiveGateway) Stop() error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.done != nil {
		<-g.done
	}
	return nil
}

func (g *LiveGateway) run(ctx context.Context, pollResults <-chan types.ClientResponse) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-g.reqCh:
			g.handle(ctx, req)
		case resp := <-pollResults:
			g.write(resp)
		}
	}
}

func (g *LiveGateway) handle(ctx context.Context, req types.ClientRequest) {
	resp, ok := validate(req, g.instruments, g.orders)
	if !ok {
		g.write(resp)
		return
	}

	switch req.Type {
	case types.ReqNew:
		g.orders.register(req)
		g.placeOrder(ctx, req)
	case types.ReqCancel:
		g.cancelOrder(ctx, req)
	}
}

func (g *LiveGateway) placeOrder(ctx context.Context, req types.ClientRequest) {
	if err := g.rl.Order.Wait(ctx); err != nil {
		return
	}

	body := map[string]any{
		"ticker_id": req.TickerID, "side": req.Side, "price": req.Price, "qty": req.Qty,
		"client_order_id": fmt.Sprintf("%d-%d", req.ClientID, req.OrderID),
	}
	headers, err := g.auth.Headers(http.MethodPost, g.cfg.PlacePath, fmt.Sprintf("%v", body))
	if err != nil {
		g.logger.Warn("gateway: auth headers failed, order remains pending", "error", err)
		return
	}

	var result venuePlaceResponse
	resp, err := g.http.R().SetContext(ctx).SetHeaders(headers).SetBody(body).SetResult(&result).Post(g.cfg.PlacePath)
	if err != nil || resp.StatusCode() != http.StatusOK {
		// Network failure or non-200: the internal order stays PENDING and
		// tracked, no response is emitted, and the placement is not retried
		// beyond resty's own retries — venue failures never cancel in-flight
		// orders.
		g.logger.Warn("gateway: place order failed, leaving pending", "error", err)
		return
	}

	g.orders.setVenueID(req.ClientID, req.OrderID, result.VenueOrderID)
	g.write(types.ClientResponse{
		Type: types.RespAccepted, ClientID: req.ClientID, TickerID: req.TickerID,
		OrderID: req.OrderID, Side: req.Side, Price: req.Price, LeavesQty: req.Qty,
	})
}

func (g *LiveGateway) cancelOrder(ctx context.Context, req types.ClientRequest) {
	if err := g.rl.Cancel.Wait(ctx); err != nil {
		return
	}

	var venueID string
	g.orders.mu.Lock()
	if o, ok := g.orders.byKey[orderKey(req.ClientID, req.OrderID)]; ok {
		venueID = o.venueID
	}
	g.orders.mu.Unlock()
	path := fmt.Sprintf(g.cfg.CancelPath, venueID)
	headers, err := g.auth.Headers(http.MethodDelete, path, "")
	if err != nil {
		g.logger.Warn("gateway: auth headers failed for cancel", "error", err)
		return
	}

	resp, err := g.http.R().SetContext(ctx).SetHeaders(headers).Delete(path)
	if err != nil || resp.StatusCode() != http.StatusOK {
		g.logger.Warn("gateway: cancel failed", "error", err)
		return
	}

	g.orders.remove(req.ClientID, req.OrderID)
	g.write(types.ClientResponse{
		Type: types.RespCanceled, ClientID: req.ClientID, TickerID: req.TickerID, OrderID: req.OrderID, Side: req.Side,
	})
}

// pollLoop polls every live order at cfg.PollInterval (capped at 1s per
// spec) and translates venue state transitions into ClientResponses. A
// production implementation would poll in a single batched call; this
// walks the tracked set for clarity.
func (g *LiveGateway) pollLoop(ctx context.Context, out chan<- types.ClientResponse) {
	interval := g.cfg.PollInterval
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.pollOnce(ctx, out)
		}
	}
}

func (g *LiveGateway) pollOnce(ctx context.Context, out chan<- types.ClientResponse) {
	g.orders.mu.Lock()
	snapshot := make([]*liveOrder, 0, len(g.orders.byKey))
	for _, o := range g.orders.byKey {
		if o.venueID != "" {
			snapshot = append(snapshot, o)
		}
	}
	g.orders.mu.Unlock()

	for _, o := range snapshot {
		if err := g.rl.Poll.Wait(ctx); err != nil {
			return
		}
		path := fmt.Sprintf(g.cfg.PollPath, o.venueID)
		var result venuePollResponse
		resp, err := g.http.R().SetContext(ctx).SetResult(&result).Get(path)
		if err != nil || resp.StatusCode() != http.StatusOK {
			continue
		}

		cr, terminal := translateVenueStatus(o, result)
		select {
		case out <- cr:
		case <-ctx.Done():
			return
		}
		if terminal {
			g.orders.remove(o.clientID, o.orderID)
		}
	}
}

func translateVenueStatus(o *liveOrder, result venuePollResponse) (types.ClientResponse, bool) {
	base := types.ClientResponse{
		ClientID: o.clientID, OrderID: o.orderID, TickerID: o.tickerID, Side: o.side,
		Price: types.Price(result.AvgPrice),
	}
	switch result.Status {
	case "FILLED":
		base.Type = types.RespFilled
		base.ExecQty = result.FilledQty
		base.LeavesQty = 0
		return base, true
	case "PARTIALLY_FILLED":
		base.Type = types.RespPartiallyFilled
		base.ExecQty = result.FilledQty
		base.LeavesQty = o.qty - result.FilledQty
		return base, false
	case "CANCELED":
		base.Type = types.RespCanceled
		return base, true
	case "REJECTED":
		base.Type = types.RespRejected
		return base, true
	default:
		base.Type = types.RespAccepted
		base.LeavesQty = o.qty
		return base, false
	}
}

func (g *LiveGateway) write(resp types.ClientResponse) {
	if slot := g.out.NextToWrite(); slot != nil {
		*slot = resp
		g.out.CommitWrite()
		return
	}
	g.out.RecordDrop()
}

var _ Gateway = (*LiveGateway)(nil)
