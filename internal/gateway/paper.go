package gateway

import (
	"container/heap"
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"tradebridge/internal/queue"
	"tradebridge/pkg/types"
)

// PaperConfig tunes the fill simulator. Defaults mirror spec §4.5.
type PaperConfig struct {
	FillProbability    float64
	MinLatency         time.Duration
	MaxLatency         time.Duration
	SlippageFactor     float64
	PartialFillEnabled bool // emit one PARTIALLY_FILLED before the terminal FILLED
}

// DefaultPaperConfig returns the documented defaults.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{
		FillProbability: 0.9,
		MinLatency:      50 * time.Millisecond,
		MaxLatency:      200 * time.Millisecond,
		SlippageFactor:  0.001,
	}
}

// PriceSource supplies a reference price for market orders (Price == 0),
// since the simulator has no venue execution price to dither around.
// Satisfied by *tradeengine.Engine via its MidPrice method.
type PriceSource interface {
	MidPrice(tickerID types.TickerId) (types.Price, bool)
}

// scheduledEvent is one pending response in the simulator's timeline.
type scheduledEvent struct {
	at  time.Time
	seq int64 // insertion order, used to break time ties deterministically
	kind types.ClientResponseType
	req types.ClientRequest
	fillPrice types.Price
	execQty   types.Qty // this event's own exec quantity, not cumulative
}

type eventHeap []*scheduledEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*scheduledEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// PaperGateway simulates venue execution under configurable latency and
// fill probability, grounded on the reference executor's simulateFill
// (slippage dithering, position-free fill accounting) but event-scheduled
// rather than blocking on time.Sleep so many orders can be in flight at
// once.
type PaperGateway struct {
	instruments InstrumentValidator
	orders      *orderTracker
	cfg         PaperConfig
	prices      PriceSource
	logger      *slog.Logger

	out   *queue.SPSCQueue[types.ClientResponse]
	reqCh chan types.ClientRequest
	rng   *rand.Rand
	seq   int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPaperGateway builds a paper-mode gateway. prices may be nil, in which
// case market orders (Price == 0) fill at zero dither applied to a zero
// reference price — callers that route market orders through paper mode
// should supply a PriceSource.
func NewPaperGateway(instruments InstrumentValidator, cfg PaperConfig, prices PriceSource, logger *slog.Logger) *PaperGateway {
	return &PaperGateway{
		instruments: instruments,
		orders:      newOrderTracker(),
		cfg:         cfg,
		prices:      prices,
		logger:      logger,
		out:         queue.NewSPSCQueue[types.ClientResponse](responseQueueCap),
		reqCh:       make(chan types.ClientRequest, 1024),
		rng:         rand.New(rand.NewSource(1)),
	}
}

// SetPriceSource wires a reference price feed after construction, for
// callers (such as the trade engine) that don't exist yet when the
// gateway is built. Safe to call before Start; not safe concurrently with
// a running fillPrice lookup.
func (p *PaperGateway) SetPriceSource(prices PriceSource) { p.prices = prices }

// Responses implements Gateway.
func (p *PaperGateway) Responses() *queue.SPSCQueue[types.ClientResponse] { return p.out }

// Submit implements Gateway. Safe to call from any goroutine; all
// scheduling and response emission happens on the single run() goroutine.
func (p *PaperGateway) Submit(req types.ClientRequest) {
	p.reqCh <- req
}

// Start implements Gateway.
func (p *PaperGateway) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx)
	return nil
}

// Stop implements Gateway.
func (p *PaperGateway) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
	return nil
}

func (p *PaperGateway) run(ctx context.Context) {
	defer close(p.done)

	pending := &eventHeap{}
	heap.Init(pending)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if pending.Len() > 0 {
			d := time.Until((*pending)[0].at)
			if d < 0 {
				d = 0
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
		}

		select {
		case <-ctx.Done():
			return
		case req := <-p.reqCh:
			p.handle(req, pending)
		case <-timer.C:
			if pending.Len() == 0 {
				continue
			}
			ev := heap.Pop(pending).(*scheduledEvent)
			p.emit(ev)
		}
	}
}

func (p *PaperGateway) handle(req types.ClientRequest, pending *eventHeap) {
	resp, ok := validate(req, p.instruments, p.orders)
	if !ok {
		p.write(resp)
		return
	}

	latency := p.randLatency()
	now := time.Now()

	switch req.Type {
	case types.ReqNew:
		p.orders.register(req)
		p.schedule(pending, now.Add(latency), types.RespAccepted, req, 0, 0)

		if p.rng.Float64() < p.cfg.FillProbability {
			fillPrice := p.fillPrice(req)
			if p.cfg.PartialFillEnabled && req.Qty > 1 {
				half := req.Qty / 2
				p.schedule(pending, now.Add(2*latency), types.RespPartiallyFilled, req, fillPrice, half)
				p.schedule(pending, now.Add(3*latency), types.RespFilled, req, fillPrice, req.Qty-half)
			} else {
				p.schedule(pending, now.Add(2*latency), types.RespFilled, req, fillPrice, req.Qty)
			}
		}
	case types.ReqCancel:
		p.schedule(pending, now.Add(latency), types.RespCanceled, req, 0, 0)
	}
}

func (p *PaperGateway) randLatency() time.Duration {
	lo, hi := p.cfg.MinLatency, p.cfg.MaxLatency
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.rng.Int63n(int64(hi-lo)))
}

// fillPrice applies the configured slippage dither to market orders
// (Price == 0); limit orders fill at the requested price unchanged. The
// dither itself is computed in decimal.Decimal rather than float64 so the
// simulated fill price never drifts from exact fixed-point arithmetic the
// way repeated float64 multiplication would.
func (p *PaperGateway) fillPrice(req types.ClientRequest) types.Price {
	if req.Price != 0 {
		return req.Price
	}
	ref := req.Price
	if p.prices != nil {
		if mid, ok := p.prices.MidPrice(req.TickerID); ok {
			ref = mid
		}
	}

	dither := decimal.NewFromFloat((p.rng.Float64()*2 - 1) * p.cfg.SlippageFactor)
	factor := decimal.NewFromInt(1).Add(dither)
	dithered := decimal.NewFromInt(int64(ref)).Mul(factor).Round(0)
	return types.Price(dithered.IntPart())
}

func (p *PaperGateway) schedule(pending *eventHeap, at time.Time, kind types.ClientResponseType, req types.ClientRequest, fillPrice types.Price, execQty types.Qty) {
	p.seq++
	heap.Push(pending, &scheduledEvent{at: at, seq: p.seq, kind: kind, req: req, fillPrice: fillPrice, execQty: execQty})
}

func (p *PaperGateway) emit(ev *scheduledEvent) {
	req := ev.req
	resp := types.ClientResponse{
		Type: ev.kind, ClientID: req.ClientID, TickerID: req.TickerID,
		OrderID: req.OrderID, Side: req.Side,
	}

	switch ev.kind {
	case types.RespAccepted:
		resp.Price = req.Price
		resp.LeavesQty = req.Qty
	case types.RespPartiallyFilled:
		resp.Price = ev.fillPrice
		resp.ExecQty = ev.execQty
		resp.LeavesQty = req.Qty - ev.execQty
	case types.RespFilled:
		resp.Price = ev.fillPrice
		resp.ExecQty = ev.execQty
		resp.LeavesQty = 0
		p.orders.remove(req.ClientID, req.OrderID)
	case types.RespCanceled:
		p.orders.remove(req.ClientID, req.OrderID)
	}

	p.write(resp)
}

func (p *PaperGateway) write(resp types.ClientResponse) {
	if slot := p.out.NextToWrite(); slot != nil {
		*slot = resp
		p.out.CommitWrite()
		return
	}
	p.out.RecordDrop()
	if p.logger != nil {
		p.logger.Warn("gateway: response queue full, dropping", "order_id", resp.OrderID)
	}
}

var _ Gateway = (*PaperGateway)(nil)
