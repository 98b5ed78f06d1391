// Package risk enforces the four portfolio-level invariants the order
// manager must satisfy before a NEW request ever reaches the gateway:
// per-ticker position limit, per-ticker realized+unrealized PnL floor,
// portfolio-wide notional cap, and portfolio-wide daily loss cap.
//
// Unlike the reporting-channel risk monitor this package is adapted from,
// the gate itself is synchronous — Check is called inline on the
// OrderManager's hot path and must never block on I/O. The retained
// background goroutine (Run) only rolls the daily-loss baseline at each
// trading-day boundary; it holds the same mutex Check uses, for a moment
// each tick, never while evaluating a request.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tradebridge/pkg/types"
)

// InstrumentProvider supplies the configured per-ticker limits Check
// enforces. Satisfied by *registry.Registry.
type InstrumentProvider interface {
	Instrument(tickerID types.TickerId) (types.Instrument, bool)
}

// Config names the portfolio-wide caps; per-ticker caps come from the
// configured Instrument itself (Clip/Threshold/MaxPosition/MaxLoss).
type Config struct {
	MaxPositionValue int64 // portfolio-wide notional cap
	MaxDailyLoss     int64 // portfolio-wide daily loss cap (positive magnitude)
}

// tickerState is the running position and PnL the gate evaluates against.
type tickerState struct {
	position      int64
	avgCost       int64
	realizedPnL   int64
	unrealizedPnL int64
	lastPrice     int64
}

// Manager is the synchronous risk gate. All exported methods are safe for
// concurrent use, though in the engine's single-threaded model Check,
// OnFill and MarkPrice are only ever called from the trade-engine task.
type Manager struct {
	cfg         Config
	instruments InstrumentProvider
	logger      *slog.Logger

	mu        sync.Mutex
	tickers   map[types.TickerId]*tickerState
	dailyLoss int64 // realized+unrealized PnL accrued since dayStart, negative = loss
	dayStart  time.Time
}

// NewManager builds a risk gate.
func NewManager(cfg Config, instruments InstrumentProvider, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		instruments: instruments,
		logger:      logger.With("component", "risk"),
		tickers:     make(map[types.TickerId]*tickerState),
		dayStart:    time.Now().UTC().Truncate(24 * time.Hour),
	}
}

func (m *Manager) state(tickerID types.TickerId) *tickerState {
	ts, ok := m.tickers[tickerID]
	if !ok {
		ts = &tickerState{}
		m.tickers[tickerID] = ts
	}
	return ts
}

// Check enforces the four invariants for a prospective NEW of the given
// side/qty/price on tickerID. It does not mutate any state — a
// corresponding fill must be reported via OnFill for the gate to track it.
func (m *Manager) Check(tickerID types.TickerId, side types.Side, qty, price types.Qty) (bool, types.RejectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instruments.Instrument(tickerID)
	if !ok {
		return false, types.InvalidTicker
	}
	ts := m.state(tickerID)

	signedQty := qty
	if side == types.Sell {
		signedQty = -qty
	}
	positionAfter := ts.position + signedQty
	if abs64(positionAfter) > inst.MaxPosition {
		return false, types.RiskReject
	}

	if ts.realizedPnL+ts.unrealizedPnL < -inst.MaxLoss {
		return false, types.RiskReject
	}

	var notional int64
	for id, other := range m.tickers {
		if id == tickerID {
			continue
		}
		notional += abs64(other.position * other.lastPrice)
	}
	notional += abs64(positionAfter * price)
	if notional > m.cfg.MaxPositionValue {
		return false, types.RiskReject
	}

	if m.dailyLoss < -m.cfg.MaxDailyLoss {
		return false, types.RiskReject
	}

	return true, types.ReasonNone
}

// OnFill updates the running position, average cost, and realized PnL
// after a venue execution. execPrice/execQty come from the gateway's
// FILLED/PARTIALLY_FILLED response.
func (m *Manager) OnFill(tickerID types.TickerId, side types.Side, execQty, execPrice types.Qty) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.state(tickerID)
	signedQty := execQty
	if side == types.Sell {
		signedQty = -execQty
	}

	switch {
	case ts.position == 0 || sameSign(ts.position, signedQty):
		// Opening or adding to the position: roll the average cost forward.
		totalCost := ts.avgCost*abs64(ts.position) + execPrice*abs64(signedQty)
		newPosition := ts.position + signedQty
		if newPosition != 0 {
			ts.avgCost = totalCost / abs64(newPosition)
		}
		ts.position = newPosition
	default:
		// Reducing or flipping the position: the closed portion realizes
		// PnL against the existing average cost.
		closing := abs64(signedQty)
		if closing > abs64(ts.position) {
			closing = abs64(ts.position)
		}
		direction := int64(1)
		if ts.position < 0 {
			direction = -1
		}
		ts.realizedPnL += direction * closing * (execPrice - ts.avgCost)
		ts.position += signedQty
		if ts.position == 0 {
			ts.avgCost = 0
		} else if sameSign(ts.position, signedQty) {
			// Flipped through zero: the remainder opens a fresh position at
			// the execution price.
			ts.avgCost = execPrice
		}
	}

	m.recomputeDailyLoss()
}

// MarkPrice updates a ticker's last traded price and recomputes its
// unrealized PnL — called by the trade engine on every TRADE event.
func (m *Manager) MarkPrice(tickerID types.TickerId, price types.Qty) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.state(tickerID)
	ts.lastPrice = price
	ts.unrealizedPnL = ts.position * (price - ts.avgCost)
	m.recomputeDailyLoss()
}

func (m *Manager) recomputeDailyLoss() {
	var total int64
	for _, ts := range m.tickers {
		total += ts.realizedPnL + ts.unrealizedPnL
	}
	m.dailyLoss = total
}

// Run rolls the daily-loss baseline at each UTC day boundary. It is the
// adapted remnant of the reporting manager's cooldown ticker: the gate
// itself needs no periodic work, only this once-a-day reset.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.rollDayIfNeeded()
		}
	}
}

func (m *Manager) rollDayIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if today.After(m.dayStart) {
		m.dayStart = today
		for _, ts := range m.tickers {
			ts.realizedPnL = 0
		}
		m.recomputeDailyLoss()
		m.logger.Info("risk: daily loss baseline rolled", "day", today)
	}
}

// TickerSnapshot is a read-only view of one ticker's tracked position and
// PnL, for status reporting.
type TickerSnapshot struct {
	TickerID      types.TickerId
	Position      int64
	AvgCost       int64
	RealizedPnL   int64
	UnrealizedPnL int64
	LastPrice     int64
}

// Snapshot returns the current portfolio-wide daily loss and a per-ticker
// breakdown, for the dashboard's read-only status surface.
func (m *Manager) Snapshot() (dailyLoss int64, tickers []TickerSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tickers = make([]TickerSnapshot, 0, len(m.tickers))
	for id, ts := range m.tickers {
		tickers = append(tickers, TickerSnapshot{
			TickerID: id, Position: ts.position, AvgCost: ts.avgCost,
			RealizedPnL: ts.realizedPnL, UnrealizedPnL: ts.unrealizedPnL, LastPrice: ts.lastPrice,
		})
	}
	return m.dailyLoss, tickers
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func sameSign(a, b int64) bool {
	return (a >= 0) == (b >= 0)
}
