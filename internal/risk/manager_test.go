package risk

import (
	"log/slog"
	"os"
	"testing"

	"tradebridge/pkg/types"
)

type fakeInstruments struct {
	byTicker map[types.TickerId]types.Instrument
}

func (f fakeInstruments) Instrument(tickerID types.TickerId) (types.Instrument, bool) {
	inst, ok := f.byTicker[tickerID]
	return inst, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCheckRejectsUnknownTicker(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{MaxPositionValue: 1_000_000, MaxDailyLoss: 10_000}, fakeInstruments{}, testLogger())
	ok, reason := m.Check(1, types.Buy, 10, 100)
	if ok || reason != types.InvalidTicker {
		t.Fatalf("Check() = %v, %s, want false, INVALID_TICKER", ok, reason)
	}
}

func TestCheckRejectsPositionLimitBreach(t *testing.T) {
	t.Parallel()

	instruments := fakeInstruments{byTicker: map[types.TickerId]types.Instrument{
		1: {TickerID: 1, MaxPosition: 100, MaxLoss: 10_000},
	}}
	m := NewManager(Config{MaxPositionValue: 1_000_000, MaxDailyLoss: 10_000}, instruments, testLogger())

	ok, reason := m.Check(1, types.Buy, 150, 100)
	if ok || reason != types.RiskReject {
		t.Fatalf("Check() = %v, %s, want false, RISK_REJECT", ok, reason)
	}
}

func TestCheckAllowsWithinLimits(t *testing.T) {
	t.Parallel()

	instruments := fakeInstruments{byTicker: map[types.TickerId]types.Instrument{
		1: {TickerID: 1, MaxPosition: 1000, MaxLoss: 10_000},
	}}
	m := NewManager(Config{MaxPositionValue: 1_000_000, MaxDailyLoss: 10_000}, instruments, testLogger())

	ok, reason := m.Check(1, types.Buy, 10, 100)
	if !ok || reason != types.ReasonNone {
		t.Fatalf("Check() = %v, %s, want true, \"\"", ok, reason)
	}
}

func TestCheckRejectsPortfolioNotionalCap(t *testing.T) {
	t.Parallel()

	instruments := fakeInstruments{byTicker: map[types.TickerId]types.Instrument{
		1: {TickerID: 1, MaxPosition: 1_000_000, MaxLoss: 1_000_000},
	}}
	m := NewManager(Config{MaxPositionValue: 500, MaxDailyLoss: 10_000}, instruments, testLogger())

	ok, reason := m.Check(1, types.Buy, 10, 100) // notional 1000 > cap 500
	if ok || reason != types.RiskReject {
		t.Fatalf("Check() = %v, %s, want false, RISK_REJECT", ok, reason)
	}
}

func TestOnFillTracksRealizedPnLAcrossFlip(t *testing.T) {
	t.Parallel()

	instruments := fakeInstruments{byTicker: map[types.TickerId]types.Instrument{
		1: {TickerID: 1, MaxPosition: 1_000_000, MaxLoss: 1_000_000},
	}}
	m := NewManager(Config{MaxPositionValue: 1_000_000_000, MaxDailyLoss: 1_000_000}, instruments, testLogger())

	m.OnFill(1, types.Buy, 10, 100)  // long 10 @ 100
	m.OnFill(1, types.Sell, 15, 110) // close 10 for +10*(110-100)=100, flip to short 5 @ 110

	ts := m.state(1)
	if ts.position != -5 {
		t.Fatalf("position = %d, want -5", ts.position)
	}
	if ts.realizedPnL != 100 {
		t.Fatalf("realizedPnL = %d, want 100", ts.realizedPnL)
	}
}

func TestCheckRejectsDailyLossBreach(t *testing.T) {
	t.Parallel()

	instruments := fakeInstruments{byTicker: map[types.TickerId]types.Instrument{
		1: {TickerID: 1, MaxPosition: 1_000_000, MaxLoss: 1_000_000},
	}}
	m := NewManager(Config{MaxPositionValue: 1_000_000_000, MaxDailyLoss: 50}, instruments, testLogger())

	m.OnFill(1, types.Buy, 10, 100)
	m.OnFill(1, types.Sell, 10, 50) // realize -500, well past the 50 daily cap

	ok, reason := m.Check(1, types.Buy, 1, 100)
	if ok || reason != types.RiskReject {
		t.Fatalf("Check() = %v, %s, want false, RISK_REJECT", ok, reason)
	}
}

func TestSnapshotReportsPerTickerState(t *testing.T) {
	t.Parallel()

	instruments := fakeInstruments{byTicker: map[types.TickerId]types.Instrument{
		1: {TickerID: 1, MaxPosition: 1_000_000, MaxLoss: 1_000_000},
	}}
	m := NewManager(Config{MaxPositionValue: 1_000_000_000, MaxDailyLoss: 1_000_000}, instruments, testLogger())
	m.OnFill(1, types.Buy, 10, 100)
	m.MarkPrice(1, 120)

	dailyLoss, tickers := m.Snapshot()
	if len(tickers) != 1 || tickers[0].Position != 10 {
		t.Fatalf("unexpected snapshot: %+v", tickers)
	}
	if tickers[0].UnrealizedPnL != 200 {
		t.Fatalf("UnrealizedPnL = %d, want 200", tickers[0].UnrealizedPnL)
	}
	if dailyLoss != 200 {
		t.Fatalf("dailyLoss = %d, want 200", dailyLoss)
	}
}
