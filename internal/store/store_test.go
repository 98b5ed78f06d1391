package store

import (
	"testing"
	"time"

	"tradebridge/pkg/types"
)

func TestSaveAndLoadInstrumentCache(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	instruments := []types.Instrument{
		{Symbol: "NIFTY", Exchange: "ZERODHA", TickerID: 7, Clip: 50, MaxPosition: 500, MaxLoss: 100000},
	}
	fetchedAt := time.Now().Add(-time.Hour)

	if err := s.SaveInstrumentCache("ZERODHA", instruments, fetchedAt); err != nil {
		t.Fatalf("SaveInstrumentCache: %v", err)
	}

	loaded, err := s.LoadInstrumentCache("ZERODHA")
	if err != nil {
		t.Fatalf("LoadInstrumentCache: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadInstrumentCache returned nil")
	}
	if len(loaded.Instruments) != 1 || loaded.Instruments[0].Symbol != "NIFTY" {
		t.Fatalf("unexpected instruments: %+v", loaded.Instruments)
	}
	if loaded.Expired(30 * time.Minute) != true {
		t.Fatal("expected a 1h-old cache to be expired against a 30m TTL")
	}
	if loaded.Expired(2 * time.Hour) {
		t.Fatal("expected a 1h-old cache to still be valid against a 2h TTL")
	}
}

func TestLoadInstrumentCacheMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadInstrumentCache("BINANCE")
	if err != nil {
		t.Fatalf("LoadInstrumentCache: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing cache, got %+v", loaded)
	}
}

func TestSaveInstrumentCacheOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	now := time.Now()
	_ = s.SaveInstrumentCache("ZERODHA", []types.Instrument{{Symbol: "A"}}, now)
	_ = s.SaveInstrumentCache("ZERODHA", []types.Instrument{{Symbol: "B"}}, now)

	loaded, err := s.LoadInstrumentCache("ZERODHA")
	if err != nil {
		t.Fatalf("LoadInstrumentCache: %v", err)
	}
	if len(loaded.Instruments) != 1 || loaded.Instruments[0].Symbol != "B" {
		t.Fatalf("expected the latest save to win, got %+v", loaded.Instruments)
	}
}

func TestSaveAndLoadAccessToken(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	issuedAt := time.Now().Add(-10 * time.Minute)
	if err := s.SaveAccessToken("ZERODHA", "tok-123", issuedAt); err != nil {
		t.Fatalf("SaveAccessToken: %v", err)
	}

	loaded, err := s.LoadAccessToken("ZERODHA")
	if err != nil {
		t.Fatalf("LoadAccessToken: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadAccessToken returned nil")
	}
	if loaded.Token != "tok-123" {
		t.Fatalf("Token = %q, want tok-123", loaded.Token)
	}
	if !loaded.Expired(5 * time.Minute) {
		t.Fatal("expected a 10m-old token to be expired against a 5m TTL")
	}
}

func TestLoadAccessTokenMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadAccessToken("BINANCE")
	if err != nil {
		t.Fatalf("LoadAccessToken: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing token, got %+v", loaded)
	}
}
