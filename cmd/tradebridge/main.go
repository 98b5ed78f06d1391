// Command tradebridge is the trade bridge entry point: it loads
// configuration, wires one venue adapter session, an order gateway (paper
// or live per configuration), the risk gate, and the single-threaded trade
// engine loop, then waits for SIGINT/SIGTERM to shut everything down.
//
//	internal/config       — JSON configuration, TB_* env overrides
//	internal/registry     — venue token <-> ticker ID bijection
//	internal/adapter       — venue session state machine (two reference venues)
//	internal/decoder/orderbook — binary wire decode + book synthesis
//	internal/gateway       — paper/live order execution
//	internal/risk          — synchronous pre-trade risk gate
//	internal/tradeengine   — order manager + single-threaded engine loop
//	internal/dashboard     — optional read-only status server
//	internal/store         — instrument cache + access token persistence
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tradebridge/internal/adapter"
	"tradebridge/internal/config"
	"tradebridge/internal/dashboard"
	"tradebridge/internal/gateway"
	"tradebridge/internal/registry"
	"tradebridge/internal/risk"
	"tradebridge/internal/store"
	"tradebridge/internal/tradeengine"
	"tradebridge/pkg/types"
)

// cliArgs holds the positional CLI shape from spec.md §6:
//
//	<client_id:int> <algo_type:string> <exchange_type:string> <api_key>
//	<api_secret> [<clip> <threshold> <max_order> <max_pos> <max_loss>]*
type cliArgs struct {
	clientID     int64
	algoType     string
	exchangeType string
	apiKey       string
	apiSecret    string
	overrides    []instrumentOverride
}

type instrumentOverride struct {
	clip, threshold, maxOrder, maxPosition, maxLoss int64
}

func parseCLI(args []string) (cliArgs, error) {
	if len(args) < 5 {
		return cliArgs{}, fmt.Errorf("usage: tradebridge <client_id> <algo_type> <exchange_type> <api_key> <api_secret> [<clip> <threshold> <max_order> <max_pos> <max_loss>]*")
	}

	clientID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return cliArgs{}, fmt.Errorf("client_id: %w", err)
	}

	out := cliArgs{
		clientID:     clientID,
		algoType:     args[1],
		exchangeType: args[2],
		apiKey:       args[3],
		apiSecret:    args[4],
	}

	rest := args[5:]
	if len(rest)%5 != 0 {
		return cliArgs{}, fmt.Errorf("trailing instrument overrides must come in groups of 5 (clip threshold max_order max_pos max_loss), got %d extra args", len(rest))
	}
	for i := 0; i < len(rest); i += 5 {
		group := rest[i : i+5]
		vals := make([]int64, 5)
		for j, s := range group {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return cliArgs{}, fmt.Errorf("instrument override %d: %w", i/5, err)
			}
			vals[j] = v
		}
		out.overrides = append(out.overrides, instrumentOverride{
			clip: vals[0], threshold: vals[1], maxOrder: vals[2], maxPosition: vals[3], maxLoss: vals[4],
		})
	}
	return out, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	cli, err := parseCLI(os.Args[1:])
	if err != nil {
		slog.Error("invalid arguments", "error", err)
		return 1
	}

	cfgPath := "configs/config.json"
	if p := os.Getenv("TB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		return 1
	}

	// CLI exchange_type and credentials take precedence over the config
	// file, matching spec.md §6's CLI as the authoritative runtime entry.
	cfg.TradingSystem.ActiveExchange = cli.exchangeType
	exch := cfg.Exchanges[cli.exchangeType]
	exch.APICredentials.APIKey = cli.apiKey
	exch.APICredentials.APISecret = cli.apiSecret
	if cfg.Exchanges == nil {
		cfg.Exchanges = map[string]config.ExchangeConfig{}
	}
	cfg.Exchanges[cli.exchangeType] = exch

	applyInstrumentOverrides(cfg, cli.overrides)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	logger := buildLogger(cfg.Logging)
	logger.Info("tradebridge starting",
		"client_id", cli.clientID, "algo", cli.algoType, "exchange", cli.exchangeType,
		"trading_mode", cfg.TradingSystem.TradingMode)

	reg := registry.New()
	for _, inst := range cfg.Instruments {
		if err := reg.LoadInstrument(types.VenueToken(inst.Symbol), toTypesInstrument(inst)); err != nil {
			logger.Error("failed to load instrument", "symbol", inst.Symbol, "error", err)
			return 1
		}
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return 1
	}
	defer st.Close()
	persistInstrumentCache(st, cli.exchangeType, cfg.Instruments, exch.CacheTTL(), logger)

	session, err := buildSession(cfg, cli.exchangeType, reg, logger)
	if err != nil {
		logger.Error("failed to build venue session", "error", err)
		return 1
	}

	riskMgr := risk.NewManager(risk.Config{
		MaxPositionValue: cfg.Risk.MaxPositionValue,
		MaxDailyLoss:     cfg.Risk.MaxDailyLoss,
	}, reg, logger)

	gw, err := buildGateway(cfg, reg, logger)
	if err != nil {
		logger.Error("failed to build gateway", "error", err)
		return 1
	}

	om := tradeengine.NewOrderManager(cli.clientID, gw, riskMgr, logger)
	engine := tradeengine.New(session.Updates(), gw.Responses(), tradeengine.NoopFeatureEngine{}, tradeengine.PassThroughAlgorithm{}, om, logger)

	if paperGw, ok := gw.(*gateway.PaperGateway); ok {
		paperGw.SetPriceSource(engine)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	riskCtx, riskCancel := context.WithCancel(context.Background())
	defer riskCancel()
	go riskMgr.Run(riskCtx)

	if err := session.Start(ctx); err != nil {
		logger.Error("failed to start venue session", "error", err)
		return 1
	}
	defer session.Stop()

	if err := gw.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		return 1
	}
	defer gw.Stop()

	var dashSrv *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashSrv = dashboard.NewServer(cfg.Dashboard, &engineProvider{engine: engine, registry: reg, risk: riskMgr}, *cfg, logger)
		go func() {
			if err := dashSrv.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		<-engineDone
	case err := <-engineDone:
		if err != nil {
			logger.Error("engine exited with error", "error", err)
		}
	}

	if dashSrv != nil {
		if err := dashSrv.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	return 0
}

func applyInstrumentOverrides(cfg *config.Config, overrides []instrumentOverride) {
	for i, ov := range overrides {
		if i >= len(cfg.Instruments) {
			break
		}
		cfg.Instruments[i].Clip = ov.clip
		cfg.Instruments[i].Threshold = ov.threshold
		cfg.Instruments[i].MaxOrderQty = ov.maxOrder
		cfg.Instruments[i].MaxPosition = ov.maxPosition
		cfg.Instruments[i].MaxLoss = ov.maxLoss
	}
}

func toTypesInstrument(inst config.InstrumentConfig) types.Instrument {
	return types.Instrument{
		Symbol: inst.Symbol, Exchange: inst.Exchange, TickerID: types.TickerId(inst.TickerID),
		IsFutures: inst.IsFutures, ExpiryDate: inst.ExpiryDate,
		Clip: inst.Clip, Threshold: inst.Threshold, MaxPosition: inst.MaxPosition, MaxLoss: inst.MaxLoss,
		MaxOrderQty: inst.MaxOrderQty,
	}
}

func persistInstrumentCache(st *store.Store, venue string, instruments []config.InstrumentConfig, ttl time.Duration, logger *slog.Logger) {
	cached, err := st.LoadInstrumentCache(venue)
	if err != nil {
		logger.Warn("failed to load instrument cache", "venue", venue, "error", err)
	}
	if cached != nil && !cached.Expired(ttl) {
		return
	}

	converted := make([]types.Instrument, 0, len(instruments))
	for _, inst := range instruments {
		converted = append(converted, toTypesInstrument(inst))
	}
	if err := st.SaveInstrumentCache(venue, converted, time.Now()); err != nil {
		logger.Warn("failed to persist instrument cache", "venue", venue, "error", err)
	}
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildSession constructs the one venue adapter session for the active
// exchange, per spec.md §6's two reference venues: ZERODHA dispatches
// through the binary decoder + synthesizer, BINANCE through the flat JSON
// decoder.
func buildSession(cfg *config.Config, exchangeType string, reg *registry.Registry, logger *slog.Logger) (*adapter.Session, error) {
	exch := cfg.Exchanges[exchangeType]

	switch exchangeType {
	case "ZERODHA":
		dec := adapter.NewBinaryDecoder(reg)
		enc := adapter.NewReferenceControlEncoder()
		return adapter.New(exch.WSURL, dec, enc, logger), nil
	case "BINANCE":
		dec := adapter.NewJSONDecoder(reg, 1)
		enc := adapter.NewReferenceControlEncoder()
		return adapter.New(exch.WSURL, dec, enc, logger), nil
	default:
		return nil, fmt.Errorf("unknown exchange_type %q (expected ZERODHA or BINANCE)", exchangeType)
	}
}

// buildGateway constructs the paper or live order gateway per
// trading_system.trading_mode.
func buildGateway(cfg *config.Config, reg *registry.Registry, logger *slog.Logger) (gateway.Gateway, error) {
	if cfg.TradingSystem.TradingMode == config.ModeLive {
		exch := cfg.Exchanges[cfg.TradingSystem.ActiveExchange]
		auth := staticAuthProvider{apiKey: exch.APICredentials.APIKey, apiSecret: exch.APICredentials.APISecret}
		return gateway.NewLiveGateway(gateway.LiveGatewayConfig{
			BaseURL:      exch.RESTBaseURL,
			PlacePath:    "/orders",
			CancelPath:   "/orders/%s",
			PollPath:     "/orders/%s",
			PollInterval: time.Second,
		}, auth, reg, logger), nil
	}

	minLatency, maxLatency := cfg.PaperLatency()
	paperCfg := gateway.PaperConfig{
		FillProbability: cfg.TradingSystem.PaperTrading.FillProbability,
		MinLatency:      minLatency,
		MaxLatency:      maxLatency,
		SlippageFactor:  0.001,
	}
	if paperCfg.FillProbability == 0 {
		paperCfg = gateway.DefaultPaperConfig()
	}
	return gateway.NewPaperGateway(reg, paperCfg, nil, logger), nil
}

// staticAuthProvider is the minimal AuthProvider a REST-key venue needs:
// a plain API-key header. TOTP/HMAC handshake venues are out of scope
// (spec.md §1 Non-goals) and would supply their own AuthProvider.
type staticAuthProvider struct {
	apiKey    string
	apiSecret string
}

func (a staticAuthProvider) Headers(method, path, body string) (map[string]string, error) {
	return map[string]string{"X-API-KEY": a.apiKey}, nil
}
