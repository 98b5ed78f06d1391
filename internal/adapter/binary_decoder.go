package adapter

import (
	"tradebridge/internal/decoder"
	"tradebridge/internal/orderbook"
	"tradebridge/pkg/types"
)

// BinaryDecoder adapts the venue A binary WireDecoder + OrderBookSynthesizer
// pair into the Session's Decoder interface: frame bytes in, canonical
// MarketUpdates out. LTP and INDEX packets are translated directly into a
// single update each; FULL packets are routed through the synthesizer,
// which may emit several diff events per packet. QUOTE packets carry no
// depth and are not diffed — they are translated into a TRADE carrying the
// packet's last traded price and quantity in Price/Qty.
type BinaryDecoder struct {
	wire *decoder.Decoder
	synth *orderbook.Synthesizer
	// tickers tracks every ticker ever seen so Reconnect() knows what to
	// clear; populated as FULL packets arrive.
	tickers map[types.TickerId]bool
}

// NewBinaryDecoder builds a venue A decoder bound to the given instrument
// resolver (typically *registry.Registry).
func NewBinaryDecoder(resolver decoder.InstrumentResolver) *BinaryDecoder {
	return &BinaryDecoder{
		wire:    decoder.New(resolver),
		synth:   orderbook.New(),
		tickers: make(map[types.TickerId]bool),
	}
}

// Decode implements adapter.Decoder.
func (b *BinaryDecoder) Decode(raw []byte) ([]types.MarketUpdate, error) {
	packets, err := b.wire.DecodeFrame(raw)
	// err may be ErrUnknownPacket alongside partially decoded packets, or
	// ErrShortFrame with a truncated tail — either way, decode what we can
	// and surface the error to the caller for logging.
	var updates []types.MarketUpdate

	for _, pkt := range packets {
		switch pkt.Kind {
		case decoder.KindFull:
			b.tickers[pkt.TickerID] = true
			diffed, synthErr := b.synth.ApplyFull(pkt)
			if synthErr != nil {
				// Crossed book: the snapshot is discarded and the error is
				// returned to the caller for logging.
				if err == nil {
					err = synthErr
				}
				continue
			}
			updates = append(updates, diffed...)
		case decoder.KindLTP:
			updates = append(updates, types.MarketUpdate{
				Type: types.Trade, TickerID: pkt.TickerID, Price: types.Price(pkt.LastPrice),
			})
		case decoder.KindQuote:
			updates = append(updates, types.MarketUpdate{
				Type: types.Trade, TickerID: pkt.TickerID,
				Price: types.Price(pkt.LastPrice), Qty: types.Qty(pkt.LastQty),
			})
		case decoder.KindIndex:
			updates = append(updates, types.MarketUpdate{
				Type: types.Trade, TickerID: pkt.TickerID, Price: types.Price(pkt.LastPrice),
			})
		}
	}

	return updates, err
}

// Reconnect implements adapter.Decoder: clear every ticker's synthesized
// book and return CANCEL events for every level that was live.
func (b *BinaryDecoder) Reconnect() []types.MarketUpdate {
	var events []types.MarketUpdate
	for ticker := range b.tickers {
		events = append(events, b.synth.Reconnect(ticker)...)
	}
	return events
}

var _ Decoder = (*BinaryDecoder)(nil)
