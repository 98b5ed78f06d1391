// Package decoder reconstructs typed market-data packets from the venue A
// binary wire format: a length-prefixed frame of length-prefixed packets,
// each dispatched by its declared length (and, for index instruments, by
// the instrument token falling in a reserved range).
//
// The decoder never blocks and never panics on malformed input — truncated
// frames stop cleanly at the point of truncation, and unknown packet
// lengths are skipped so later packets in the same frame still decode.
package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"tradebridge/pkg/types"
)

// ErrShortFrame is returned when fewer than 2 bytes remain where a length
// prefix was expected, or a declared packet_len exceeds the remaining
// bytes in the frame. Decoding stops at the truncation point; packets
// already decoded are still returned.
var ErrShortFrame = errors.New("decoder: short frame")

// ErrUnknownPacket identifies a packet whose length matches none of the
// known packet kinds. The caller logs and skips it; it is not fatal to the
// frame.
var ErrUnknownPacket = errors.New("decoder: unknown packet length")

// PacketKind identifies which of the wire's packet shapes was decoded.
type PacketKind int

const (
	KindLTP PacketKind = iota
	KindQuote
	KindFull
	KindIndex
)

const (
	lenLTP   = 8
	lenQuote = 44
	lenFull  = 184

	// Reserved instrument-token range used as a fallback index detector
	// when the instrument registry has no entry for the token (see
	// InstrumentResolver).
	indexTokenLow  = 100000
	indexTokenHigh = 300000
)

// DepthEntry is one aggregated price level within a FULL packet's 5-deep
// bid or ask book.
type DepthEntry struct {
	Qty    int32
	Price  int32
	Orders int16
}

// Packet is the decoder's output: a tagged union of the four wire shapes.
// Only the fields relevant to Kind are populated.
type Packet struct {
	Kind     PacketKind
	Token    types.VenueToken
	TickerID types.TickerId

	LastPrice int32
	LastQty   int32
	AvgPrice  int32
	Volume    int32
	BuyQty    int32
	SellQty   int32
	Open      int32
	High      int32
	Low       int32
	Close     int32

	// FULL-only
	LastTradeTime int32
	OpenInterest  int32
	OIDayHigh     int32
	OIDayLow      int32
	ExchangeTS    int32
	Bids          [5]DepthEntry
	Asks          [5]DepthEntry

	// INDEX-only: ExchangeTS above is reused when present (>=32 bytes).
	HasExchangeTS bool
}

// InstrumentResolver maps a venue token to the internal TickerId and
// reports whether the token identifies an index instrument. The decoder
// consults the registry first and falls back to the reserved numeric
// range only when the registry has no opinion — resolving the spec's
// open question about the heuristic range check.
type InstrumentResolver interface {
	Resolve(token types.VenueToken) (types.TickerId, bool)
	IsIndex(token types.VenueToken) bool
}

// Decoder turns raw frames into decoded Packets.
type Decoder struct {
	resolver InstrumentResolver
}

// New creates a Decoder bound to the given instrument registry.
func New(resolver InstrumentResolver) *Decoder {
	return &Decoder{resolver: resolver}
}

// DecodeFrame parses `[u16 packet_count]{[u16 packet_len][packet_len bytes]}*`
// and returns every packet successfully decoded. If a short frame is
// encountered partway through, the packets decoded so far are returned
// alongside ErrShortFrame. Packets of unrecognized length are skipped —
// decoding continues with the next packet and ErrUnknownPacket is
// returned alongside whatever else decoded successfully in the frame.
func (d *Decoder) DecodeFrame(frame []byte) ([]Packet, error) {
	if len(frame) < 2 {
		return nil, ErrShortFrame
	}
	count := binary.BigEndian.Uint16(frame[0:2])
	offset := 2

	var packets []Packet
	var unknownSeen bool

	for i := uint16(0); i < count; i++ {
		if len(frame)-offset < 2 {
			return packets, ErrShortFrame
		}
		packetLen := int(binary.BigEndian.Uint16(frame[offset : offset+2]))
		offset += 2

		if len(frame)-offset < packetLen {
			return packets, ErrShortFrame
		}
		raw := frame[offset : offset+packetLen]
		offset += packetLen

		pkt, err := d.decodePacket(raw)
		if err != nil {
			unknownSeen = true
			continue
		}
		packets = append(packets, pkt)
	}

	if unknownSeen {
		return packets, ErrUnknownPacket
	}
	return packets, nil
}

func (d *Decoder) decodePacket(raw []byte) (Packet, error) {
	if len(raw) < 4 {
		return Packet{}, ErrShortFrame
	}
	token := types.VenueToken(fmt.Sprintf("%d", binary.BigEndian.Uint32(raw[0:4])))

	if d.resolver != nil && d.isIndexToken(token) {
		return d.decodeIndex(raw, token)
	}

	switch len(raw) {
	case lenLTP:
		return d.decodeLTP(raw, token)
	case lenQuote:
		return d.decodeQuote(raw, token)
	case lenFull:
		return d.decodeFull(raw, token)
	default:
		return Packet{}, ErrUnknownPacket
	}
}

func (d *Decoder) isIndexToken(token types.VenueToken) bool {
	if d.resolver.IsIndex(token) {
		return true
	}
	if _, known := d.resolver.Resolve(token); known {
		// Registry knows this token and didn't flag it as an index.
		return false
	}
	var n int64
	if _, err := fmt.Sscanf(string(token), "%d", &n); err != nil {
		return false
	}
	return n >= indexTokenLow && n <= indexTokenHigh
}

func (d *Decoder) resolve(token types.VenueToken) types.TickerId {
	if d.resolver == nil {
		return 0
	}
	id, _ := d.resolver.Resolve(token)
	return id
}

func i32(b []byte) int32 { return int32(binary.BigEndian.Uint32(b)) }
func i16(b []byte) int16 { return int16(binary.BigEndian.Uint16(b)) }

func (d *Decoder) decodeLTP(raw []byte, token types.VenueToken) (Packet, error) {
	return Packet{
		Kind:      KindLTP,
		Token:     token,
		TickerID:  d.resolve(token),
		LastPrice: i32(raw[4:8]),
	}, nil
}

func (d *Decoder) decodeQuote(raw []byte, token types.VenueToken) (Packet, error) {
	p := Packet{Kind: KindQuote, Token: token, TickerID: d.resolve(token)}
	d.fillQuoteFields(&p, raw[4:44])
	return p, nil
}

func (d *Decoder) fillQuoteFields(p *Packet, f []byte) {
	p.LastPrice = i32(f[0:4])
	p.LastQty = i32(f[4:8])
	p.AvgPrice = i32(f[8:12])
	p.Volume = i32(f[12:16])
	p.BuyQty = i32(f[16:20])
	p.SellQty = i32(f[20:24])
	p.Open = i32(f[24:28])
	p.High = i32(f[28:32])
	p.Low = i32(f[32:36])
	p.Close = i32(f[36:40])
}

func (d *Decoder) decodeFull(raw []byte, token types.VenueToken) (Packet, error) {
	p := Packet{Kind: KindFull, Token: token, TickerID: d.resolve(token)}
	d.fillQuoteFields(&p, raw[4:44])

	f := raw[44:64]
	p.LastTradeTime = i32(f[0:4])
	p.OpenInterest = i32(f[4:8])
	p.OIDayHigh = i32(f[8:12])
	p.OIDayLow = i32(f[12:16])
	p.ExchangeTS = i32(f[16:20])
	p.HasExchangeTS = true

	depth := raw[64:184]
	for i := 0; i < 5; i++ {
		e := depth[i*12 : i*12+12]
		p.Bids[i] = DepthEntry{Qty: i32(e[0:4]), Price: i32(e[4:8]), Orders: i16(e[8:10])}
	}
	for i := 0; i < 5; i++ {
		e := depth[60+i*12 : 60+i*12+12]
		p.Asks[i] = DepthEntry{Qty: i32(e[0:4]), Price: i32(e[4:8]), Orders: i16(e[8:10])}
	}
	return p, nil
}

// decodeIndex decodes an index tick: token, a 4-byte reserved field
// (mirroring the padding convention used by DepthEntry elsewhere in this
// wire format), then last/high/low/open/close, with an optional trailing
// exchange timestamp once the packet is long enough to carry it.
func (d *Decoder) decodeIndex(raw []byte, token types.VenueToken) (Packet, error) {
	if len(raw) < 28 {
		return Packet{}, ErrShortFrame
	}
	p := Packet{Kind: KindIndex, Token: token, TickerID: d.resolve(token)}
	f := raw[8:28] // skip token(4) + reserved(4)
	p.LastPrice = i32(f[0:4])
	p.High = i32(f[4:8])
	p.Low = i32(f[8:12])
	p.Open = i32(f[12:16])
	p.Close = i32(f[16:20])
	if len(raw) >= 32 {
		p.ExchangeTS = i32(raw[28:32])
		p.HasExchangeTS = true
	}
	return p, nil
}
