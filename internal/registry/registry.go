// Package registry owns the VenueToken ↔ TickerId bijection and the
// TickerId → human symbol map described in the data model: a TickerId is
// created on first subscribe and retained until explicit unsubscribe or
// process exit. The registry also answers the decoder's index-token
// question, backed by configured instrument metadata rather than a bare
// numeric range.
package registry

import (
	"fmt"
	"sync"

	"tradebridge/pkg/types"
)

// Registry is the single mutex-guarded bijection shared by the decoder,
// the adapter session, and the order gateway's ticker validation. Critical
// sections are short — no I/O happens while the lock is held.
type Registry struct {
	mu sync.Mutex

	byToken  map[types.VenueToken]types.TickerId
	byTicker map[types.TickerId]types.Instrument
	tokenOf  map[types.TickerId]types.VenueToken
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byToken:  make(map[types.VenueToken]types.TickerId),
		byTicker: make(map[types.TickerId]types.Instrument),
		tokenOf:  make(map[types.TickerId]types.VenueToken),
	}
}

// LoadInstrument registers one configured instrument under its venue
// token, assigning the TickerId named in configuration. Returns an error
// if the token or ticker ID is already registered to a different entry.
func (r *Registry) LoadInstrument(token types.VenueToken, inst types.Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byToken[token]; ok && existing != inst.TickerID {
		return fmt.Errorf("registry: token %q already bound to ticker %d", token, existing)
	}
	if existing, ok := r.tokenOf[inst.TickerID]; ok && existing != token {
		return fmt.Errorf("registry: ticker %d already bound to token %q", inst.TickerID, existing)
	}

	r.byToken[token] = inst.TickerID
	r.byTicker[inst.TickerID] = inst
	r.tokenOf[inst.TickerID] = token
	return nil
}

// Subscribe assigns a TickerId to a venue token at subscription time, for
// tokens that arrive without prior static configuration. It is a no-op if
// the token is already registered.
func (r *Registry) Subscribe(token types.VenueToken, tickerID types.TickerId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byToken[token]; ok {
		return
	}
	r.byToken[token] = tickerID
	r.tokenOf[tickerID] = token
}

// Unsubscribe removes a token's bijection entry entirely.
func (r *Registry) Unsubscribe(token types.VenueToken) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tickerID, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	delete(r.byTicker, tickerID)
	delete(r.tokenOf, tickerID)
}

// Resolve implements decoder.InstrumentResolver.
func (r *Registry) Resolve(token types.VenueToken) (types.TickerId, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	return id, ok
}

// IsIndex implements decoder.InstrumentResolver.
func (r *Registry) IsIndex(token types.VenueToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byToken[token]
	if !ok {
		return false
	}
	return r.byTicker[id].IsIndex
}

// Symbol returns the human-readable symbol for a TickerId.
func (r *Registry) Symbol(tickerID types.TickerId) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byTicker[tickerID]
	if !ok {
		return "", false
	}
	return inst.Symbol, true
}

// Instrument returns the full configured instrument for a TickerId.
func (r *Registry) Instrument(tickerID types.TickerId) (types.Instrument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.byTicker[tickerID]
	return inst, ok
}

// Known reports whether a TickerId has been registered. (The order
// gateway's INVALID_TICKER check goes through Instrument instead.)
func (r *Registry) Known(tickerID types.TickerId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.byTicker[tickerID]
	return ok
}
