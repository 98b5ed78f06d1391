// Package store provides crash-safe persistence for the state spec.md §6
// calls "Persisted state": cached instrument token lists per venue, and an
// access token file with an issued-at timestamp.
//
// Each venue's instrument cache is stored as a separate file:
// instruments_<venue>.json. An access token file is stored per venue as
// token_<venue>.json. Writes use atomic file replacement (write to .tmp,
// then rename) to prevent corruption from partial writes or crashes
// mid-save.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tradebridge/pkg/types"
)

// InstrumentCache is the persisted form of one venue's resolved instrument
// universe, with the timestamp it was fetched so callers can apply a TTL.
type InstrumentCache struct {
	FetchedAt   time.Time           `json:"fetched_at"`
	Instruments []types.Instrument  `json:"instruments"`
}

// Expired reports whether the cache is older than ttl.
func (c InstrumentCache) Expired(ttl time.Duration) bool {
	return time.Since(c.FetchedAt) > ttl
}

// AccessToken is the persisted form of a venue's auth token, alongside the
// time it was issued — the auth handshake itself (spec.md §1 Non-goals) is
// out of scope; this store only persists what it produces.
type AccessToken struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issued_at"`
}

// Expired reports whether the token is older than ttl.
func (t AccessToken) Expired(ttl time.Duration) bool {
	return time.Since(t.IssuedAt) > ttl
}

// Store persists venue state to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) readFile(name string) ([]byte, bool, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", name, err)
	}
	return data, true, nil
}

// SaveInstrumentCache atomically persists a venue's resolved instrument
// list along with the fetch timestamp.
func (s *Store) SaveInstrumentCache(venue string, instruments []types.Instrument, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache := InstrumentCache{FetchedAt: fetchedAt, Instruments: instruments}
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("marshal instrument cache: %w", err)
	}
	return s.writeAtomic("instruments_"+venue+".json", data)
}

// LoadInstrumentCache restores a venue's cached instrument list. Returns
// nil, nil if no cache exists yet.
func (s *Store) LoadInstrumentCache(venue string) (*InstrumentCache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.readFile("instruments_" + venue + ".json")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var cache InstrumentCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("unmarshal instrument cache: %w", err)
	}
	return &cache, nil
}

// SaveAccessToken atomically persists a venue's access token and issue
// time.
func (s *Store) SaveAccessToken(venue, token string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(AccessToken{Token: token, IssuedAt: issuedAt})
	if err != nil {
		return fmt.Errorf("marshal access token: %w", err)
	}
	return s.writeAtomic("token_"+venue+".json", data)
}

// LoadAccessToken restores a venue's persisted access token. Returns nil,
// nil if no token has been saved.
func (s *Store) LoadAccessToken(venue string) (*AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := s.readFile("token_" + venue + ".json")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var tok AccessToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("unmarshal access token: %w", err)
	}
	return &tok, nil
}
