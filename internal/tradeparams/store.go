// Package tradeparams keeps per-symbol strategy threshold overrides in
// memory with JSON persistence and pub/sub for change notifications.
package tradeparams

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dipsniper/internal/strategy"
)

// AllSymbols is the key whose overrides apply to every symbol. Symbol
// specific values win over it.
const AllSymbols = "*"

// Override keys.
const (
	KeyTakeProfit     = "take_profit"
	KeyStopLoss       = "stop_loss"
	KeyProximityBand  = "proximity_band"
	KeyVolumeFraction = "volume_fraction"
	KeyDryUpFraction  = "dry_up_fraction"
	KeyRSIMin         = "rsi_min"
	KeyRSIMax         = "rsi_max"
)

var validKeys = map[string]bool{
	KeyTakeProfit:     true,
	KeyStopLoss:       true,
	KeyProximityBand:  true,
	KeyVolumeFraction: true,
	KeyDryUpFraction:  true,
	KeyRSIMin:         true,
	KeyRSIMax:         true,
}

// Keys lists the accepted override keys in sorted order.
func Keys() []string {
	out := make([]string, 0, len(validKeys))
	for k := range validKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Event is the wire format for change notifications.
type Event struct {
	Type   string                        `json:"type"`             // "snapshot", "set", "delete"
	Symbol string                        `json:"symbol,omitempty"` // set/delete only
	Key    string                        `json:"key,omitempty"`    // set/delete only
	Value  float64                       `json:"value,omitempty"`  // set only
	Data   map[string]map[string]float64 `json:"data,omitempty"`   // snapshot only
}

// Store holds overrides in memory with JSON persistence and pub/sub.
type Store struct {
	mu       sync.RWMutex
	params   map[string]map[string]float64 // symbol -> key -> value
	filePath string
	log      *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewStore creates a Store, loading persisted state from filePath. An empty
// filePath keeps everything in memory.
func NewStore(filePath string) *Store {
	s := &Store{
		params:   make(map[string]map[string]float64),
		filePath: filePath,
		log:      slog.Default().With("component", "tradeparams"),
		subs:     make(map[int]chan Event),
	}
	s.load()
	return s
}

// Snapshot returns a deep copy of all overrides.
func (s *Store) Snapshot() map[string]map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deepCopy()
}

// Get returns the overrides stored for symbol (nil-safe).
func (s *Store) Get(symbol string) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.params[normalize(symbol)]
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Set stores an override, persists to disk and broadcasts to subscribers.
func (s *Store) Set(symbol, key string, value float64) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown parameter %q (want one of %s)", key, strings.Join(Keys(), ", "))
	}
	if value <= 0 && key != KeyRSIMin {
		return fmt.Errorf("%s must be > 0, got %v", key, value)
	}
	symbol = normalize(symbol)

	s.mu.Lock()
	if s.params[symbol] == nil {
		s.params[symbol] = make(map[string]float64)
	}
	s.params[symbol][key] = value
	s.flush()
	s.mu.Unlock()

	s.broadcast(Event{Type: "set", Symbol: symbol, Key: key, Value: value})
	return nil
}

// Delete removes an override, persists to disk and broadcasts to subscribers.
func (s *Store) Delete(symbol, key string) {
	symbol = normalize(symbol)
	s.mu.Lock()
	if m, ok := s.params[symbol]; ok {
		delete(m, key)
		if len(m) == 0 {
			delete(s.params, symbol)
		}
	}
	s.flush()
	s.mu.Unlock()

	s.broadcast(Event{Type: "delete", Symbol: symbol, Key: key})
}

// Apply overlays the stored overrides for symbol onto cfg: first the
// AllSymbols entry, then the symbol's own.
func (s *Store) Apply(cfg strategy.Config, symbol string) strategy.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range []string{AllSymbols, normalize(symbol)} {
		for k, v := range s.params[key] {
			switch k {
			case KeyTakeProfit:
				cfg.TakeProfit = v
			case KeyStopLoss:
				cfg.StopLoss = v
			case KeyProximityBand:
				cfg.ProximityBand = v
			case KeyVolumeFraction:
				cfg.VolumeFraction = v
			case KeyDryUpFraction:
				cfg.DryUpFraction = v
			case KeyRSIMin:
				lo := v
				cfg.RSIMin = &lo
			case KeyRSIMax:
				hi := v
				cfg.RSIMax = &hi
			}
		}
	}
	return cfg
}

// Subscribe returns a channel that first receives a snapshot and then every
// change. bufSize controls the channel buffer; slow consumers will have
// events dropped.
func (s *Store) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, max(bufSize, 1))
	ch <- Event{Type: "snapshot", Data: s.Snapshot()}

	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// broadcast sends an event to all subscribers non-blocking (drop on full).
func (s *Store) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// load reads the JSON file into memory.
func (s *Store) load() {
	if s.filePath == "" {
		return
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return // File doesn't exist yet.
	}
	var loaded map[string]map[string]float64
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("loading tradeparams file", "error", err)
		return
	}
	if loaded == nil {
		return
	}
	s.params = loaded
	s.log.Info("loaded tradeparams", "symbols", len(loaded))
}

// flush writes the in-memory state to disk. Must be called with mu held.
func (s *Store) flush() {
	if s.filePath == "" {
		return
	}
	data, err := json.MarshalIndent(s.params, "", "  ")
	if err != nil {
		s.log.Error("marshalling tradeparams", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		s.log.Error("creating tradeparams dir", "error", err)
		return
	}
	if err := os.WriteFile(s.filePath, data, 0o644); err != nil {
		s.log.Error("writing tradeparams file", "error", err)
	}
}

// deepCopy returns a deep copy of params. Must be called with mu held.
func (s *Store) deepCopy() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(s.params))
	for sym, m := range s.params {
		inner := make(map[string]float64, len(m))
		for k, v := range m {
			inner[k] = v
		}
		out[sym] = inner
	}
	return out
}
