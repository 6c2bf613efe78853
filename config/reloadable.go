package config

import (
	"log"
	"sync"
)

// ReloadResult reports the outcome of a follow-list reload.
type ReloadResult struct {
	Changed     bool
	TraderCount int
	Generation  uint64
}

// ReloadableTraders holds the live follow list behind a lock with a
// generation counter. Readers take a snapshot; in-flight work keeps
// the snapshot it admitted under.
type ReloadableTraders struct {
	mu         sync.RWMutex
	path       string
	byAddress  map[string]TraderContext
	topics     []string
	generation uint64
}

// NewReloadableTraders loads the initial follow list from path.
func NewReloadableTraders(path string) (*ReloadableTraders, error) {
	traders, err := LoadTraders(path)
	if err != nil {
		return nil, err
	}
	r := &ReloadableTraders{path: path, generation: 1}
	r.install(traders)
	return r, nil
}

func (r *ReloadableTraders) install(traders []TraderContext) {
	byAddr := make(map[string]TraderContext, len(traders))
	topics := make([]string, 0, len(traders))
	for _, t := range traders {
		byAddr[t.Address] = t
		topics = append(topics, AddressTopic(t.Address))
	}
	r.byAddress = byAddr
	r.topics = topics
}

// Lookup returns the context for a normalized address.
func (r *ReloadableTraders) Lookup(address string) (TraderContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAddress[address]
	return t, ok
}

// Snapshot returns a copy of the current follow list.
func (r *ReloadableTraders) Snapshot() []TraderContext {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TraderContext, 0, len(r.byAddress))
	for _, t := range r.byAddress {
		out = append(out, t)
	}
	return out
}

// Topics returns the padded log-topic filters for the subscription.
func (r *ReloadableTraders) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.topics))
	copy(out, r.topics)
	return out
}

// Generation returns the current config generation. It increments on
// every reload that changed the set.
func (r *ReloadableTraders) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Reload re-reads the follow list from disk. On any error the previous
// list stays installed and the error is returned.
func (r *ReloadableTraders) Reload() (ReloadResult, error) {
	traders, err := LoadTraders(r.path)
	if err != nil {
		return ReloadResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := len(traders) != len(r.byAddress)
	if !changed {
		for _, t := range traders {
			if prev, ok := r.byAddress[t.Address]; !ok || prev != t {
				changed = true
				break
			}
		}
	}
	if changed {
		r.install(traders)
		r.generation++
		log.Printf("[Config] follow list reloaded: %d traders (generation %d)", len(traders), r.generation)
	}
	return ReloadResult{Changed: changed, TraderCount: len(traders), Generation: r.generation}, nil
}
