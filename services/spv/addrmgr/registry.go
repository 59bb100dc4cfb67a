// Package addrmgr keeps the list of peer addresses the network handler can connect to.
package addrmgr

import (
	"sync"
	"time"

	txmap "github.com/bsv-blockchain/go-tx-map"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/bsv-blockchain/teranode-spv/util"
)

// Registry is the set of known peer addresses, deduplicated by host and port.
//
// The ordered slice backs the randomized circular scan; the index answers lookups without
// taking the slice lock.
type Registry struct {
	logger      ulogger.Logger
	mu          sync.RWMutex
	addresses   []*PeerAddress
	index       *txmap.SyncedMap[string, *PeerAddress]
	randomIndex util.RandomIndex
	now         func() time.Time
}

type Option func(*Registry)

// WithRandomIndex overrides the random start index used by PickCandidate.
func WithRandomIndex(fn util.RandomIndex) Option {
	return func(r *Registry) {
		r.randomIndex = fn
	}
}

// WithNow overrides the clock used to stamp new addresses.
func WithNow(fn func() time.Time) Option {
	return func(r *Registry) {
		r.now = fn
	}
}

func New(logger ulogger.Logger, opts ...Option) *Registry {
	r := &Registry{
		logger:      logger,
		addresses:   make([]*PeerAddress, 0),
		index:       txmap.NewSyncedMap[string, *PeerAddress](),
		randomIndex: util.DefaultRandomIndex,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Add inserts the address unless one with the same host and port is already known.
// Addresses without a last seen time are stamped with the current time.
func (r *Registry) Add(address *PeerAddress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := address.Key()
	if r.index.Exists(key) {
		return false
	}

	if address.LastSeen().IsZero() {
		address.Touch(r.now())
	}

	r.addresses = append(r.addresses, address)
	r.index.Set(key, address)

	return true
}

// AddAll adds every address and returns how many were new.
func (r *Registry) AddAll(addresses []*PeerAddress) int {
	added := 0

	for _, address := range addresses {
		if r.Add(address) {
			added++
		}
	}

	return added
}

// Remove deletes the address, returning false when it was not registered.
func (r *Registry) Remove(address *PeerAddress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(address.Key())
}

func (r *Registry) removeLocked(key string) bool {
	if !r.index.Exists(key) {
		return false
	}

	r.index.Delete(key)

	for i, a := range r.addresses {
		if a.Key() == key {
			r.addresses = append(r.addresses[:i], r.addresses[i+1:]...)
			break
		}
	}

	return true
}

// Lookup returns the registered address for host and port.
func (r *Registry) Lookup(host string, port uint16) (*PeerAddress, bool) {
	return r.index.Get(NewPeerAddress(host, port, 0).Key())
}

func (r *Registry) Len() int {
	return r.index.Length()
}

// Addresses returns a snapshot of the registry in insertion order.
func (r *Registry) Addresses() []*PeerAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addresses := make([]*PeerAddress, len(r.addresses))
	copy(addresses, r.addresses)

	return addresses
}

// ConnectedCount returns the number of addresses currently marked connected.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0

	for _, a := range r.addresses {
		if a.Connected() {
			count++
		}
	}

	return count
}

// PruneStale removes every non-static address that has not been seen since the previous
// prune at lastPrune. Connected addresses are refreshed on every read, so only idle or
// unreachable peers age out. The removed addresses are returned.
func (r *Registry) PruneStale(lastPrune time.Time) []*PeerAddress {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.addresses[:0]
	removed := make([]*PeerAddress, 0)

	for _, a := range r.addresses {
		if !a.Static && a.LastSeen().Before(lastPrune) {
			r.index.Delete(a.Key())
			removed = append(removed, a)

			continue
		}

		kept = append(kept, a)
	}

	// clear the tail so removed addresses can be collected
	for i := len(kept); i < len(r.addresses); i++ {
		r.addresses[i] = nil
	}

	r.addresses = kept

	if len(removed) > 0 {
		r.logger.Debugf("[Registry] pruned %d stale peer addresses, %d remaining", len(removed), len(kept))
	}

	return removed
}

// PickCandidate returns an address chosen by a randomized circular scan. With
// requireUnconnected only addresses without a connection qualify, with staticOnly only
// static addresses qualify. Nil is returned when nothing qualifies.
func (r *Registry) PickCandidate(requireUnconnected, staticOnly bool) *PeerAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	address, found := util.CircularScan(r.addresses, r.randomIndex, func(a *PeerAddress) bool {
		if requireUnconnected && a.Connected() {
			return false
		}

		return !staticOnly || a.Static
	})
	if !found {
		return nil
	}

	return address
}
