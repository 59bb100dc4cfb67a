// Package netsync tracks outstanding inventory requests and builds chain sync locators.
package netsync

import (
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/bsv-blockchain/teranode-spv/util"
)

// DefaultRequestTimeout is how long a dispatched request waits for an answer before it is
// returned to the pending queue.
const DefaultRequestTimeout = 30 * time.Second

// UnavailableBanScore is added to the origin of a request no peer can supply.
const UnavailableBanScore = 2

// Peer is the view of a connection the tracker needs to choose where to send a request.
type Peer interface {
	Connected() bool
	Services() wire.ServiceFlag
	AddBanScore(delta int32, reason string) int32
	String() string
}

// RequestState is the queue a request is in.
type RequestState int

const (
	Pending RequestState = iota
	InFlight
)

func (s RequestState) String() string {
	if s == InFlight {
		return "InFlight"
	}

	return "Pending"
}

// Request is one wanted inventory item.
type Request struct {
	InvVect *wire.InvVect

	// Origin is the peer that announced the item, nil for local requests.
	Origin Peer

	contacted  []Peer
	dispatched time.Time
	processing bool
	state      RequestState
}

// Contacted returns the peers already asked for the item, in the order they were asked.
func (r *Request) Contacted() []Peer {
	return r.contacted
}

func (r *Request) WasContacted(p Peer) bool {
	for _, c := range r.contacted {
		if c == p {
			return true
		}
	}

	return false
}

func (r *Request) State() RequestState {
	return r.state
}

func (r *Request) Dispatched() time.Time {
	return r.dispatched
}

func (r *Request) Processing() bool {
	return r.processing
}

func (r *Request) kind() string {
	switch r.InvVect.Type {
	case wire.InvTypeBlock, wire.InvTypeFilteredBlock:
		return "block"
	default:
		return "transaction"
	}
}

// ProcessResult counts what a call to Process did.
type ProcessResult struct {
	TimedOut   int
	Dispatched int
	Dropped    int
}

// Tracker keeps the pending and in-flight request queues. It is not safe for concurrent
// use; the network handler calls it with its shared lock held.
type Tracker struct {
	logger      ulogger.Logger
	timeout     time.Duration
	randomIndex util.RandomIndex
	pending     []*Request
	inFlight    []*Request
	requests    map[chainhash.Hash]*Request
}

type TrackerOption func(*Tracker)

func WithRequestTimeout(timeout time.Duration) TrackerOption {
	return func(t *Tracker) {
		t.timeout = timeout
	}
}

func WithTrackerRandomIndex(fn util.RandomIndex) TrackerOption {
	return func(t *Tracker) {
		t.randomIndex = fn
	}
}

func NewTracker(logger ulogger.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		logger:      logger,
		timeout:     DefaultRequestTimeout,
		randomIndex: util.DefaultRandomIndex,
		pending:     make([]*Request, 0),
		inFlight:    make([]*Request, 0),
		requests:    make(map[chainhash.Hash]*Request),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Add queues a request for iv unless one for the same hash is already tracked. origin may
// be nil.
func (t *Tracker) Add(iv *wire.InvVect, origin Peer) bool {
	if _, ok := t.requests[iv.Hash]; ok {
		return false
	}

	r := &Request{
		InvVect: iv,
		Origin:  origin,
		state:   Pending,
	}

	t.requests[iv.Hash] = r
	t.pending = append(t.pending, r)

	return true
}

// Get returns the tracked request for hash.
func (t *Tracker) Get(hash chainhash.Hash) (*Request, bool) {
	r, ok := t.requests[hash]
	return r, ok
}

func (t *Tracker) Pending() int {
	return len(t.pending)
}

func (t *Tracker) InFlight() int {
	return len(t.inFlight)
}

// Empty reports whether both queues are empty.
func (t *Tracker) Empty() bool {
	return len(t.pending) == 0 && len(t.inFlight) == 0
}

// MarkProcessing flags an in-flight request as being serviced so the timeout sweep
// leaves it alone.
func (t *Tracker) MarkProcessing(hash chainhash.Hash) bool {
	r, ok := t.requests[hash]
	if !ok {
		return false
	}

	r.processing = true

	return true
}

// Complete forgets the request for hash.
func (t *Tracker) Complete(hash chainhash.Hash) bool {
	r, ok := t.requests[hash]
	if !ok {
		return false
	}

	delete(t.requests, hash)

	if r.state == InFlight {
		t.inFlight = remove(t.inFlight, r)
	} else {
		t.pending = remove(t.pending, r)
	}

	return true
}

// Requeue returns an in-flight request to the pending queue straight away, used when the
// peer answered that it does not have the item.
func (t *Tracker) Requeue(hash chainhash.Hash) bool {
	r, ok := t.requests[hash]
	if !ok || r.state != InFlight {
		return false
	}

	t.inFlight = remove(t.inFlight, r)
	r.state = Pending
	r.processing = false
	t.pending = append(t.pending, r)

	return true
}

// Process sweeps timed out requests back to pending and then dispatches every pending
// request to a peer. dispatch is called once for every request that found a peer.
func (t *Tracker) Process(now time.Time, peers []Peer, dispatch func(Peer, *wire.InvVect)) ProcessResult {
	var result ProcessResult

	cutoff := now.Add(-t.timeout)
	stillInFlight := t.inFlight[:0]

	for _, r := range t.inFlight {
		if r.processing || !r.dispatched.Before(cutoff) {
			stillInFlight = append(stillInFlight, r)
			continue
		}

		r.state = Pending
		t.pending = append(t.pending, r)
		result.TimedOut++
	}

	clearTail(t.inFlight, len(stillInFlight))
	t.inFlight = stillInFlight

	pending := t.pending
	t.pending = make([]*Request, 0)

	for _, r := range pending {
		p := t.selectPeer(r, peers)
		if p == nil {
			t.drop(r)
			result.Dropped++

			continue
		}

		r.contacted = append(r.contacted, p)
		r.dispatched = now
		r.state = InFlight
		t.inFlight = append(t.inFlight, r)

		dispatch(p, r.InvVect)
		result.Dispatched++
	}

	return result
}

func (t *Tracker) selectPeer(r *Request, peers []Peer) Peer {
	if r.Origin != nil && !r.WasContacted(r.Origin) && r.Origin.Connected() {
		return r.Origin
	}

	p, found := util.CircularScan(peers, t.randomIndex, func(p Peer) bool {
		return p.Connected() && p.Services()&wire.SFNodeNetwork != 0 && !r.WasContacted(p)
	})
	if !found {
		return nil
	}

	return p
}

func (t *Tracker) drop(r *Request) {
	delete(t.requests, r.InvVect.Hash)

	origin := "local"

	if r.Origin != nil {
		origin = r.Origin.String()
		r.Origin.AddBanScore(UnavailableBanScore, "announced "+r.kind()+" it cannot supply")
	}

	t.logger.Warnf("[Tracker] purging unavailable %s request %s initiated by %s", r.kind(), r.InvVect.Hash, origin)
}

func remove(queue []*Request, r *Request) []*Request {
	for i, q := range queue {
		if q == r {
			copy(queue[i:], queue[i+1:])
			queue[len(queue)-1] = nil

			return queue[:len(queue)-1]
		}
	}

	return queue
}

func clearTail(queue []*Request, from int) {
	for i := from; i < len(queue); i++ {
		queue[i] = nil
	}
}
