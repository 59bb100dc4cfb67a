package spv

import (
	"slices"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/services/spv/netsync"
	"github.com/bsv-blockchain/teranode-spv/services/spv/peer"
)

// AddListener registers a connection listener. The listener is told about every connection
// that has already completed its handshake before AddListener returns.
func (h *NetworkHandler) AddListener(listener ConnectionListener) {
	h.mu.Lock()
	h.listeners = append(h.listeners, listener)

	established := make([]*peer.Connection, 0, len(h.connections))

	for _, conn := range h.connections {
		if conn.IsEstablished() {
			established = append(established, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range established {
		listener.OnConnectionEstablished(conn)
	}
}

// RemoveListener unregisters a connection listener.
func (h *NetworkHandler) RemoveListener(listener ConnectionListener) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.listeners = slices.DeleteFunc(h.listeners, func(l ConnectionListener) bool {
		return l == listener
	})
}

// SendTo queues msg for conn and wakes the network loop. Messages for a connection that is
// not connected are dropped.
func (h *NetworkHandler) SendTo(conn *peer.Connection, msg wire.Message) error {
	buf, err := encodeMessage(msg, h.params.Net)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if conn.Connected() {
		conn.QueueMessage(buf)
	}
	h.mu.Unlock()

	h.Wakeup()

	return nil
}

// Broadcast queues msg for every established connection and wakes the network loop.
func (h *NetworkHandler) Broadcast(msg wire.Message) error {
	buf, err := encodeMessage(msg, h.params.Net)
	if err != nil {
		return err
	}

	h.mu.Lock()
	for _, conn := range h.connections {
		if conn.IsEstablished() {
			conn.QueueMessage(buf)
		}
	}
	h.mu.Unlock()

	h.Wakeup()

	return nil
}

// TriggerChainSync asks a random established peer that is ahead of us for the blocks after
// our chain head. Nothing is sent while the chain has been loaded and has grown by fewer
// than the sync threshold since the last request.
func (h *NetworkHandler) TriggerChainSync() {
	defer h.Wakeup()

	chainHeight := h.store.ChainHeight()

	h.mu.Lock()

	if !h.loadingChain.Load() && chainHeight < h.getBlocksHeight+h.syncBlockThreshold {
		h.mu.Unlock()
		return
	}

	conn, found := h.pickSyncPeer(chainHeight)
	if found {
		h.getBlocksHeight = chainHeight
	}
	h.mu.Unlock()

	if !found {
		h.logger.Debugf("[NetworkHandler] no peer ahead of height %d for chain sync", chainHeight)
		return
	}

	h.sendGetBlocks(conn)
}

// pickSyncPeer must be called with mu held.
func (h *NetworkHandler) pickSyncPeer(chainHeight int32) (*peer.Connection, bool) {
	n := len(h.connections)
	if n == 0 {
		return nil, false
	}

	start := h.randomIndex(n)

	for i := 0; i < n; i++ {
		conn := h.connections[(start+i)%n]
		if conn.IsEstablished() && conn.Height() > chainHeight {
			return conn, true
		}
	}

	return nil, false
}

// AddRequest queues a getdata for iv. origin is the peer that announced it, or nil.
// Requests for an item already tracked are ignored.
func (h *NetworkHandler) AddRequest(iv *wire.InvVect, origin *peer.Connection) bool {
	var originPeer netsync.Peer
	if origin != nil {
		originPeer = origin
	}

	h.mu.Lock()
	added := h.tracker.Add(iv, originPeer)
	h.mu.Unlock()

	if added {
		h.Wakeup()
	}

	return added
}

// MarkProcessing stops the request for hash from timing out while its answer is handled.
func (h *NetworkHandler) MarkProcessing(hash chainhash.Hash) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.tracker.MarkProcessing(hash)
}

// CompleteRequest forgets the request for hash.
func (h *NetworkHandler) CompleteRequest(hash chainhash.Hash) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.tracker.Complete(hash)
}

// RequeueRequest returns an in-flight request to the pending queue so that another peer
// is asked.
func (h *NetworkHandler) RequeueRequest(hash chainhash.Hash) bool {
	h.mu.Lock()
	requeued := h.tracker.Requeue(hash)
	h.mu.Unlock()

	if requeued {
		h.Wakeup()
	}

	return requeued
}

// PendingRequests returns the number of pending and in-flight requests.
func (h *NetworkHandler) PendingRequests() (pending, inFlight int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.tracker.Pending(), h.tracker.InFlight()
}

// ConnectionCount returns the number of connections, including those still connecting.
func (h *NetworkHandler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.connections)
}

// Connections returns a snapshot of the current connections.
func (h *NetworkHandler) Connections() []*peer.Connection {
	h.mu.Lock()
	defer h.mu.Unlock()

	return slices.Clone(h.connections)
}

// NetworkChainHeight is the highest chain height advertised by an established peer.
func (h *NetworkHandler) NetworkChainHeight() int32 {
	return h.networkChainHeight.Load()
}

// LoadingChain reports whether headers are still being downloaded from genesis.
func (h *NetworkHandler) LoadingChain() bool {
	return h.loadingChain.Load()
}

// SetChainLoaded ends the header download phase; later syncs use getblocks.
func (h *NetworkHandler) SetChainLoaded() {
	if h.loadingChain.CompareAndSwap(true, false) {
		h.logger.Infof("[NetworkHandler] chain header download complete at height %d", h.store.ChainHeight())
	}
}
