package spv

import (
	"context"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-chaincfg"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/services/spv/peer"
	"github.com/bsv-blockchain/teranode-spv/settings"
	"github.com/bsv-blockchain/teranode-spv/stores/chainstore/memory"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func newTestSettings() *settings.Settings {
	return &settings.Settings{
		ClientName:     "spv-test",
		LogLevel:       "INFO",
		ChainCfgParams: &chaincfg.MainNetParams,
		SPV: settings.SPVSettings{
			Network:                 "mainnet",
			MaxOutbound:             4,
			MaxBanScore:             100,
			MaxMessageSize:          1024 * 1024,
			DecodeWorkers:           2,
			DecodeQueueSize:         16,
			WakeupInterval:          20 * time.Millisecond,
			RequestTimeout:          30 * time.Second,
			PruneInterval:           30 * time.Minute,
			InactivityCheckInterval: 5 * time.Minute,
			InactivityTimeout:       10 * time.Minute,
			HandshakeTimeout:        5 * time.Minute,
			ConnectInterval:         60 * time.Second,
			SyncCheckInterval:       2 * time.Minute,
			DialTimeout:             time.Second,
			SyncBlockThreshold:      50,
			LocatorDepth:            500,
			KnownInvTTL:             time.Minute,
			DisableDNSSeed:          true,
			UserAgentName:           "spv-test",
			UserAgentVersion:        "0.1.0",
		},
	}
}

type recordingSink struct {
	mu           sync.Mutex
	transactions []chainhash.Hash
	blocks       []chainhash.Hash
	merkleBlocks []chainhash.Hash
	headers      int
	err          error
}

func (s *recordingSink) ProcessTransaction(_ context.Context, _ *peer.Connection, msg *wire.MsgTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = append(s.transactions, msg.TxHash())

	return s.err
}

func (s *recordingSink) ProcessBlock(_ context.Context, _ *peer.Connection, msg *wire.MsgBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = append(s.blocks, msg.BlockHash())

	return s.err
}

func (s *recordingSink) ProcessMerkleBlock(_ context.Context, _ *peer.Connection, msg *wire.MsgMerkleBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.merkleBlocks = append(s.merkleBlocks, msg.Header.BlockHash())

	return s.err
}

func (s *recordingSink) ProcessHeaders(_ context.Context, _ *peer.Connection, msg *wire.MsgHeaders) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.headers += len(msg.Headers)

	return s.err
}

func (s *recordingSink) transactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.transactions)
}

type recordingListener struct {
	mu          sync.Mutex
	established []*peer.Connection
	closed      []*peer.Connection
}

func (l *recordingListener) OnConnectionEstablished(conn *peer.Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.established = append(l.established, conn)
}

func (l *recordingListener) OnConnectionClosed(conn *peer.Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = append(l.closed, conn)
}

func (l *recordingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.established), len(l.closed)
}

// fakePeer is the remote end of a net.Pipe connection. It answers version, ping and
// optionally closes the connection as soon as it is dialled.
type fakePeer struct {
	t        *testing.T
	height   int32
	services wire.ServiceFlag

	// closeOnConnect makes the peer hang up immediately.
	closeOnConnect bool
	silent         atomic.Bool

	writeMu  sync.Mutex
	mu       sync.Mutex
	conn     net.Conn
	received []wire.Message
	commands map[string]int
}

func newFakePeer(t *testing.T, height int32) *fakePeer {
	return &fakePeer{
		t:        t,
		height:   height,
		services: wire.SFNodeNetwork,
		commands: make(map[string]int),
	}
}

func (p *fakePeer) accept(conn net.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	if p.closeOnConnect {
		_ = conn.Close()
		return
	}

	go p.run(conn)
}

func (p *fakePeer) run(conn net.Conn) {
	for {
		msg, _, err := wire.ReadMessage(conn, wire.ProtocolVersion, wire.MainNet)
		if err != nil {
			return
		}

		p.mu.Lock()
		p.received = append(p.received, msg)
		p.commands[msg.Command()]++
		p.mu.Unlock()

		if p.silent.Load() {
			continue
		}

		switch m := msg.(type) {
		case *wire.MsgVersion:
			me := wire.NewNetAddressIPPort(net.ParseIP("10.0.0.1"), 8333, p.services)
			you := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)
			version := wire.NewMsgVersion(me, you, rand.Uint64(), p.height)
			version.Services = p.services

			p.send(version)
			p.send(wire.NewMsgVerAck())
		case *wire.MsgPing:
			p.send(wire.NewMsgPong(m.Nonce))
		}
	}
}

func (p *fakePeer) send(msg wire.Message) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_ = wire.WriteMessage(conn, msg, wire.ProtocolVersion, wire.MainNet)
}

// sendRaw writes b to the connection as is, bypassing message encoding.
func (p *fakePeer) sendRaw(b []byte) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		return
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	_, _ = conn.Write(b)
}

func (p *fakePeer) hangUp() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func (p *fakePeer) count(command string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.commands[command]
}

func (p *fakePeer) messages(command string) []wire.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]wire.Message, 0)

	for _, msg := range p.received {
		if msg.Command() == command {
			msgs = append(msgs, msg)
		}
	}

	return msgs
}

// fakeNetwork dials fake peers by address.
type fakeNetwork struct {
	mu    sync.Mutex
	peers map[string]*fakePeer
	dials atomic.Int32
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{peers: make(map[string]*fakePeer)}
}

func (n *fakeNetwork) add(address string, p *fakePeer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.peers[address] = p
}

func (n *fakeNetwork) dial(_ context.Context, _, address string) (net.Conn, error) {
	n.dials.Add(1)

	n.mu.Lock()
	p, ok := n.peers[address]
	n.mu.Unlock()

	if !ok {
		return nil, errors.NewNetworkConnectionRefusedError("connection refused by %s", address)
	}

	local, remote := net.Pipe()
	p.accept(remote)

	return local, nil
}

// runHandler runs h until the test ends.
func runHandler(t *testing.T, h *NetworkHandler) {
	t.Helper()

	done := make(chan error, 1)

	go func() {
		done <- h.Run(context.Background())
	}()

	t.Cleanup(func() {
		h.Shutdown()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("network handler did not stop")
		}
	})
}

func newMemoryStore() *memory.Memory {
	return memory.New(*chaincfg.MainNetParams.GenesisHash)
}

// establishedCount returns the number of connections that completed the handshake.
func establishedCount(h *NetworkHandler) int {
	count := 0

	for _, conn := range h.Connections() {
		if conn.IsEstablished() {
			count++
		}
	}

	return count
}

type emptyFilter struct{}

func (emptyFilter) FilterLoadMsg() *wire.MsgFilterLoad {
	return wire.NewMsgFilterLoad([]byte{0x00}, 1, 0, wire.BloomUpdateNone)
}

func testHash(s string) chainhash.Hash {
	return chainhash.HashH([]byte(s))
}

// buildTestHeaders returns n headers chained onto prev.
func buildTestHeaders(prev chainhash.Hash, n int) []*wire.BlockHeader {
	headers := make([]*wire.BlockHeader, 0, n)

	for i := 0; i < n; i++ {
		header := &wire.BlockHeader{
			Version:   1,
			PrevBlock: prev,
			Timestamp: time.Unix(int64(1300000000+i), 0),
			Bits:      0x1d00ffff,
			Nonce:     uint32(i), // nolint:gosec
		}

		headers = append(headers, header)
		prev = header.BlockHash()
	}

	return headers
}
