// Package peer holds the per-connection state of the SPV network handler: the transport,
// the inbound framer, the outbound queue, the handshake progress and the ban score.
package peer

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/services/spv/addrmgr"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/looplab/fsm"
)

// Connection lifecycle states.
const (
	StateConnecting  = "connecting"
	StateHandshaking = "handshaking"
	StateEstablished = "established"
	StateClosed      = "closed"
)

// Connection lifecycle events.
const (
	EventConnect   = "connect"
	EventEstablish = "establish"
	EventClose     = "close"
)

const readBufferSize = 64 * 1024

var connectionID atomic.Uint64

// Config holds the per-network limits a connection is created with.
type Config struct {
	Net            wire.BitcoinNet
	MaxMessageSize uint32
	MaxBanScore    int32

	// Now overrides the clock used for the creation time, time.Now when nil.
	Now func() time.Time
}

// Connection is one outbound peer connection.
//
// The output queue is not synchronised; the owner of the connection must hold its shared
// lock when calling QueueMessage, NextMessage, QueueLen or Close. All other state is
// either atomic or only touched from the event loop goroutine.
type Connection struct {
	id      uint64
	logger  ulogger.Logger
	address *addrmgr.PeerAddress
	config  Config

	conn        net.Conn
	framer      *Framer
	fsm         *fsm.FSM
	outputQueue [][]byte
	writeCh     chan []byte
	done        chan struct{}
	writing     bool
	createdAt   time.Time

	versionCount atomic.Int32
	height       atomic.Int32
	services     atomic.Uint64
	banScore     atomic.Int32
	pingSent     atomic.Bool
	disconnect   atomic.Bool
	connected    atomic.Bool
	closed       atomic.Bool
	userAgent    atomic.Pointer[string]
}

// NewConnection creates a connection in the connecting state for address.
func NewConnection(logger ulogger.Logger, address *addrmgr.PeerAddress, config Config) *Connection {
	if config.Now == nil {
		config.Now = time.Now
	}

	c := &Connection{
		id:          connectionID.Add(1),
		logger:      logger,
		address:     address,
		config:      config,
		framer:      NewFramer(config.Net, config.MaxMessageSize),
		outputQueue: make([][]byte, 0),
		writeCh:     make(chan []byte, 1),
		done:        make(chan struct{}),
		createdAt:   config.Now(),
	}

	c.fsm = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: EventConnect, Src: []string{StateConnecting}, Dst: StateHandshaking},
			{Name: EventEstablish, Src: []string{StateHandshaking}, Dst: StateEstablished},
			{Name: EventClose, Src: []string{StateConnecting, StateHandshaking, StateEstablished}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debugf("[Connection][%s] %s -> %s", c.address, e.Src, e.Dst)
			},
		},
	)

	return c
}

func (c *Connection) ID() uint64 {
	return c.id
}

func (c *Connection) Address() *addrmgr.PeerAddress {
	return c.address
}

func (c *Connection) String() string {
	return c.address.String()
}

// State returns the lifecycle state.
func (c *Connection) State() string {
	return c.fsm.Current()
}

func (c *Connection) IsEstablished() bool {
	return c.fsm.Is(StateEstablished)
}

// CreatedAt is the time the connection was created.
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// Framer returns the inbound framer. Only the event loop may use it.
func (c *Connection) Framer() *Framer {
	return c.framer
}

// Attach associates the dialled transport and moves the connection to handshaking.
func (c *Connection) Attach(conn net.Conn) error {
	if err := c.fsm.Event(context.Background(), EventConnect); err != nil {
		return errors.NewProcessingError("[Connection][%s] cannot attach transport in state %s", c.address, c.State(), err)
	}

	c.conn = conn
	c.connected.Store(true)
	c.address.SetConnected(true)

	return nil
}

// Conn returns the transport, nil until Attach succeeded.
func (c *Connection) Conn() net.Conn {
	return c.conn
}

// Establish marks the handshake complete.
func (c *Connection) Establish() error {
	if err := c.fsm.Event(context.Background(), EventEstablish); err != nil {
		return errors.NewProcessingError("[Connection][%s] cannot establish in state %s", c.address, c.State(), err)
	}

	return nil
}

// Close tears the connection down: the framer state and queued output are discarded and
// the transport is closed. It returns whether the connection had been established, and
// false on every call after the first.
func (c *Connection) Close() bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}

	wasEstablished := c.IsEstablished()

	_ = c.fsm.Event(context.Background(), EventClose)

	c.connected.Store(false)
	c.address.SetConnected(false)
	c.framer.Reset()
	c.outputQueue = nil
	c.writing = false

	close(c.done)

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debugf("[Connection][%s] error closing transport: %v", c.address, err)
		}
	}

	return wasEstablished
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// QueueMessage appends an encoded message to the output queue.
func (c *Connection) QueueMessage(buf []byte) {
	if c.closed.Load() {
		return
	}

	c.outputQueue = append(c.outputQueue, buf)
}

// NextMessage removes and returns the oldest queued message.
func (c *Connection) NextMessage() ([]byte, bool) {
	if len(c.outputQueue) == 0 {
		return nil, false
	}

	buf := c.outputQueue[0]
	c.outputQueue[0] = nil
	c.outputQueue = c.outputQueue[1:]

	return buf, true
}

func (c *Connection) QueueLen() int {
	return len(c.outputQueue)
}

// Writing reports whether a buffer has been handed to the writer and not yet completed.
func (c *Connection) Writing() bool {
	return c.writing
}

// StartWrite hands buf to the writer goroutine. It returns false when a write is already
// in progress or the connection is closed.
func (c *Connection) StartWrite(buf []byte) bool {
	if c.writing || c.closed.Load() {
		return false
	}

	select {
	case c.writeCh <- buf:
		c.writing = true
		return true
	default:
		return false
	}
}

// WriteDone records completion of the write started by StartWrite.
func (c *Connection) WriteDone() {
	c.writing = false
}

// ReadLoop reads from the transport until it fails or the connection is closed, passing
// every chunk to post. The final call carries the read error.
func (c *Connection) ReadLoop(post func(data []byte, err error)) {
	buf := make([]byte, readBufferSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			post(data, nil)
		}

		if err != nil {
			if !c.closed.Load() {
				post(nil, errors.NewNetworkError("[Connection][%s] read failed", c.address, err))
			}

			return
		}
	}
}

// WriteLoop writes every buffer handed over by StartWrite and reports the result to post.
func (c *Connection) WriteLoop(post func(err error)) {
	for {
		select {
		case <-c.done:
			return
		case buf := <-c.writeCh:
			if _, err := c.conn.Write(buf); err != nil {
				post(errors.NewNetworkError("[Connection][%s] write failed", c.address, err))
				return
			}

			post(nil)
		}
	}
}

// VersionCount returns the number of handshake messages exchanged.
func (c *Connection) VersionCount() int32 {
	return c.versionCount.Load()
}

// IncrementVersionCount advances the handshake count and returns the new value.
func (c *Connection) IncrementVersionCount() int32 {
	return c.versionCount.Add(1)
}

// Height is the chain height the peer advertised in its version message.
func (c *Connection) Height() int32 {
	return c.height.Load()
}

func (c *Connection) SetHeight(height int32) {
	c.height.Store(height)
}

// Services are the services the peer advertised in its version message.
func (c *Connection) Services() wire.ServiceFlag {
	return wire.ServiceFlag(c.services.Load())
}

func (c *Connection) SetServices(services wire.ServiceFlag) {
	c.services.Store(uint64(services))
	c.address.SetServices(services)
}

func (c *Connection) UserAgent() string {
	if ua := c.userAgent.Load(); ua != nil {
		return *ua
	}

	return ""
}

func (c *Connection) SetUserAgent(userAgent string) {
	c.userAgent.Store(&userAgent)
}

func (c *Connection) BanScore() int32 {
	return c.banScore.Load()
}

// AddBanScore increases the ban score. Once the score reaches the maximum the connection
// is flagged for disconnection; the owner closes it on its next maintenance pass.
func (c *Connection) AddBanScore(delta int32, reason string) int32 {
	score := c.banScore.Add(delta)

	if score > c.config.MaxBanScore/2 {
		c.logger.Warnf("[Connection][%s] misbehaving peer: %s -- ban score increased to %d", c.address, reason, score)
	}

	if score >= c.config.MaxBanScore && c.disconnect.CompareAndSwap(false, true) {
		c.logger.Warnf("[Connection][%s] ban score %d reached maximum %d, disconnect scheduled", c.address, score, c.config.MaxBanScore)
	}

	return score
}

func (c *Connection) PingSent() bool {
	return c.pingSent.Load()
}

func (c *Connection) SetPingSent(sent bool) {
	c.pingSent.Store(sent)
}

// RequestDisconnect flags the connection to be closed by its owner.
func (c *Connection) RequestDisconnect() {
	c.disconnect.Store(true)
}

func (c *Connection) DisconnectRequested() bool {
	return c.disconnect.Load()
}

// Connected reports whether the transport is attached and not closed.
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// Touch records inbound activity on the peer address.
func (c *Connection) Touch(now time.Time) {
	c.address.Touch(now)
}

// LastActivity is the time the peer last sent us data, or when the connection was
// created if it never has.
func (c *Connection) LastActivity() time.Time {
	if seen := c.address.LastSeen(); seen.After(c.createdAt) {
		return seen
	}

	return c.createdAt
}
