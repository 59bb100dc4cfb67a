package spv

import (
	"context"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/go-chaincfg"
	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/services/spv/addrmgr"
	"github.com/bsv-blockchain/teranode-spv/services/spv/discovery"
	"github.com/bsv-blockchain/teranode-spv/services/spv/netsync"
	"github.com/bsv-blockchain/teranode-spv/services/spv/peer"
	"github.com/bsv-blockchain/teranode-spv/settings"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/bsv-blockchain/teranode-spv/util"
	"github.com/btcsuite/go-socks/socks"
	"golang.org/x/sync/errgroup"
)

const eventQueueSize = 1024

// DialFunc opens an outbound transport to address.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type eventKind int

// Event kinds in processing priority order.
const (
	eventConnect eventKind = iota
	eventRead
	eventWrite
)

// event is an I/O completion posted to the network loop by a dial, reader or writer
// goroutine.
type event struct {
	kind    eventKind
	conn    *peer.Connection
	netConn net.Conn
	data    []byte
	err     error
}

// frame is a complete raw message waiting for a decode worker.
type frame struct {
	conn *peer.Connection
	raw  []byte
}

// completedMessage is a decoded message handed back to the network loop.
type completedMessage struct {
	conn  *peer.Connection
	reply []byte
}

// NetworkHandler maintains the pool of outbound peer connections. A single goroutine runs
// Run and owns every connection state transition; decode workers and callers of the
// exported methods reach the shared state through mu.
type NetworkHandler struct {
	logger      ulogger.Logger
	settings    *settings.Settings
	params      *chaincfg.Params
	store       ChainStore
	filter      BloomFilter
	handler     MessageHandler
	registry    *addrmgr.Registry
	resolver    discovery.Resolver
	dial        DialFunc
	clock       Clock
	randomIndex util.RandomIndex

	connConfig         peer.Config
	defaultPort        uint16
	maxOutbound        int
	locatorDepth       int32
	syncBlockThreshold int32
	staticOnly         bool

	// mu guards connections, listeners, completed, tracker, getBlocksHeight, syncPeer and
	// the output queues of every connection.
	mu              sync.Mutex
	connections     []*peer.Connection
	listeners       []ConnectionListener
	completed       []completedMessage
	tracker         *netsync.Tracker
	getBlocksHeight int32
	syncPeer        *peer.Connection

	loadingChain       atomic.Bool
	networkChainHeight atomic.Int32
	shutdown           atomic.Bool
	running            atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	events   chan event
	frames   chan frame
	wakeupCh chan struct{}
	quit     chan struct{}
	ioWg     sync.WaitGroup
	timers   maintenanceTimers
}

// Option configures a NetworkHandler.
type Option func(*NetworkHandler)

func WithClock(clock Clock) Option {
	return func(h *NetworkHandler) {
		h.clock = clock
	}
}

// WithDialer replaces the TCP (or SOCKS5) dialer.
func WithDialer(dial DialFunc) Option {
	return func(h *NetworkHandler) {
		h.dial = dial
	}
}

// WithResolver replaces the DNS resolver used for seeding.
func WithResolver(resolver discovery.Resolver) Option {
	return func(h *NetworkHandler) {
		h.resolver = resolver
	}
}

func WithRandomIndex(fn util.RandomIndex) Option {
	return func(h *NetworkHandler) {
		h.randomIndex = fn
	}
}

// WithMessageHandler replaces the default message handler.
func WithMessageHandler(handler MessageHandler) Option {
	return func(h *NetworkHandler) {
		h.handler = handler
	}
}

// WithRegistry uses an existing address registry.
func WithRegistry(registry *addrmgr.Registry) Option {
	return func(h *NetworkHandler) {
		h.registry = registry
	}
}

// NewNetworkHandler validates the settings and creates a handler. Static peers from the
// settings are added to the registry; when there are any the handler only dials static
// addresses, skips DNS discovery and does not ask peers for addresses.
func NewNetworkHandler(logger ulogger.Logger, tSettings *settings.Settings, store ChainStore, filter BloomFilter, sink MessageSink, opts ...Option) (*NetworkHandler, error) {
	initPrometheusMetrics()

	spvSettings := tSettings.SPV

	if tSettings.ChainCfgParams == nil {
		return nil, errors.NewConfigurationError("[NetworkHandler] chain parameters not set")
	}

	if spvSettings.MaxOutbound < 1 {
		return nil, errors.NewConfigurationError("[NetworkHandler] spv_maxOutbound must be at least 1, got %d", spvSettings.MaxOutbound)
	}

	if spvSettings.DecodeWorkers < 1 {
		return nil, errors.NewConfigurationError("[NetworkHandler] spv_decodeWorkers must be at least 1, got %d", spvSettings.DecodeWorkers)
	}

	maxMessageSize, err := safeconversion.IntToUint32(spvSettings.MaxMessageSize)
	if err != nil {
		return nil, errors.NewConfigurationError("[NetworkHandler] invalid spv_maxMessageSize %d", spvSettings.MaxMessageSize, err)
	}

	if maxMessageSize == 0 {
		return nil, errors.NewConfigurationError("[NetworkHandler] spv_maxMessageSize must be positive")
	}

	maxBanScore, err := toInt32(spvSettings.MaxBanScore)
	if err != nil {
		return nil, errors.NewConfigurationError("[NetworkHandler] invalid spv_maxBanScore %d", spvSettings.MaxBanScore, err)
	}

	if maxBanScore < 1 {
		return nil, errors.NewConfigurationError("[NetworkHandler] spv_maxBanScore must be at least 1, got %d", maxBanScore)
	}

	locatorDepth, err := toInt32(spvSettings.LocatorDepth)
	if err != nil {
		return nil, errors.NewConfigurationError("[NetworkHandler] invalid spv_locatorDepth %d", spvSettings.LocatorDepth, err)
	}

	syncBlockThreshold, err := toInt32(spvSettings.SyncBlockThreshold)
	if err != nil {
		return nil, errors.NewConfigurationError("[NetworkHandler] invalid spv_syncBlockThreshold %d", spvSettings.SyncBlockThreshold, err)
	}

	defaultPort, err := discovery.ParsePort(tSettings.ChainCfgParams.DefaultPort)
	if err != nil {
		return nil, err
	}

	h := &NetworkHandler{
		logger:             logger,
		settings:           tSettings,
		params:             tSettings.ChainCfgParams,
		store:              store,
		filter:             filter,
		clock:              systemClock{},
		randomIndex:        util.DefaultRandomIndex,
		defaultPort:        defaultPort,
		maxOutbound:        spvSettings.MaxOutbound,
		locatorDepth:       locatorDepth,
		syncBlockThreshold: syncBlockThreshold,
		connections:        make([]*peer.Connection, 0, spvSettings.MaxOutbound),
		listeners:          make([]ConnectionListener, 0),
		completed:          make([]completedMessage, 0),
		getBlocksHeight:    -1,
		events:             make(chan event, eventQueueSize),
		frames:             make(chan frame, max(spvSettings.DecodeQueueSize, 1)),
		wakeupCh:           make(chan struct{}, 1),
		quit:               make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.connConfig = peer.Config{
		Net:            h.params.Net,
		MaxMessageSize: maxMessageSize,
		MaxBanScore:    maxBanScore,
		Now:            h.clock.Now,
	}

	if h.registry == nil {
		h.registry = addrmgr.New(logger, addrmgr.WithNow(h.clock.Now), addrmgr.WithRandomIndex(h.randomIndex))
	}

	h.tracker = netsync.NewTracker(logger, netsync.WithRequestTimeout(spvSettings.RequestTimeout), netsync.WithTrackerRandomIndex(h.randomIndex))

	for _, hostPort := range spvSettings.StaticPeers {
		address, err := addrmgr.NewStaticPeerAddress(hostPort, h.params.DefaultPort)
		if err != nil {
			return nil, errors.NewConfigurationError("[NetworkHandler] invalid static peer %q", hostPort, err)
		}

		h.registry.Add(address)
		h.staticOnly = true
	}

	if h.dial == nil {
		h.dial = newDialer(spvSettings)
	}

	if h.handler == nil {
		if sink == nil {
			return nil, errors.NewConfigurationError("[NetworkHandler] a message sink is required by the default message handler")
		}

		h.handler = NewDefaultHandler(logger, tSettings, h, sink)
	}

	return h, nil
}

func toInt32(n int) (int32, error) {
	u, err := safeconversion.IntToUint32(n)
	if err != nil {
		return 0, err
	}

	return safeconversion.Uint32ToInt32(u)
}

// newDialer returns a TCP dialer, going through a SOCKS5 proxy when one is configured.
func newDialer(spvSettings settings.SPVSettings) DialFunc {
	if spvSettings.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     spvSettings.Proxy,
			Username: spvSettings.ProxyUser,
			Password: spvSettings.ProxyPass,
		}

		return func(ctx context.Context, network, address string) (net.Conn, error) {
			return dialProxy(ctx, proxy, network, address, spvSettings.DialTimeout)
		}
	}

	dialer := &net.Dialer{
		Timeout:   spvSettings.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	return dialer.DialContext
}

type dialResult struct {
	conn net.Conn
	err  error
}

// dialProxy connects to address through proxy. The proxy handshake has no deadline of its
// own, so the dial gives up when ctx is done or timeout has passed, whichever comes first.
func dialProxy(ctx context.Context, proxy *socks.Proxy, network, address string, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.NewNetworkTimeoutError("[NetworkHandler] dial %s through proxy %s", address, proxy.Addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	results := make(chan dialResult, 1)

	go func() {
		conn, err := proxy.DialTimeout(network, address, timeout)
		results <- dialResult{conn: conn, err: err}
	}()

	select {
	case r := <-results:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-results; r.conn != nil {
				_ = r.conn.Close()
			}
		}()

		return nil, errors.NewNetworkTimeoutError("[NetworkHandler] dial %s through proxy %s", address, proxy.Addr, ctx.Err())
	}
}

// Registry returns the peer address registry.
func (h *NetworkHandler) Registry() *addrmgr.Registry {
	return h.registry
}

// StaticOnly reports whether only static peers are used.
func (h *NetworkHandler) StaticOnly() bool {
	return h.staticOnly
}

// Run processes network events until Shutdown is called or ctx is cancelled. It returns an
// error when the loop could not start or failed unexpectedly.
func (h *NetworkHandler) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.NewServiceError("[NetworkHandler] already running")
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	defer h.cancel()

	h.logger.Infof("[NetworkHandler] started: max connections %d, static only %t", h.maxOutbound, h.staticOnly)

	g, gCtx := errgroup.WithContext(h.ctx)
	for i := 0; i < h.settings.SPV.DecodeWorkers; i++ {
		g.Go(func() error {
			h.decodeWorker(gCtx)
			return nil
		})
	}

	if lifecycle, ok := h.handler.(interface {
		Start()
		Stop()
	}); ok {
		go lifecycle.Start()
		defer lifecycle.Stop()
	}

	now := h.clock.Now()
	h.timers = maintenanceTimers{
		{name: "prune", interval: h.settings.SPV.PruneInterval, lastFire: now, fire: h.pruneAddresses},
		{name: "inactivity", interval: h.settings.SPV.InactivityCheckInterval, lastFire: now, fire: h.checkInactive},
		{name: "connect", interval: h.settings.SPV.ConnectInterval, lastFire: now, fire: h.replenishOutbound},
		{name: "sync", interval: h.settings.SPV.SyncCheckInterval, lastFire: now, fire: h.checkChainSync},
	}

	if !h.staticOnly && !h.settings.SPV.DisableDNSSeed {
		h.discoverPeers()
	}

	for !h.shutdown.Load() && h.ConnectionCount() < h.maxOutbound/2 && h.ConnectionCount() < h.registry.Len() {
		if !h.connectOutbound() {
			break
		}
	}

	ticker := time.NewTicker(h.settings.SPV.WakeupInterval)

	var runErr error

	for !h.shutdown.Load() {
		if runErr = h.runIteration(ticker.C); runErr != nil {
			h.logger.Errorf("[NetworkHandler] %v", runErr)
			h.shutdown.Store(true)
		}
	}

	ticker.Stop()
	h.stop()

	if err := g.Wait(); err != nil {
		h.logger.Errorf("[NetworkHandler] decode workers stopped with error: %v", err)
	}

	h.logger.Infof("[NetworkHandler] stopped")

	return runErr
}

// runIteration runs one loop iteration, turning a panic into a fatal service error.
func (h *NetworkHandler) runIteration(tick <-chan time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if cause, ok := r.(error); ok {
				err = errors.NewServiceError("[NetworkHandler] unexpected failure in network loop", cause)
				return
			}

			err = errors.NewServiceError("[NetworkHandler] unexpected failure in network loop: %v", r)
		}
	}()

	h.processEvents(tick)

	return nil
}

func (h *NetworkHandler) discoverPeers() {
	if h.resolver == nil {
		resolver, err := discovery.NewDNSResolver(h.logger, h.settings.SPV.DNSResolver, h.settings.SPV.DNSTimeout)
		if err != nil {
			h.logger.Errorf("[NetworkHandler] DNS discovery disabled: %v", err)
			return
		}

		h.resolver = resolver
	}

	discovery.SeedFromDNS(h.ctx, h.logger, h.resolver, h.params.DNSSeeds, h.defaultPort, h.registry)
	prometheusSPVPeerAddresses.Set(float64(h.registry.Len()))
}

// processEvents runs one loop iteration.
func (h *NetworkHandler) processEvents(tick <-chan time.Time) {
	batch := make([]event, 0, 16)

	select {
	case ev := <-h.events:
		batch = append(batch, ev)
	case <-h.wakeupCh:
	case <-tick:
	case <-h.ctx.Done():
		h.shutdown.Store(true)
		return
	}

	start := time.Now()

	batch = h.drainEvents(batch)

	if h.shutdown.Load() {
		h.discardEvents(batch)
		return
	}

	slices.SortStableFunc(batch, func(a, b event) int {
		return int(a.kind) - int(b.kind)
	})

	for i, ev := range batch {
		if h.shutdown.Load() {
			h.discardEvents(batch[i:])
			return
		}

		switch ev.kind {
		case eventConnect:
			h.processConnect(ev)
		case eventRead:
			h.processRead(ev)
		case eventWrite:
			h.processWrite(ev)
		}
	}

	if h.shutdown.Load() {
		return
	}

	h.processCompletedMessages()
	h.closeFlagged()

	if h.hasRequests() {
		h.processRequests()
	}

	h.timers.poll(h.clock.Now())

	h.flushOutput()

	prometheusSPVLoopIterationSeconds.Observe(time.Since(start).Seconds())
}

// drainEvents appends every event already waiting without blocking.
func (h *NetworkHandler) drainEvents(batch []event) []event {
	for {
		select {
		case ev := <-h.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

func (h *NetworkHandler) discardEvents(batch []event) {
	for _, ev := range batch {
		if ev.kind == eventConnect && ev.netConn != nil {
			_ = ev.netConn.Close()
		}
	}
}

// post hands an I/O completion to the loop. Events posted after shutdown are dropped.
func (h *NetworkHandler) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.quit:
		if ev.netConn != nil {
			_ = ev.netConn.Close()
		}
	}
}

// Wakeup interrupts the wait of the network loop. Pending wakeups are coalesced.
func (h *NetworkHandler) Wakeup() {
	select {
	case h.wakeupCh <- struct{}{}:
	default:
	}
}

// Shutdown asks the network loop to stop. It returns immediately; Run returns once the
// loop has closed every connection.
func (h *NetworkHandler) Shutdown() {
	h.shutdown.Store(true)
	h.Wakeup()
}

// stop closes every connection and waits for the I/O goroutines.
func (h *NetworkHandler) stop() {
	h.mu.Lock()
	connections := slices.Clone(h.connections)
	h.mu.Unlock()

	for _, conn := range connections {
		h.closeConnection(conn, "shutdown")
	}

	close(h.quit)
	h.cancel()
	h.ioWg.Wait()
	close(h.frames)
}

// connectOutbound starts a connection to a random unconnected address. It returns false
// when no address qualifies or the handler is shutting down.
func (h *NetworkHandler) connectOutbound() bool {
	if h.shutdown.Load() {
		return false
	}

	address := h.registry.PickCandidate(true, h.staticOnly)
	if address == nil {
		return false
	}

	conn := peer.NewConnection(h.logger, address, h.connConfig)
	address.SetConnected(true)

	h.mu.Lock()
	h.connections = append(h.connections, conn)
	count := len(h.connections)
	h.mu.Unlock()

	prometheusSPVConnectionAttempts.Inc()
	prometheusSPVConnections.Set(float64(count))

	h.logger.Debugf("[NetworkHandler] connecting to %s", address)

	h.ioWg.Add(1)

	go func() {
		defer h.ioWg.Done()

		dialCtx, cancel := context.WithTimeout(h.ctx, h.settings.SPV.DialTimeout)
		defer cancel()

		netConn, err := h.dial(dialCtx, "tcp", address.Key())
		if err != nil {
			err = errors.NewNetworkConnectionRefusedError("[NetworkHandler] unable to connect to %s", address, err)
		}

		h.post(event{kind: eventConnect, conn: conn, netConn: netConn, err: err})
	}()

	return true
}

// processConnect finishes an outbound connection and sends our version message.
func (h *NetworkHandler) processConnect(ev event) {
	conn := ev.conn
	address := conn.Address()

	if ev.err != nil {
		h.logger.Infof("[NetworkHandler] %v", ev.err)
		h.closeConnection(conn, "connect_failed")

		if !address.Static {
			h.registry.Remove(address)
			prometheusSPVPeerAddresses.Set(float64(h.registry.Len()))
		}

		return
	}

	if err := conn.Attach(ev.netConn); err != nil {
		// the connection was closed while the dial was in progress
		_ = ev.netConn.Close()
		return
	}

	h.ioWg.Add(2)

	go func() {
		defer h.ioWg.Done()

		conn.ReadLoop(func(data []byte, err error) {
			h.post(event{kind: eventRead, conn: conn, data: data, err: err})
		})
	}()

	go func() {
		defer h.ioWg.Done()

		conn.WriteLoop(func(err error) {
			h.post(event{kind: eventWrite, conn: conn, err: err})
		})
	}()

	h.logger.Infof("[NetworkHandler] connection established to %s", address)

	h.queueMessage(conn, h.buildVersionMessage(conn, h.store.ChainHeight()))
	h.logger.Debugf("[NetworkHandler] sent 'version' message to %s", address)
}

// processRead frames the received bytes and hands complete messages to the decode workers.
func (h *NetworkHandler) processRead(ev event) {
	conn := ev.conn
	if !conn.Connected() {
		return
	}

	if ev.err != nil {
		h.logger.Debugf("[NetworkHandler] %v", ev.err)
		h.closeConnection(conn, "read_error")

		return
	}

	conn.Touch(h.clock.Now())

	frames, err := conn.Framer().Feed(ev.data)

	for _, raw := range frames {
		command := peer.CommandOf(raw)
		prometheusSPVMessagesReceived.WithLabelValues(commandLabel(command)).Inc()
		h.logger.Debugf("[NetworkHandler] received %q message from %s", command, conn)

		select {
		case h.frames <- frame{conn: conn, raw: raw}:
		case <-h.ctx.Done():
			return
		}
	}

	if err != nil {
		h.logger.Errorf("[NetworkHandler] protocol error from %s: %v", conn, err)
		prometheusSPVFrameErrors.Inc()
		h.closeConnection(conn, "protocol_error")
	}
}

func (h *NetworkHandler) processWrite(ev event) {
	conn := ev.conn

	conn.WriteDone()

	if ev.err != nil {
		if conn.Connected() {
			h.logger.Debugf("[NetworkHandler] %v", ev.err)
			h.closeConnection(conn, "write_error")
		}

		return
	}

	prometheusSPVMessagesSent.Inc()
}

// closeConnection discards the connection state, closes the transport and tells the
// listeners if the connection had been established.
func (h *NetworkHandler) closeConnection(conn *peer.Connection, reason string) {
	h.mu.Lock()
	wasEstablished := conn.Close()
	h.connections = slices.DeleteFunc(h.connections, func(c *peer.Connection) bool {
		return c == conn
	})
	count := len(h.connections)
	listeners := slices.Clone(h.listeners)

	lostSyncPeer := h.syncPeer == conn
	if lostSyncPeer {
		h.syncPeer = nil
	}
	h.mu.Unlock()

	prometheusSPVConnections.Set(float64(count))
	prometheusSPVConnectionsClosed.WithLabelValues(reason).Inc()

	if wasEstablished {
		for _, listener := range listeners {
			listener.OnConnectionClosed(conn)
		}
	}

	h.logger.Infof("[NetworkHandler] connection closed with peer %s (%s)", conn, reason)

	if lostSyncPeer && !h.shutdown.Load() {
		h.resumeChainSync()
	}
}

// processCompletedMessages queues the replies produced by the decode workers and runs the
// post-handshake setup for connections that just exchanged version messages.
func (h *NetworkHandler) processCompletedMessages() {
	h.mu.Lock()
	completed := h.completed
	h.completed = make([]completedMessage, 0, len(completed))
	h.mu.Unlock()

	for _, msg := range completed {
		conn := msg.conn

		if !conn.Connected() {
			continue
		}

		if conn.DisconnectRequested() {
			h.closeConnection(conn, "disconnect_requested")
			continue
		}

		if msg.reply != nil {
			h.mu.Lock()
			conn.QueueMessage(msg.reply)
			h.mu.Unlock()
		}

		if conn.VersionCount() == 2 {
			h.completeHandshake(conn)
		}
	}
}

// completeHandshake sends the one-time setup messages and announces the connection.
func (h *NetworkHandler) completeHandshake(conn *peer.Connection) {
	conn.IncrementVersionCount()

	h.logger.Infof("[NetworkHandler] connection handshake completed with %s (%s, height %d)", conn, conn.UserAgent(), conn.Height())
	prometheusSPVHandshakeDuration.Observe(h.clock.Now().Sub(conn.CreatedAt()).Seconds())

	h.raiseNetworkChainHeight(conn.Height())

	if !h.staticOnly {
		h.queueMessage(conn, buildGetAddrMessage())
		h.logger.Debugf("[NetworkHandler] sent 'getaddr' message to %s", conn)
	}

	if h.filter != nil {
		if msg := h.filter.FilterLoadMsg(); msg != nil {
			h.queueMessage(conn, msg)
			h.logger.Debugf("[NetworkHandler] sent 'filterload' message to %s", conn)
		}
	}

	chainHeight := h.store.ChainHeight()

	// establishing and taking the listener snapshot under one lock means a listener added
	// concurrently is told about conn exactly once, either here or by AddListener
	h.mu.Lock()
	if err := conn.Establish(); err != nil {
		h.mu.Unlock()
		h.logger.Errorf("[NetworkHandler] %v", err)

		return
	}

	listeners := slices.Clone(h.listeners)

	startSync := h.getBlocksHeight < 0 && chainHeight < conn.Height()

	if startSync {
		if chainHeight == 0 {
			h.loadingChain.Store(true)
		}

		h.getBlocksHeight = chainHeight
	}
	h.mu.Unlock()

	if startSync {
		h.sendGetBlocks(conn)
	} else {
		h.resumeChainSync()
	}

	for _, listener := range listeners {
		listener.OnConnectionEstablished(conn)
	}
}

func (h *NetworkHandler) raiseNetworkChainHeight(height int32) {
	for {
		current := h.networkChainHeight.Load()
		if height <= current {
			return
		}

		if h.networkChainHeight.CompareAndSwap(current, height) {
			prometheusSPVNetworkChainHeight.Set(float64(height))
			return
		}
	}
}

// resumeChainSync restarts a chain sync whose peer went away before the chain caught up
// with the network. It does nothing before the first sync or while the sync peer is still
// connected.
func (h *NetworkHandler) resumeChainSync() {
	chainHeight := h.store.ChainHeight()

	h.mu.Lock()

	if h.getBlocksHeight < 0 || chainHeight >= h.networkChainHeight.Load() {
		h.mu.Unlock()
		return
	}

	if h.syncPeer != nil && h.syncPeer.Connected() {
		h.mu.Unlock()
		return
	}

	conn, found := h.pickSyncPeer(chainHeight)
	if found {
		if chainHeight == 0 {
			h.loadingChain.Store(true)
		}

		h.getBlocksHeight = chainHeight
	}
	h.mu.Unlock()

	if !found {
		h.logger.Debugf("[NetworkHandler] chain sync stalled at height %d, no peer ahead of us", chainHeight)
		return
	}

	h.logger.Infof("[NetworkHandler] resuming chain sync at height %d with %s", chainHeight, conn)
	h.sendGetBlocks(conn)
}

// checkChainSync is the sync maintenance timer.
func (h *NetworkHandler) checkChainSync(_, _ time.Time) {
	h.resumeChainSync()
}

// sendGetBlocks queues a getheaders or getblocks message built from the local chain and
// makes conn the sync peer.
func (h *NetworkHandler) sendGetBlocks(conn *peer.Connection) {
	locator := netsync.BuildLocator(h.logger, h.store, h.locatorDepth)
	msg := buildGetBlocksMessage(locator, h.loadingChain.Load())

	h.mu.Lock()
	h.syncPeer = conn
	h.mu.Unlock()

	h.queueMessage(conn, msg)
	prometheusSPVChainSyncRequests.WithLabelValues(msg.Command()).Inc()

	h.logger.Infof("[NetworkHandler] '%s' message sent to %s", msg.Command(), conn)
}

// queueMessage encodes msg and appends it to the output queue of conn.
func (h *NetworkHandler) queueMessage(conn *peer.Connection, msg wire.Message) {
	buf, err := encodeMessage(msg, h.params.Net)
	if err != nil {
		h.logger.Errorf("[NetworkHandler][%s] %v", conn, err)
		return
	}

	h.mu.Lock()
	conn.QueueMessage(buf)
	h.mu.Unlock()
}

// closeFlagged closes the connections whose ban score reached the maximum.
func (h *NetworkHandler) closeFlagged() {
	h.mu.Lock()
	flagged := make([]*peer.Connection, 0)

	for _, conn := range h.connections {
		if conn.DisconnectRequested() {
			flagged = append(flagged, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range flagged {
		h.logger.Warnf("[NetworkHandler] disconnecting misbehaving peer %s, ban score %d", conn, conn.BanScore())
		h.closeConnection(conn, "banned")
	}
}

func (h *NetworkHandler) hasRequests() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return !h.tracker.Empty()
}

// processRequests sweeps timed out requests and sends a getdata for every pending one.
func (h *NetworkHandler) processRequests() {
	now := h.clock.Now()

	h.mu.Lock()
	peers := make([]netsync.Peer, 0, len(h.connections))

	for _, conn := range h.connections {
		peers = append(peers, conn)
	}

	result := h.tracker.Process(now, peers, func(p netsync.Peer, iv *wire.InvVect) {
		conn, ok := p.(*peer.Connection)
		if !ok {
			return
		}

		buf, err := encodeMessage(buildGetDataMessage(iv), h.params.Net)
		if err != nil {
			h.logger.Errorf("[NetworkHandler][%s] %v", conn, err)
			return
		}

		conn.QueueMessage(buf)
	})
	h.mu.Unlock()

	prometheusSPVRequestsDispatched.Add(float64(result.Dispatched))
	prometheusSPVRequestsTimedOut.Add(float64(result.TimedOut))
	prometheusSPVRequestsDropped.Add(float64(result.Dropped))
}

// pruneAddresses removes the addresses not seen since the previous prune.
func (h *NetworkHandler) pruneAddresses(_, lastPrune time.Time) {
	removed := h.registry.PruneStale(lastPrune)

	prometheusSPVPeerAddressesPruned.Add(float64(len(removed)))
	prometheusSPVPeerAddresses.Set(float64(h.registry.Len()))
}

// checkInactive closes connections that have been idle too long and pings the ones that
// have been quiet for a while.
func (h *NetworkHandler) checkInactive(now, _ time.Time) {
	inactivityTimeout := h.settings.SPV.InactivityTimeout
	quietTimeout := h.settings.SPV.HandshakeTimeout

	inactive := make([]*peer.Connection, 0)
	ping := make([]*peer.Connection, 0)

	h.mu.Lock()
	for _, conn := range h.connections {
		if conn.State() == peer.StateConnecting {
			continue
		}

		idle := now.Sub(conn.LastActivity())

		switch {
		case idle > inactivityTimeout:
			inactive = append(inactive, conn)
		case idle > quietTimeout && conn.VersionCount() < 2:
			inactive = append(inactive, conn)
		case idle > quietTimeout && !conn.PingSent():
			conn.SetPingSent(true)
			ping = append(ping, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range ping {
		h.queueMessage(conn, buildPingMessage())
		h.logger.Infof("[NetworkHandler] 'ping' message sent to %s", conn)
	}

	for _, conn := range inactive {
		h.logger.Infof("[NetworkHandler] closing connection due to inactivity: %s", conn)
		h.closeConnection(conn, "inactive")

		if !conn.Address().Static {
			h.registry.Remove(conn.Address())
		}
	}
}

// replenishOutbound opens one more connection when below the maximum.
func (h *NetworkHandler) replenishOutbound(_, _ time.Time) {
	count := h.ConnectionCount()

	if count < h.maxOutbound && count < h.registry.Len() {
		h.connectOutbound()
	}
}

// flushOutput hands the next queued message to every idle writer.
func (h *NetworkHandler) flushOutput() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conn := range h.connections {
		if conn.Writing() || !conn.Connected() {
			continue
		}

		buf, ok := conn.NextMessage()
		if !ok {
			continue
		}

		conn.StartWrite(buf)
	}
}
