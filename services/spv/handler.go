package spv

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/services/spv/addrmgr"
	"github.com/bsv-blockchain/teranode-spv/services/spv/peer"
	"github.com/bsv-blockchain/teranode-spv/settings"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/davecgh/go-spew/spew"
	"github.com/jellydator/ttlcache/v3"
	"github.com/ordishs/gocore"
)

// DefaultHandler is the MessageHandler used when none is supplied. It runs the version
// handshake, keeps the address registry and request tracker up to date and hands data
// messages to the sink.
type DefaultHandler struct {
	logger    ulogger.Logger
	network   *NetworkHandler
	sink      MessageSink
	knownInvs *ttlcache.Cache[chainhash.Hash, struct{}]
}

// NewDefaultHandler creates a handler for network. Inventory announced within the
// KnownInvTTL window is requested once, however many peers announce it.
func NewDefaultHandler(logger ulogger.Logger, tSettings *settings.Settings, network *NetworkHandler, sink MessageSink) *DefaultHandler {
	knownInvs := ttlcache.New[chainhash.Hash, struct{}](
		ttlcache.WithTTL[chainhash.Hash, struct{}](tSettings.SPV.KnownInvTTL),
		ttlcache.WithDisableTouchOnHit[chainhash.Hash, struct{}](),
	)

	return &DefaultHandler{
		logger:    logger,
		network:   network,
		sink:      sink,
		knownInvs: knownInvs,
	}
}

// Start runs the expiry of known inventory until Stop is called.
func (d *DefaultHandler) Start() {
	d.knownInvs.Start()
}

func (d *DefaultHandler) Stop() {
	d.knownInvs.Stop()
}

// HandleMessage implements MessageHandler.
func (d *DefaultHandler) HandleMessage(ctx context.Context, conn *peer.Connection, msg wire.Message) (wire.Message, error) {
	if d.logger.LogLevel() >= int(gocore.DEBUG) {
		d.logger.Debugf("[DefaultHandler][%s] %s", conn, spew.Sdump(msg))
	}

	switch m := msg.(type) {
	case *wire.MsgVersion:
		return d.handleVersion(conn, m), nil
	case *wire.MsgVerAck:
		conn.IncrementVersionCount()
		return nil, nil
	case *wire.MsgInv:
		d.handleInv(conn, m)
		return nil, nil
	case *wire.MsgAddr:
		d.handleAddr(conn, m)
		return nil, nil
	case *wire.MsgPing:
		return wire.NewMsgPong(m.Nonce), nil
	case *wire.MsgPong:
		conn.SetPingSent(false)
		return nil, nil
	case *wire.MsgNotFound:
		for _, iv := range m.InvList {
			d.network.RequeueRequest(iv.Hash)
		}

		return nil, nil
	case *wire.MsgTx:
		hash := m.TxHash()
		return nil, d.process(hash, func() error { return d.sink.ProcessTransaction(ctx, conn, m) })
	case *wire.MsgBlock:
		hash := m.BlockHash()
		return nil, d.process(hash, func() error { return d.sink.ProcessBlock(ctx, conn, m) })
	case *wire.MsgMerkleBlock:
		hash := m.Header.BlockHash()
		return nil, d.process(hash, func() error { return d.sink.ProcessMerkleBlock(ctx, conn, m) })
	case *wire.MsgHeaders:
		return nil, d.handleHeaders(ctx, conn, m)
	case *wire.MsgReject:
		d.logger.Warnf("[DefaultHandler][%s] peer rejected '%s' message: %s (%s) %s", conn, m.Cmd, m.Code, m.Reason, m.Hash)
		return nil, nil
	default:
		d.logger.Debugf("[DefaultHandler][%s] ignoring '%s' message", conn, msg.Command())
		return nil, nil
	}
}

// handleVersion records what the peer advertised and acknowledges it. Peers that do not
// serve the full chain are disconnected before the handshake completes.
func (d *DefaultHandler) handleVersion(conn *peer.Connection, msg *wire.MsgVersion) wire.Message {
	conn.SetHeight(msg.LastBlock)
	conn.SetServices(msg.Services)
	conn.SetUserAgent(msg.UserAgent)
	conn.IncrementVersionCount()

	d.logger.Infof("[DefaultHandler][%s] peer version %d, %s, height %d, services %s", conn, msg.ProtocolVersion, msg.UserAgent, msg.LastBlock, msg.Services)

	if msg.Services&wire.SFNodeNetwork == 0 {
		d.logger.Infof("[DefaultHandler][%s] peer does not provide network services, disconnecting", conn)
		conn.RequestDisconnect()

		return nil
	}

	return wire.NewMsgVerAck()
}

// handleInv creates a request for every transaction and block not seen recently. Blocks
// are requested as filtered blocks.
func (d *DefaultHandler) handleInv(conn *peer.Connection, msg *wire.MsgInv) {
	for _, iv := range msg.InvList {
		var invType wire.InvType

		switch iv.Type {
		case wire.InvTypeTx:
			invType = wire.InvTypeTx
		case wire.InvTypeBlock, wire.InvTypeFilteredBlock:
			invType = wire.InvTypeFilteredBlock
		default:
			continue
		}

		if d.knownInvs.Has(iv.Hash) {
			continue
		}

		d.knownInvs.Set(iv.Hash, struct{}{}, ttlcache.DefaultTTL)

		hash := iv.Hash
		d.network.AddRequest(wire.NewInvVect(invType, &hash), conn)
	}
}

func (d *DefaultHandler) handleAddr(conn *peer.Connection, msg *wire.MsgAddr) {
	if d.network.StaticOnly() {
		return
	}

	registry := d.network.Registry()
	now := d.network.clock.Now()
	added := 0

	for _, na := range msg.AddrList {
		if registry.Add(addrmgr.NewPeerAddressFromWire(na, now)) {
			added++
		}
	}

	prometheusSPVPeerAddresses.Set(float64(registry.Len()))

	d.logger.Debugf("[DefaultHandler][%s] %d of %d addresses added", conn, added, len(msg.AddrList))
}

// handleHeaders passes the headers to the sink. A short batch means the peer has no more
// headers and the initial chain download is over.
func (d *DefaultHandler) handleHeaders(ctx context.Context, conn *peer.Connection, msg *wire.MsgHeaders) error {
	if err := d.sink.ProcessHeaders(ctx, conn, msg); err != nil {
		return err
	}

	if len(msg.Headers) < wire.MaxBlockHeadersPerMsg {
		d.network.SetChainLoaded()
	}

	return nil
}

// process runs fn for a requested item, keeping the request from timing out meanwhile.
func (d *DefaultHandler) process(hash chainhash.Hash, fn func() error) error {
	d.network.MarkProcessing(hash)
	defer d.network.CompleteRequest(hash)

	return fn()
}
