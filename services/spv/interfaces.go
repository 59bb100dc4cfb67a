package spv

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/services/spv/peer"
)

// ChainStore is the wallet's view of the local block chain.
type ChainStore interface {
	// ChainHeight returns the height of the chain head.
	ChainHeight() int32

	// ChainHead returns the hash of the chain head.
	ChainHead() *chainhash.Hash

	// ChainList returns the hashes of the chain from startHeight up to the chain head, or up
	// to stop when it is not the zero hash.
	ChainList(startHeight int32, stop *chainhash.Hash) ([]*chainhash.Hash, error)
}

// BloomFilter supplies the filter loaded into every peer after the handshake.
type BloomFilter interface {
	FilterLoadMsg() *wire.MsgFilterLoad
}

// MessageHandler processes a decoded inbound message on a decode worker and returns the
// reply to send to the peer, if any.
type MessageHandler interface {
	HandleMessage(ctx context.Context, conn *peer.Connection, msg wire.Message) (wire.Message, error)
}

// MessageSink receives the data messages the wallet is interested in.
type MessageSink interface {
	ProcessTransaction(ctx context.Context, conn *peer.Connection, msg *wire.MsgTx) error
	ProcessBlock(ctx context.Context, conn *peer.Connection, msg *wire.MsgBlock) error
	ProcessMerkleBlock(ctx context.Context, conn *peer.Connection, msg *wire.MsgMerkleBlock) error
	ProcessHeaders(ctx context.Context, conn *peer.Connection, msg *wire.MsgHeaders) error
}

// ConnectionListener is told when a connection completes its handshake and when an
// established connection closes. Calls are made from the network loop goroutine.
type ConnectionListener interface {
	OnConnectionEstablished(conn *peer.Connection)
	OnConnectionClosed(conn *peer.Connection)
}
