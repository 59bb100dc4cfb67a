package spv

import (
	"bytes"
	"math/rand/v2"
	"net"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/services/spv/peer"
)

// encodeMessage serialises msg with its header for the given network.
func encodeMessage(msg wire.Message, net wire.BitcoinNet) ([]byte, error) {
	var buf bytes.Buffer

	if err := wire.WriteMessage(&buf, msg, wire.ProtocolVersion, net); err != nil {
		return nil, errors.NewProcessingError("[Messages] unable to encode %s message", msg.Command(), err)
	}

	return buf.Bytes(), nil
}

// buildVersionMessage returns the version message announcing our chain height to conn.
func (h *NetworkHandler) buildVersionMessage(conn *peer.Connection, height int32) *wire.MsgVersion {
	ourNA := wire.NewNetAddressIPPort(net.IPv4zero, 0, 0)
	theirNA := conn.Address().NetAddress()
	theirNA.Timestamp = time.Unix(h.clock.Now().Unix(), 0)

	msg := wire.NewMsgVersion(ourNA, theirNA, rand.Uint64(), height)
	msg.Services = 0
	msg.DisableRelayTx = true

	_ = msg.AddUserAgent(h.settings.SPV.UserAgentName, h.settings.SPV.UserAgentVersion)

	return msg
}

func buildGetAddrMessage() *wire.MsgGetAddr {
	return wire.NewMsgGetAddr()
}

func buildPingMessage() *wire.MsgPing {
	return wire.NewMsgPing(rand.Uint64())
}

func buildGetDataMessage(iv *wire.InvVect) *wire.MsgGetData {
	msg := wire.NewMsgGetDataSizeHint(1)
	_ = msg.AddInvVect(iv)

	return msg
}

// buildGetBlocksMessage returns getheaders while the chain is being loaded and getblocks
// otherwise, both asking for everything after the locator.
func buildGetBlocksMessage(locator []*chainhash.Hash, loadingChain bool) wire.Message {
	stop := &chainhash.Hash{}

	if loadingChain {
		msg := wire.NewMsgGetHeaders()
		msg.HashStop = *stop

		for _, hash := range locator {
			if err := msg.AddBlockLocatorHash(hash); err != nil {
				break
			}
		}

		return msg
	}

	msg := wire.NewMsgGetBlocks(stop)

	for _, hash := range locator {
		if err := msg.AddBlockLocatorHash(hash); err != nil {
			break
		}
	}

	return msg
}
