package spv

import (
	"bytes"
	"context"
	"strings"

	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/services/spv/peer"
)

// MalformedMessageBanScore is added to a peer that sends a message that cannot be decoded.
const MalformedMessageBanScore = 10

// decodeWorker decodes framed messages and runs the message handler until the frame queue
// is closed or ctx is done.
func (h *NetworkHandler) decodeWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-h.frames:
			if !ok {
				return
			}

			h.processFrame(ctx, f)
		}
	}
}

// processFrame decodes one message and hands the reply back to the network loop. The
// connection is always added to the completed list so that the loop can run the
// handshake setup or a requested disconnect.
func (h *NetworkHandler) processFrame(ctx context.Context, f frame) {
	conn := f.conn

	if !conn.Connected() {
		return
	}

	reply := h.decodeAndHandle(ctx, conn, f.raw)

	h.mu.Lock()
	h.completed = append(h.completed, completedMessage{conn: conn, reply: reply})
	h.mu.Unlock()

	h.Wakeup()
}

func (h *NetworkHandler) decodeAndHandle(ctx context.Context, conn *peer.Connection, raw []byte) []byte {
	command := peer.CommandOf(raw)

	msg, _, err := wire.ReadMessage(bytes.NewReader(raw), wire.ProtocolVersion, h.params.Net)
	if err != nil {
		var msgErr *wire.MessageError
		if errors.As(err, &msgErr) && isUnknownCommand(msgErr) {
			h.logger.Debugf("[NetworkHandler][%s] ignoring unknown command '%s'", conn, command)
			return nil
		}

		err = errors.WithPeer(errors.NewNetworkInvalidResponseError("unable to decode '%s' message", command, err), conn.Address().String())

		prometheusSPVDecodeErrors.Inc()
		h.logger.Errorf("[NetworkHandler] %v", err)
		conn.AddBanScore(MalformedMessageBanScore, "malformed "+command+" message")
		prometheusSPVBanScoreIncrements.WithLabelValues("malformed_message").Inc()

		return nil
	}

	response, err := h.handler.HandleMessage(ctx, conn, msg)
	if err != nil {
		err = errors.WithPeer(err, conn.Address().String())
		h.logger.Errorf("[NetworkHandler] error processing '%s' message: %v", command, err)

		if errors.IsMaliciousResponseError(err) {
			conn.AddBanScore(MalformedMessageBanScore, err.Error())
			prometheusSPVBanScoreIncrements.WithLabelValues("malicious_response").Inc()
		}

		return nil
	}

	if response == nil {
		return nil
	}

	buf, err := encodeMessage(response, h.params.Net)
	if err != nil {
		h.logger.Errorf("[NetworkHandler][%s] %v", conn, err)
		return nil
	}

	return buf
}

// isUnknownCommand reports whether the wire package rejected the message because it has no
// message type for its command.
func isUnknownCommand(msgErr *wire.MessageError) bool {
	return strings.Contains(msgErr.Description, "unhandled command")
}
