package spv

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawFrame builds a message with an arbitrary command and payload.
func rawFrame(command string, payload []byte) []byte {
	var buf bytes.Buffer

	header := make([]byte, 24)
	binary.LittleEndian.PutUint32(header[0:4], uint32(wire.MainNet))
	copy(header[4:16], command)
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(payload))) // nolint:gosec
	copy(header[20:24], chainhash.DoubleHashB(payload)[:4])

	buf.Write(header)
	buf.Write(payload)

	return buf.Bytes()
}

func TestDecodeAndHandle(t *testing.T) {
	h := newIdleHandler(t, nil)
	ctx := context.Background()

	t.Run("reply is encoded", func(t *testing.T) {
		conn := addConnection(t, h, 1, 0, 3)

		raw, err := encodeMessage(wire.NewMsgPing(5), wire.MainNet)
		require.NoError(t, err)

		reply := h.decodeAndHandle(ctx, conn, raw)
		require.NotNil(t, reply)

		msg, _, err := wire.ReadMessage(bytes.NewReader(reply), wire.ProtocolVersion, wire.MainNet)
		require.NoError(t, err)

		pong, ok := msg.(*wire.MsgPong)
		require.True(t, ok)
		assert.Equal(t, uint64(5), pong.Nonce)
	})

	t.Run("unknown command is ignored", func(t *testing.T) {
		conn := addConnection(t, h, 2, 0, 3)

		reply := h.decodeAndHandle(ctx, conn, rawFrame("sendcmpct2", []byte{1, 2, 3}))
		assert.Nil(t, reply)
		assert.Equal(t, int32(0), conn.BanScore())
	})

	t.Run("malformed message raises the ban score", func(t *testing.T) {
		conn := addConnection(t, h, 3, 0, 3)

		raw, err := encodeMessage(wire.NewMsgPing(5), wire.MainNet)
		require.NoError(t, err)

		// corrupt the payload so the checksum fails
		raw[len(raw)-1] ^= 0xff

		reply := h.decodeAndHandle(ctx, conn, raw)
		assert.Nil(t, reply)
		assert.Equal(t, int32(MalformedMessageBanScore), conn.BanScore())
	})
}

func TestProcessFrameQueuesCompleted(t *testing.T) {
	h := newIdleHandler(t, nil)
	conn := addConnection(t, h, 1, 0, 3)

	raw, err := encodeMessage(wire.NewMsgPing(9), wire.MainNet)
	require.NoError(t, err)

	h.processFrame(context.Background(), frame{conn: conn, raw: raw})

	h.mu.Lock()
	require.Len(t, h.completed, 1)
	assert.Same(t, conn, h.completed[0].conn)
	assert.NotNil(t, h.completed[0].reply)
	h.mu.Unlock()

	h.processCompletedMessages()

	msgs := queuedCommands(t, h, conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.CmdPong, msgs[0].Command())

	t.Run("disconnect requested", func(t *testing.T) {
		flagged := addConnection(t, h, 2, 0, 3)
		flagged.RequestDisconnect()

		h.processFrame(context.Background(), frame{conn: flagged, raw: raw})
		h.processCompletedMessages()

		assert.False(t, flagged.Connected())
		assert.Equal(t, 1, h.ConnectionCount())
	})
}

func TestCompleteHandshakeStartsSync(t *testing.T) {
	h := newIdleHandler(t, nil)

	listener := &recordingListener{}
	h.AddListener(listener)

	conn := addConnection(t, h, 1, 500, 2)
	second := addConnection(t, h, 2, 800, 2)

	h.completeHandshake(conn)

	assert.True(t, conn.IsEstablished())
	assert.Equal(t, int32(3), conn.VersionCount())
	assert.True(t, h.LoadingChain())
	assert.Equal(t, int32(500), h.NetworkChainHeight())

	commands := make([]string, 0)
	for _, msg := range queuedCommands(t, h, conn) {
		commands = append(commands, msg.Command())
	}

	assert.Equal(t, []string{wire.CmdGetAddr, wire.CmdFilterLoad, wire.CmdGetHeaders}, commands)

	h.completeHandshake(second)

	commands = commands[:0]
	for _, msg := range queuedCommands(t, h, second) {
		commands = append(commands, msg.Command())
	}

	assert.Equal(t, []string{wire.CmdGetAddr, wire.CmdFilterLoad}, commands)
	assert.Equal(t, int32(800), h.NetworkChainHeight())

	established, _ := listener.counts()
	assert.Equal(t, 2, established)
}
