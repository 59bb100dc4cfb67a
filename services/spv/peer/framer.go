package peer

import (
	"encoding/binary"

	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
)

const (
	// HeaderSize is the size of a message header: magic, command, payload length, checksum.
	HeaderSize = 24

	// CommandSize is the size of the NUL padded command field.
	CommandSize = 12

	lengthOffset = 4 + CommandSize
)

// FramerState is the position of the framer inside the current message.
type FramerState int

const (
	// Idle means no bytes of the next message have been seen.
	Idle FramerState = iota
	// FramingHeader means part of a header has been buffered.
	FramingHeader
	// FramingPayload means the header is complete and the payload is being buffered.
	FramingPayload
)

func (s FramerState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case FramingHeader:
		return "FramingHeader"
	case FramingPayload:
		return "FramingPayload"
	default:
		return "Unknown"
	}
}

// Framer splits a byte stream into complete messages. It is not safe for concurrent use;
// each connection owns one and feeds it from the event loop.
type Framer struct {
	magic      wire.BitcoinNet
	maxPayload uint32

	state   FramerState
	buf     []byte
	needed  int
	command string
}

// NewFramer returns a framer that accepts messages for the given network with payloads
// of at most maxPayload bytes.
func NewFramer(magic wire.BitcoinNet, maxPayload uint32) *Framer {
	return &Framer{
		magic:      magic,
		maxPayload: maxPayload,
	}
}

func (f *Framer) State() FramerState {
	return f.state
}

// Buffered returns the number of bytes held for the message in progress.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset discards any partial message.
func (f *Framer) Reset() {
	f.state = Idle
	f.buf = nil
	f.needed = 0
	f.command = ""
}

// Feed consumes data and returns every message it completed, each as the raw header plus
// payload. Bytes of an unfinished message are kept for the next call. A bad magic value
// or an oversized payload is returned as an error; the framer should not be fed again
// after that.
func (f *Framer) Feed(data []byte) ([][]byte, error) {
	var frames [][]byte

	for len(data) > 0 {
		switch f.state {
		case Idle:
			f.buf = make([]byte, 0, HeaderSize)
			f.needed = HeaderSize
			f.state = FramingHeader

		case FramingHeader:
			data = f.fill(data)
			if f.needed > 0 {
				return frames, nil
			}

			length, err := f.parseHeader()
			if err != nil {
				f.Reset()
				return frames, err
			}

			if length == 0 {
				frames = append(frames, f.buf)
				f.Reset()

				continue
			}

			payload := make([]byte, HeaderSize, HeaderSize+int(length))
			copy(payload, f.buf)

			f.buf = payload
			f.needed = int(length)
			f.state = FramingPayload

		case FramingPayload:
			data = f.fill(data)
			if f.needed > 0 {
				return frames, nil
			}

			frames = append(frames, f.buf)
			f.Reset()
		}
	}

	return frames, nil
}

// fill moves up to f.needed bytes from data into the buffer and returns the rest.
func (f *Framer) fill(data []byte) []byte {
	n := f.needed
	if n > len(data) {
		n = len(data)
	}

	f.buf = append(f.buf, data[:n]...)
	f.needed -= n

	return data[n:]
}

func (f *Framer) parseHeader() (uint32, error) {
	magic := wire.BitcoinNet(binary.LittleEndian.Uint32(f.buf[0:4]))
	f.command = commandString(f.buf[4:lengthOffset])

	if magic != f.magic {
		return 0, errors.NewNetworkInvalidResponseError("[Framer] message magic %#08x does not match network %#08x (command %q)", uint32(magic), uint32(f.magic), f.command)
	}

	length := binary.LittleEndian.Uint32(f.buf[lengthOffset : lengthOffset+4])
	if length > f.maxPayload {
		return 0, errors.NewThresholdExceededError("[Framer] %s payload of %d bytes exceeds maximum of %d", f.command, length, f.maxPayload)
	}

	return length, nil
}

// Command returns the command of the message currently being framed.
func (f *Framer) Command() string {
	return f.command
}

// CommandOf returns the command of a complete frame.
func CommandOf(frame []byte) string {
	if len(frame) < lengthOffset {
		return ""
	}

	return commandString(frame[4:lengthOffset])
}

func commandString(b []byte) string {
	end := len(b)

	for i, c := range b {
		if c == 0 || c == ' ' {
			end = i
			break
		}
	}

	return string(b[:end])
}
