package addrmgr

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
)

// PeerAddress is a known network endpoint of a remote node.
//
// Host, Port and Static never change after creation. The connected flag, the advertised
// services and the last seen time are updated concurrently by the network loop and the
// message workers.
type PeerAddress struct {
	Host   string
	Port   uint16
	Static bool

	services  atomic.Uint64
	connected atomic.Bool
	lastSeen  atomic.Int64
}

// NewPeerAddress creates an address. IP literals are normalised so that the same endpoint
// always produces the same key.
func NewPeerAddress(host string, port uint16, services wire.ServiceFlag) *PeerAddress {
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	}

	a := &PeerAddress{
		Host: host,
		Port: port,
	}
	a.services.Store(uint64(services))

	return a
}

// NewStaticPeerAddress parses a host[:port] string into a static address. Static addresses
// are never pruned and are the only ones dialled in static-only mode.
func NewStaticPeerAddress(hostPort string, defaultPort string) (*PeerAddress, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = hostPort
		portStr = defaultPort
	}

	if host == "" {
		return nil, errors.NewInvalidArgumentError("[PeerAddress] missing host in %q", hostPort)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("[PeerAddress] invalid port in %q", hostPort, err)
	}

	a := NewPeerAddress(host, uint16(port), wire.SFNodeNetwork)
	a.Static = true

	return a, nil
}

// NewPeerAddressFromWire converts an address received in an addr message. A timestamp in
// the future is clamped to now so the address can still go stale.
func NewPeerAddressFromWire(na *wire.NetAddress, now time.Time) *PeerAddress {
	a := NewPeerAddress(na.IP.String(), na.Port, na.Services)

	switch {
	case na.Timestamp.IsZero():
	case na.Timestamp.After(now):
		a.Touch(now)
	default:
		a.Touch(na.Timestamp)
	}

	return a
}

// Key identifies the address in the registry.
func (a *PeerAddress) Key() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

func (a *PeerAddress) String() string {
	return a.Key()
}

func (a *PeerAddress) Services() wire.ServiceFlag {
	return wire.ServiceFlag(a.services.Load())
}

func (a *PeerAddress) SetServices(services wire.ServiceFlag) {
	a.services.Store(uint64(services))
}

func (a *PeerAddress) Connected() bool {
	return a.connected.Load()
}

func (a *PeerAddress) SetConnected(connected bool) {
	a.connected.Store(connected)
}

// LastSeen returns the time the address was last heard from, or the zero time.
func (a *PeerAddress) LastSeen() time.Time {
	ts := a.lastSeen.Load()
	if ts == 0 {
		return time.Time{}
	}

	return time.Unix(ts, 0)
}

// Touch records activity at t.
func (a *PeerAddress) Touch(t time.Time) {
	a.lastSeen.Store(t.Unix())
}

// NetAddress returns the address in wire form, as used in version messages.
func (a *PeerAddress) NetAddress() *wire.NetAddress {
	ip := net.ParseIP(a.Host)
	if ip == nil {
		ip = net.IPv4zero
	}

	na := wire.NewNetAddressIPPort(ip, a.Port, a.Services())

	if ts := a.lastSeen.Load(); ts > 0 {
		na.Timestamp = time.Unix(ts, 0)
	}

	return na
}
