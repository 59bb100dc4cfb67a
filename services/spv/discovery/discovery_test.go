package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-chaincfg"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/services/spv/addrmgr"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	hosts map[string][]net.IP
}

func (f *fakeResolver) LookupHost(_ context.Context, host string) ([]net.IP, error) {
	ips, ok := f.hosts[host]
	if !ok {
		return nil, errors.NewNotFoundError("host %s not found", host)
	}

	return ips, nil
}

func TestSeedFromDNSOverlappingSeeds(t *testing.T) {
	resolver := &fakeResolver{hosts: map[string][]net.IP{
		"seed1.example.com": {net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), net.ParseIP("10.0.0.3")},
		"seed2.example.com": {net.ParseIP("10.0.0.2"), net.ParseIP("10.0.0.3"), net.ParseIP("10.0.0.4")},
	}}

	registry := addrmgr.New(ulogger.TestLogger{})

	added := SeedFromDNS(context.Background(), ulogger.TestLogger{}, resolver, []chaincfg.DNSSeed{
		{Host: "seed1.example.com"},
		{Host: "seed2.example.com"},
		{Host: "missing.example.com"},
	}, 8333, registry)

	assert.Equal(t, 4, added)
	assert.Equal(t, 4, registry.Len())

	seen := map[string]int{}
	for _, a := range registry.Addresses() {
		seen[a.Key()]++

		assert.Equal(t, uint16(8333), a.Port)
		assert.Equal(t, wire.SFNodeNetwork, a.Services())
		assert.False(t, a.Static)
	}

	for key, count := range seen {
		assert.Equal(t, 1, count, key)
	}
}

func TestSeedFromDNSCancelled(t *testing.T) {
	resolver := &fakeResolver{hosts: map[string][]net.IP{
		"seed1.example.com": {net.ParseIP("10.0.0.1")},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	registry := addrmgr.New(ulogger.TestLogger{})

	assert.Equal(t, 0, SeedFromDNS(ctx, ulogger.TestLogger{}, resolver, []chaincfg.DNSSeed{{Host: "seed1.example.com"}}, 8333, registry))
	assert.Equal(t, 0, registry.Len())
}

func TestParsePort(t *testing.T) {
	port, err := ParsePort("8333")
	require.NoError(t, err)
	assert.Equal(t, uint16(8333), port)

	_, err = ParsePort("99999")
	require.Error(t, err)

	_, err = ParsePort("")
	require.Error(t, err)
}

// startDNSServer serves A and AAAA answers for the given names on a local UDP port.
func startDNSServer(t *testing.T, records map[string][]net.IP) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		msg := &dns.Msg{}
		msg.SetReply(r)
		msg.Authoritative = true

		question := r.Question[0]

		ips, ok := records[question.Name]
		if !ok {
			msg.Rcode = dns.RcodeNameError
			_ = w.WriteMsg(msg)

			return
		}

		for _, ip := range ips {
			hdr := dns.RR_Header{Name: question.Name, Class: dns.ClassINET, Ttl: 60}

			switch {
			case question.Qtype == dns.TypeA && ip.To4() != nil:
				hdr.Rrtype = dns.TypeA
				msg.Answer = append(msg.Answer, &dns.A{Hdr: hdr, A: ip.To4()})
			case question.Qtype == dns.TypeAAAA && ip.To4() == nil:
				hdr.Rrtype = dns.TypeAAAA
				msg.Answer = append(msg.Answer, &dns.AAAA{Hdr: hdr, AAAA: ip})
			}
		}

		_ = w.WriteMsg(msg)
	})

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}

	go func() {
		_ = server.ActivateAndServe()
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}

	t.Cleanup(func() {
		_ = server.Shutdown()
	})

	return pc.LocalAddr().String()
}

func TestDNSResolverLookupHost(t *testing.T) {
	addr := startDNSServer(t, map[string][]net.IP{
		"seed.example.com.": {net.ParseIP("192.0.2.1"), net.ParseIP("192.0.2.2"), net.ParseIP("2001:db8::1")},
	})

	resolver, err := NewDNSResolver(ulogger.TestLogger{}, addr, 2*time.Second)
	require.NoError(t, err)

	ips, err := resolver.LookupHost(context.Background(), "seed.example.com")
	require.NoError(t, err)
	require.Len(t, ips, 3)
	assert.True(t, ips[0].Equal(net.ParseIP("192.0.2.1")))
	assert.True(t, ips[1].Equal(net.ParseIP("192.0.2.2")))
	assert.True(t, ips[2].Equal(net.ParseIP("2001:db8::1")))

	_, err = resolver.LookupHost(context.Background(), "unknown.example.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	// literal addresses are not sent to the server
	ips, err = resolver.LookupHost(context.Background(), "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, []net.IP{net.ParseIP("198.51.100.7")}, ips)
}

func TestDNSResolverWithSeeds(t *testing.T) {
	addr := startDNSServer(t, map[string][]net.IP{
		"seed1.example.com.": {net.ParseIP("192.0.2.1"), net.ParseIP("192.0.2.2")},
		"seed2.example.com.": {net.ParseIP("192.0.2.2"), net.ParseIP("192.0.2.3")},
	})

	resolver, err := NewDNSResolver(ulogger.TestLogger{}, addr, 2*time.Second)
	require.NoError(t, err)

	registry := addrmgr.New(ulogger.TestLogger{})

	added := SeedFromDNS(context.Background(), ulogger.TestLogger{}, resolver, []chaincfg.DNSSeed{
		{Host: "seed1.example.com"},
		{Host: "seed2.example.com"},
	}, 18333, registry)

	assert.Equal(t, 3, added)

	_, ok := registry.Lookup("192.0.2.2", 18333)
	assert.True(t, ok)
}

func TestNewDNSResolverAddsPort(t *testing.T) {
	resolver, err := NewDNSResolver(ulogger.TestLogger{}, "127.0.0.1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:53"}, resolver.servers)
}
