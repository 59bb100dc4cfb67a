// Package discovery bootstraps the peer address registry from DNS seeds.
package discovery

import (
	"context"
	"net"
	"time"

	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

// Resolver looks up the IP addresses of a host name.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]net.IP, error)
}

// DNSResolver queries A and AAAA records directly from a list of name servers.
type DNSResolver struct {
	logger  ulogger.Logger
	client  *dns.Client
	servers []string
}

// NewDNSResolver returns a resolver using server (host:port). When server is empty the
// name servers of the system resolver configuration are used.
func NewDNSResolver(logger ulogger.Logger, server string, timeout time.Duration) (*DNSResolver, error) {
	var servers []string

	if server != "" {
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}

		servers = []string{server}
	} else {
		config, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, errors.NewConfigurationError("[DNSResolver] no resolver configured and %s unreadable", resolvConf, err)
		}

		for _, s := range config.Servers {
			servers = append(servers, net.JoinHostPort(s, config.Port))
		}
	}

	if len(servers) == 0 {
		return nil, errors.NewConfigurationError("[DNSResolver] no name servers available")
	}

	return &DNSResolver{
		logger: logger,
		client: &dns.Client{
			Net:     "udp",
			Timeout: timeout,
		},
		servers: servers,
	}, nil
}

// LookupHost returns the A and AAAA records of host. The first server that answers is
// used.
func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	var lastErr error

	for _, server := range r.servers {
		ips, err := r.lookup(ctx, server, host)
		if err != nil {
			lastErr = err
			r.logger.Debugf("[DNSResolver] lookup of %s via %s failed: %v", host, server, err)

			continue
		}

		return ips, nil
	}

	return nil, lastErr
}

func (r *DNSResolver) lookup(ctx context.Context, server, host string) ([]net.IP, error) {
	fqdn := dns.Fqdn(host)
	ips := make([]net.IP, 0)

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		msg.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, errors.NewNetworkError("[DNSResolver] query %s %s", dns.TypeToString[qtype], host, err)
		}

		if resp.Rcode == dns.RcodeNameError {
			return nil, errors.NewNotFoundError("[DNSResolver] host %s not found", host)
		}

		if resp.Rcode != dns.RcodeSuccess {
			return nil, errors.NewNetworkInvalidResponseError("[DNSResolver] query %s %s returned %s", dns.TypeToString[qtype], host, dns.RcodeToString[resp.Rcode])
		}

		for _, rr := range resp.Answer {
			switch record := rr.(type) {
			case *dns.A:
				ips = append(ips, record.A)
			case *dns.AAAA:
				ips = append(ips, record.AAAA)
			}
		}
	}

	return ips, nil
}
