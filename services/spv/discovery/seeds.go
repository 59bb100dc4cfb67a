package discovery

import (
	"context"
	"strconv"

	"github.com/bsv-blockchain/go-chaincfg"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/services/spv/addrmgr"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
)

// ParsePort converts a chain parameter port string.
func ParsePort(port string) (uint16, error) {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return 0, errors.NewConfigurationError("[Discovery] invalid port %q", port, err)
	}

	return uint16(p), nil
}

// SeedFromDNS resolves every seed and adds the results to the registry with the default
// port. Seed nodes are assumed to provide network services. A seed that cannot be resolved
// is logged and skipped. The number of new addresses is returned.
func SeedFromDNS(ctx context.Context, logger ulogger.Logger, resolver Resolver, seeds []chaincfg.DNSSeed, defaultPort uint16, registry *addrmgr.Registry) int {
	added := 0

	for _, seed := range seeds {
		if ctx.Err() != nil {
			break
		}

		ips, err := resolver.LookupHost(ctx, seed.Host)
		if err != nil {
			logger.Warnf("[Discovery] DNS seed %s not resolved: %v", seed.Host, err)
			continue
		}

		for _, ip := range ips {
			if registry.Add(addrmgr.NewPeerAddress(ip.String(), defaultPort, wire.SFNodeNetwork)) {
				added++
			}
		}

		logger.Debugf("[Discovery] DNS seed %s returned %d addresses", seed.Host, len(ips))
	}

	logger.Infof("[Discovery] %d peer addresses discovered from %d DNS seeds", added, len(seeds))

	return added
}
