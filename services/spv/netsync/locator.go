package netsync

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
)

const (
	// DefaultLocatorDepth is how far below the chain tip the locator starts.
	DefaultLocatorDepth = 500

	// consecutiveLocatorEntries is the number of hashes taken one by one from the tip
	// before the step starts doubling.
	consecutiveLocatorEntries = 10
)

// ChainSource is the part of the chain store needed to build a locator.
type ChainSource interface {
	ChainHeight() int32
	ChainHead() *chainhash.Hash
	ChainList(startHeight int32, stop *chainhash.Hash) ([]*chainhash.Hash, error)
}

// BuildLocator returns the block locator for the local chain. The chain list is read from
// depth blocks below the tip; the most recent ten hashes are included one by one and the
// step doubles after that. The oldest hash of the list is always the last entry. When the
// list is empty or cannot be read the locator is the chain head alone.
func BuildLocator(logger ulogger.Logger, store ChainSource, depth int32) []*chainhash.Hash {
	startHeight := store.ChainHeight() - depth
	if startHeight < 0 {
		startHeight = 0
	}

	chainList, err := store.ChainList(startHeight, &chainhash.Hash{})
	if err != nil {
		logger.Errorf("[Locator] unable to get chain list from height %d, using chain head: %v", startHeight, err)
		return []*chainhash.Hash{store.ChainHead()}
	}

	if len(chainList) == 0 {
		return []*chainhash.Hash{store.ChainHead()}
	}

	locator := make([]*chainhash.Hash, 0, consecutiveLocatorEntries+16)

	step := 1
	loop := 0
	pos := len(chainList) - 1

	for pos >= 0 {
		locator = append(locator, chainList[pos])

		if loop == consecutiveLocatorEntries {
			step *= 2
			pos -= step
		} else {
			loop++
			pos--
		}
	}

	if oldest := chainList[0]; locator[len(locator)-1] != oldest {
		locator = append(locator, oldest)
	}

	return locator
}
