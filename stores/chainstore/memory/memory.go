// Package memory is an in-memory chain store holding the best chain of block hashes.
package memory

import (
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/go-wire"
	"github.com/bsv-blockchain/teranode-spv/errors"
)

type Memory struct {
	mu      sync.RWMutex
	chain   []chainhash.Hash
	heights map[chainhash.Hash]int32
}

// New creates a store whose chain holds only the genesis block.
func New(genesis chainhash.Hash) *Memory {
	return &Memory{
		chain:   []chainhash.Hash{genesis},
		heights: map[chainhash.Hash]int32{genesis: 0},
	}
}

func (m *Memory) ChainHeight() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int32(len(m.chain) - 1) // nolint:gosec
}

func (m *Memory) ChainHead() *chainhash.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()

	head := m.chain[len(m.chain)-1]

	return &head
}

// ChainList returns the hashes from startHeight to the chain head, or to stop when stop is
// not the zero hash.
func (m *Memory) ChainList(startHeight int32, stop *chainhash.Hash) ([]*chainhash.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if startHeight < 0 || int(startHeight) >= len(m.chain) {
		return nil, errors.NewInvalidArgumentError("start height %d outside chain of height %d", startHeight, len(m.chain)-1)
	}

	end := len(m.chain) - 1

	if stop != nil && !stop.IsEqual(&chainhash.Hash{}) {
		stopHeight, ok := m.heights[*stop]
		if !ok {
			return nil, errors.NewBlockNotFoundError("stop block %s not in chain", stop)
		}

		if stopHeight < startHeight {
			return nil, errors.NewInvalidArgumentError("stop block %s at height %d is below start height %d", stop, stopHeight, startHeight)
		}

		end = int(stopHeight)
	}

	hashes := make([]*chainhash.Hash, 0, end-int(startHeight)+1)

	for i := int(startHeight); i <= end; i++ {
		hash := m.chain[i]
		hashes = append(hashes, &hash)
	}

	return hashes, nil
}

// Height returns the height of hash in the chain.
func (m *Memory) Height(hash chainhash.Hash) (int32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	height, ok := m.heights[hash]

	return height, ok
}

// AddHeaders extends the chain with the headers that connect to it. Headers already in the
// chain are skipped; a header that neither connects to the head nor is known is an error.
// It returns the number of blocks added.
func (m *Memory) AddHeaders(headers []*wire.BlockHeader) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0

	for _, header := range headers {
		hash := header.BlockHash()

		if _, exists := m.heights[hash]; exists {
			continue
		}

		head := m.chain[len(m.chain)-1]
		if !header.PrevBlock.IsEqual(&head) {
			return added, errors.NewBlockInvalidError("header %s does not connect to chain head %s", hash, head)
		}

		m.heights[hash] = int32(len(m.chain)) // nolint:gosec
		m.chain = append(m.chain, hash)
		added++
	}

	return added, nil
}
