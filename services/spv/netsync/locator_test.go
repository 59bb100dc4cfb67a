package netsync

import (
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/teranode-spv/errors"
	"github.com/bsv-blockchain/teranode-spv/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// heightHash encodes a height in the first bytes of a hash.
func heightHash(height int32) *chainhash.Hash {
	var h chainhash.Hash

	h[0] = byte(height)
	h[1] = byte(height >> 8)
	h[2] = byte(height >> 16)
	h[31] = 0xff

	return &h
}

func hashHeight(h *chainhash.Hash) int32 {
	return int32(h[0]) | int32(h[1])<<8 | int32(h[2])<<16
}

type testChain struct {
	height int32
	err    error
}

func (c *testChain) ChainHeight() int32 {
	return c.height
}

func (c *testChain) ChainHead() *chainhash.Hash {
	return heightHash(c.height)
}

func (c *testChain) ChainList(startHeight int32, _ *chainhash.Hash) ([]*chainhash.Hash, error) {
	if c.err != nil {
		return nil, c.err
	}

	list := make([]*chainhash.Hash, 0, c.height-startHeight+1)
	for h := startHeight; h <= c.height; h++ {
		list = append(list, heightHash(h))
	}

	return list, nil
}

func heights(locator []*chainhash.Hash) []int32 {
	out := make([]int32, len(locator))
	for i, h := range locator {
		out[i] = hashHeight(h)
	}

	return out
}

func TestBuildLocatorWholeChain(t *testing.T) {
	chain := &testChain{height: 1000}

	locator := BuildLocator(ulogger.TestLogger{}, chain, 1000)

	assert.Equal(t, []int32{
		1000, 999, 998, 997, 996, 995, 994, 993, 992, 991, 990,
		988, 984, 976, 960, 928, 864, 736, 480,
		0,
	}, heights(locator))
}

func TestBuildLocatorDefaultDepth(t *testing.T) {
	chain := &testChain{height: 1000}

	locator := BuildLocator(ulogger.TestLogger{}, chain, DefaultLocatorDepth)

	got := heights(locator)
	assert.Equal(t, []int32{1000, 999, 998, 997, 996, 995, 994, 993, 992, 991, 990}, got[:11])
	assert.Equal(t, []int32{988, 984, 976, 960, 928, 864, 736, 500}, got[11:])
}

func TestBuildLocatorShortChain(t *testing.T) {
	chain := &testChain{height: 5}

	locator := BuildLocator(ulogger.TestLogger{}, chain, DefaultLocatorDepth)
	assert.Equal(t, []int32{5, 4, 3, 2, 1, 0}, heights(locator))
}

func TestBuildLocatorGenesisOnly(t *testing.T) {
	chain := &testChain{height: 0}

	locator := BuildLocator(ulogger.TestLogger{}, chain, DefaultLocatorDepth)
	require.Len(t, locator, 1)
	assert.Equal(t, int32(0), hashHeight(locator[0]))
}

func TestBuildLocatorStoreFailure(t *testing.T) {
	chain := &testChain{height: 750, err: errors.NewStorageError("database closed")}

	locator := BuildLocator(ulogger.TestLogger{}, chain, DefaultLocatorDepth)
	require.Len(t, locator, 1)
	assert.Equal(t, chain.ChainHead(), locator[0])
}

type emptyChain struct {
	testChain
}

func (c *emptyChain) ChainList(int32, *chainhash.Hash) ([]*chainhash.Hash, error) {
	return nil, nil
}

func TestBuildLocatorEmptyList(t *testing.T) {
	chain := &emptyChain{testChain{height: 42}}

	locator := BuildLocator(ulogger.TestLogger{}, chain, DefaultLocatorDepth)
	require.Len(t, locator, 1)
	assert.Equal(t, int32(42), hashHeight(locator[0]))
}
