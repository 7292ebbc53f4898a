package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundUpToBlock(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(MkAddress(0), MkAddress(0).RoundUpToBlock())
	assert.Equal(MkAddress(4096), MkAddress(1).RoundUpToBlock())
	assert.Equal(MkAddress(4096), MkAddress(4096).RoundUpToBlock())
	assert.Equal(MkAddress(8192), MkAddress(4097).RoundUpToBlock())
}

func TestAddBlocks(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(MkAddress(4096*3), MkAddress(0).AddBlocks(3))
	assert.Equal(MkAddress(100+4096), MkAddress(100).AddBlocks(1))
}

func TestContains(t *testing.T) {
	assert := assert.New(t)
	assert.True(MkAddress(100).Contains(MkAddress(100), 1))
	assert.True(MkAddress(150).Contains(MkAddress(100), 100))
	assert.False(MkAddress(200).Contains(MkAddress(100), 100), "end is exclusive")
	assert.False(MkAddress(99).Contains(MkAddress(100), 100))
}
