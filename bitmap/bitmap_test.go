package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/diskio"
)

func TestPopCnt(t *testing.T) {
	assert.Equal(t, uint64(0), popCnt(0))
	assert.Equal(t, uint64(1), popCnt(1))
	assert.Equal(t, uint64(1), popCnt(2))
	assert.Equal(t, uint64(2), popCnt(3))
	assert.Equal(t, uint64(8), popCnt(255))
}

func TestAllocateLowestFirst(t *testing.T) {
	assert := assert.New(t)
	b := MkDataBitmap(32)

	n, ok := b.AllocateFirstFree()
	assert.True(ok)
	assert.Equal(uint64(0), n)

	b.MarkUsed(1)
	n, ok = b.AllocateFirstFree()
	assert.True(ok)
	assert.Equal(uint64(2), n, "should skip marked bits")

	assert.Equal(uint64(29), b.NumFree())
}

func TestAllocateFull(t *testing.T) {
	assert := assert.New(t)
	b := MkDataBitmap(8)
	for i := 0; i < 8; i++ {
		_, ok := b.AllocateFirstFree()
		assert.True(ok)
	}
	_, ok := b.AllocateFirstFree()
	assert.False(ok, "full bitmap should refuse")
}

func TestDeallocate(t *testing.T) {
	assert := assert.New(t)
	b := MkDataBitmap(16)
	n, _ := b.AllocateFirstFree()
	assert.True(b.Deallocate(n))
	assert.False(b.Deallocate(n), "double free reports false")

	n2, ok := b.AllocateFirstFree()
	assert.True(ok)
	assert.Equal(n, n2, "freed bit is allocated again first")
}

func TestReserveBeginning(t *testing.T) {
	assert := assert.New(t)
	b := MkDataBitmap(64)
	b.ReserveBeginning(10)
	n, ok := b.AllocateFirstFree()
	assert.True(ok)
	assert.Equal(uint64(10), n)
	assert.Equal(uint64(53), b.NumFree())
}

func TestLoadSave(t *testing.T) {
	assert := assert.New(t)
	d := diskio.MkDiskAccess(diskio.NewMemSurface(4096))

	b := MkDataBitmap(64)
	b.ReserveBeginning(3)
	b.MarkUsed(9)
	require.NoError(t, b.Save(d, addr.MkAddress(100)))

	b2 := MkDataBitmap(64)
	require.NoError(t, b2.Load(d, addr.MkAddress(100)))
	assert.True(b2.IsSet(0))
	assert.True(b2.IsSet(2))
	assert.True(b2.IsSet(9))
	assert.False(b2.IsSet(3))
	assert.Equal(b.NumFree(), b2.NumFree())
}
