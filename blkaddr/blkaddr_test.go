package blkaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/fserr"
)

// mockAlloc hands out sequential blocks above globalStart and tracks the
// outstanding balance.
type mockAlloc struct {
	globalStart addr.Address
	next        uint64
	outstanding map[addr.Address]bool
}

func mkMockAlloc(globalStart addr.Address) *mockAlloc {
	return &mockAlloc{
		globalStart: globalStart,
		next:        1, // index 0 is the null block
		outstanding: map[addr.Address]bool{},
	}
}

func (m *mockAlloc) AllocateBlocks(n uint64) ([]addr.Address, error) {
	var addrs []addr.Address
	for i := uint64(0); i < n; i++ {
		a := m.globalStart.AddBlocks(m.next)
		m.next++
		m.outstanding[a] = true
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func (m *mockAlloc) FreeBlocks(addrs []addr.Address) error {
	for _, a := range addrs {
		if !m.outstanding[a] {
			panic("mockAlloc: double free")
		}
		delete(m.outstanding, a)
	}
	return nil
}

func mkStorage(t *testing.T, blocks uint64) (*BlockAddressStorage, *mockAlloc) {
	t.Helper()
	globalStart := addr.MkAddress(common.BlockSize)
	d := diskio.MkDiskAccess(diskio.NewMemSurface((blocks + 2) * common.BlockSize))
	m := mkMockAlloc(globalStart)
	s := MkBlockAddressStorage(d, m, addr.MkAddress(0), globalStart)
	require.NoError(t, s.SaveAll())
	return s, m
}

func TestGrowThroughAllTiers(t *testing.T) {
	assert := assert.New(t)
	s, m := mkStorage(t, 2100)

	require.NoError(t, s.AddBlocks(2000))
	assert.Equal(uint64(2000), s.NumBlocksAllocated())

	for _, i := range []uint64{12, 1024, 1036, 1999} {
		a, err := s.GetBlockStartAddress(i)
		require.NoError(t, err, "block %d", i)
		assert.True(m.outstanding[a], "block %d maps to an allocated address", i)
	}

	_, err := s.GetBlockStartAddress(2000)
	assert.ErrorIs(err, fserr.ErrOutOfRange)

	// 2000 data blocks + indirect page + double page + 1 second-tier page
	assert.Equal(2003, len(m.outstanding))

	require.NoError(t, s.FreeLastBlocks(2000))
	assert.Equal(uint64(0), s.NumBlocksAllocated())
	assert.Equal(0, len(m.outstanding), "pages must be released with the data")
}

func TestDistinctAddresses(t *testing.T) {
	assert := assert.New(t)
	s, _ := mkStorage(t, 1200)
	require.NoError(t, s.AddBlocks(1100))

	seen := map[addr.Address]bool{}
	for i := uint64(0); i < 1100; i++ {
		a, err := s.GetBlockStartAddress(i)
		require.NoError(t, err)
		assert.False(seen[a], "block %d reuses an address", i)
		seen[a] = true
	}
}

func TestPersistAndReload(t *testing.T) {
	assert := assert.New(t)
	globalStart := addr.MkAddress(common.BlockSize)
	d := diskio.MkDiskAccess(diskio.NewMemSurface(64 * common.BlockSize))
	m := mkMockAlloc(globalStart)
	s := MkBlockAddressStorage(d, m, addr.MkAddress(0), globalStart)
	require.NoError(t, s.SaveAll())
	require.NoError(t, s.AddBlocks(20))

	s2, err := LoadBlockAddressStorage(d, m, addr.MkAddress(0), globalStart)
	require.NoError(t, err)
	assert.Equal(uint64(20), s2.NumBlocksAllocated())
	for i := uint64(0); i < 20; i++ {
		a1, err1 := s.GetBlockStartAddress(i)
		a2, err2 := s2.GetBlockStartAddress(i)
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.Equal(a1, a2)
	}
}

func TestMaxFileSize(t *testing.T) {
	s, _ := mkStorage(t, 16)
	err := s.AddBlocks(common.MaxBlocksPerNode + 1)
	assert.ErrorIs(t, err, fserr.ErrMaxFileSize)
}

func TestFreePartial(t *testing.T) {
	assert := assert.New(t)
	s, m := mkStorage(t, 64)
	require.NoError(t, s.AddBlocks(20))
	// 20 data + 1 indirect page
	assert.Equal(21, len(m.outstanding))

	require.NoError(t, s.FreeLastBlocks(8))
	assert.Equal(uint64(12), s.NumBlocksAllocated())
	// the indirect page empties when block 12 goes away
	assert.Equal(12, len(m.outstanding))

	require.NoError(t, s.AddBlocks(1))
	a, err := s.GetBlockStartAddress(12)
	require.NoError(t, err)
	assert.True(m.outstanding[a])
}
