package master

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/fserr"
)

const testVolumeSize = common.BlockSize * 2000

func mkTestMaster(t *testing.T) (*MasterRecord, *diskio.DiskAccess) {
	t.Helper()
	d := diskio.MkDiskAccess(diskio.NewMemSurface(testVolumeSize))
	m, err := CreateNewVolume(d, testVolumeSize)
	require.NoError(t, err)
	return m, d
}

func TestGeometrySmallVolume(t *testing.T) {
	assert := assert.New(t)
	globalStart, sizes, err := geometry(testVolumeSize)
	require.NoError(t, err)
	assert.Equal(addr.MkAddress(common.BlockSize), globalStart,
		"header and one descriptor fit a single block")
	require.Len(t, sizes, 1)
	assert.Equal(uint64(1999), sizes[0])
}

func TestGeometryMultiGroup(t *testing.T) {
	size := common.BlocksPerGroup * common.BlockSize * 2
	_, sizes, err := geometry(size)
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	assert.Equal(t, common.BlocksPerGroup, sizes[0])
	assert.Equal(t, common.BlocksPerGroup*2-common.BlocksPerGroup-1, sizes[1])
}

func TestGeometryTinyRemainderDropped(t *testing.T) {
	// a remainder no larger than the reserved prefix gets no group
	size := (common.BlocksPerGroup + common.ReservedBlocks) * common.BlockSize
	_, sizes, err := geometry(size)
	require.NoError(t, err)
	assert.Len(t, sizes, 1)
}

func TestGeometryRejects(t *testing.T) {
	_, _, err := geometry(common.BlockSize*10 + 1)
	assert.Error(t, err, "unaligned size")
	_, _, err = geometry(common.BlockSize * (common.ReservedBlocks + 1))
	assert.Error(t, err, "too small")
}

func TestCreateVolumeHasRoot(t *testing.T) {
	m, _ := mkTestMaster(t)
	root, err := m.GetRootDirectory()
	require.NoError(t, err)
	assert.True(t, root.IsDirectory())
	_, ok := root.FindChildEntry(".")
	assert.True(t, ok)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	assert := assert.New(t)
	m, d := mkTestMaster(t)
	root, err := m.GetRootDirectory()
	require.NoError(t, err)
	_, err = m.CreateFileNode(root, "a.txt")
	require.NoError(t, err)
	require.NoError(t, m.Dispose())

	m2, err := Load(d)
	require.NoError(t, err)
	assert.Equal(m.VolumeSize(), m2.VolumeSize())
	assert.Equal(m.FreeSpaceBlocks(), m2.FreeSpaceBlocks())
	assert.Equal(m.RootAddress(), m2.RootAddress())
	assert.Equal(m.GroupCount(), m2.GroupCount())

	root2, err := m2.GetRootDirectory()
	require.NoError(t, err)
	_, ok := root2.FindChildEntry("a.txt")
	assert.True(ok)
}

func TestAllocateBlocksAccounting(t *testing.T) {
	assert := assert.New(t)
	m, _ := mkTestMaster(t)
	before := m.FreeSpaceBlocks()

	addrs, err := m.AllocateBlocks(10)
	require.NoError(t, err)
	assert.Len(addrs, 10)
	assert.Equal(before-10, m.FreeSpaceBlocks())

	require.NoError(t, m.FreeBlocks(addrs))
	assert.Equal(before, m.FreeSpaceBlocks())
}

func TestAllocateBlocksDiskFull(t *testing.T) {
	m, _ := mkTestMaster(t)
	free := m.FreeSpaceBlocks()
	_, err := m.AllocateBlocks(free + 1)
	assert.ErrorIs(t, err, fserr.ErrDiskFull)
	assert.Equal(t, free, m.FreeSpaceBlocks(), "failed allocation leaves the count intact")
}

func TestCacheReturnsSameInstance(t *testing.T) {
	m, _ := mkTestMaster(t)
	root, err := m.GetRootDirectory()
	require.NoError(t, err)
	f, err := m.CreateFileNode(root, "f.bin")
	require.NoError(t, err)

	again, err := m.GetFileNode(f.HeaderAddress())
	require.NoError(t, err)
	assert.Same(t, f, again)

	_, err = m.GetDirectoryNode(f.HeaderAddress())
	assert.ErrorIs(t, err, fserr.ErrWrongKind)
}

func TestDeleteReturnsFreeSpace(t *testing.T) {
	assert := assert.New(t)
	m, _ := mkTestMaster(t)
	root, err := m.GetRootDirectory()
	require.NoError(t, err)
	before := m.FreeSpaceBlocks()

	f, err := m.CreateFileNode(root, "big.bin")
	require.NoError(t, err)
	require.NoError(t, f.SetFileSize(50*common.BlockSize))
	// 50 data blocks plus the indirect page for blocks 12..49
	assert.Equal(before-51, m.FreeSpaceBlocks())

	_, err = root.FindAndRemoveChildEntry("big.bin", false)
	require.NoError(t, err)
	require.NoError(t, m.FreeNodeAndAllAllocatedBlocks(f))
	assert.Equal(before, m.FreeSpaceBlocks())
}

func TestNodeSlotExhaustion(t *testing.T) {
	m, _ := mkTestMaster(t)
	root, err := m.GetRootDirectory()
	require.NoError(t, err)
	// one slot went to the root
	for i := uint64(0); i < common.NodesPerGroup-1; i++ {
		_, err := m.CreateFileNode(root, fmt.Sprintf("f%04d", i))
		require.NoError(t, err)
	}
	_, err = m.CreateFileNode(root, "one-too-many")
	assert.ErrorIs(t, err, fserr.ErrDiskFull)
}

func TestFsckCleanVolume(t *testing.T) {
	m, _ := mkTestMaster(t)
	root, err := m.GetRootDirectory()
	require.NoError(t, err)
	sub, err := m.CreateDirectoryNode(root, "sub")
	require.NoError(t, err)
	f, err := m.CreateFileNode(sub, "data.bin")
	require.NoError(t, err)
	require.NoError(t, f.WriteData(0, make([]byte, 3*common.BlockSize)))

	problems, err := m.Check()
	require.NoError(t, err)
	assert.Empty(t, problems)
}
