package node

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/common"
)

func mkTestFile(t *testing.T, blocks uint64) (*FileNode, *testAlloc) {
	t.Helper()
	d, alloc, globalStart := mkTestVolume(t, blocks)
	f := MkFileNode(d, alloc, addr.MkAddress(0), globalStart)
	require.NoError(t, f.Create())
	return f, alloc
}

func TestWriteReadSmall(t *testing.T) {
	f, _ := mkTestFile(t, 16)
	data := []byte{1, 2, 3, 4, 5}
	require.NoError(t, f.WriteData(0, data))
	assert.Equal(t, uint64(5), f.Size())

	got, err := f.ReadData(0, 5)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteReadAcrossBlocks(t *testing.T) {
	f, _ := mkTestFile(t, 16)
	data := make([]byte, 3*common.BlockSize+123)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, f.WriteData(100, data))
	assert.Equal(t, uint64(100)+uint64(len(data)), f.Size())

	got, err := f.ReadData(100, uint64(len(data)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestOverwriteMiddle(t *testing.T) {
	f, _ := mkTestFile(t, 16)
	require.NoError(t, f.WriteData(0, bytes.Repeat([]byte{0xaa}, 1000)))
	require.NoError(t, f.WriteData(200, bytes.Repeat([]byte{0xbb}, 100)))
	assert.Equal(t, uint64(1000), f.Size(), "overwrite inside does not grow")

	got, err := f.ReadData(0, 1000)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 200), got[:200])
	assert.Equal(t, bytes.Repeat([]byte{0xbb}, 100), got[200:300])
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 700), got[300:])
}

func TestReadPastEndTruncates(t *testing.T) {
	f, _ := mkTestFile(t, 16)
	require.NoError(t, f.WriteData(0, []byte{1, 2, 3}))

	got, err := f.ReadData(1, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3}, got, "short at EOF")

	got, err = f.ReadData(10, 5)
	require.NoError(t, err)
	assert.Empty(t, got, "empty beyond EOF")
}

func TestTruncateCommutes(t *testing.T) {
	f, _ := mkTestFile(t, 32)
	require.NoError(t, f.SetFileSize(5*common.BlockSize))
	require.NoError(t, f.SetFileSize(2*common.BlockSize+7))
	assert.Equal(t, 2*common.BlockSize+7, f.Size())
	assert.Equal(t, uint64(3), f.Storage().NumBlocksAllocated())

	require.NoError(t, f.SetFileSize(6*common.BlockSize))
	assert.Equal(t, 6*common.BlockSize, f.Size())
	assert.Equal(t, uint64(6), f.Storage().NumBlocksAllocated())
}

func TestTruncateToZeroFreesEverything(t *testing.T) {
	f, alloc := mkTestFile(t, 32)
	require.NoError(t, f.WriteData(0, make([]byte, 10*common.BlockSize)))
	require.NoError(t, f.SetFileSize(0))
	assert.Equal(t, uint64(0), f.Size())
	assert.Equal(t, 0, len(alloc.outstanding))
}

func TestFileReload(t *testing.T) {
	d, alloc, globalStart := mkTestVolume(t, 16)
	f := MkFileNode(d, alloc, addr.MkAddress(0), globalStart)
	require.NoError(t, f.Create())
	require.NoError(t, f.WriteData(0, []byte("hello volume")))

	f2, err := LoadFileNode(d, alloc, addr.MkAddress(0), globalStart)
	require.NoError(t, err)
	assert.Equal(t, f.Size(), f2.Size())
	got, err := f2.ReadData(0, f2.Size())
	require.NoError(t, err)
	assert.Equal(t, []byte("hello volume"), got)

	_, err = LoadDirectoryNode(d, alloc, addr.MkAddress(0), globalStart)
	assert.Error(t, err, "loading a file as a directory must fail the kind check")
}
