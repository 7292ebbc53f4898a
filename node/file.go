package node

import (
	"github.com/pkg/errors"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/blkaddr"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/sparse"
	"github.com/vfslab/volfs/util"
)

// FileNode is a byte-stream payload over the node's data blocks.
type FileNode struct {
	Node
}

func MkFileNode(d *diskio.DiskAccess, alloc blkaddr.Allocator,
	headerAddr addr.Address, globalStart addr.Address) *FileNode {
	return &FileNode{
		Node: mkBaseNode(d, alloc, headerAddr, globalStart, false),
	}
}

// Create initialises a fresh, empty file header on disk.
func (f *FileNode) Create() error {
	return f.initOnDisk()
}

func LoadFileNode(d *diskio.DiskAccess, alloc blkaddr.Allocator,
	headerAddr addr.Address, globalStart addr.Address) (*FileNode, error) {
	base, err := loadBaseNode(d, alloc, headerAddr, globalStart, false)
	if err != nil {
		return nil, err
	}
	return &FileNode{Node: base}, nil
}

// ReadData copies up to n bytes starting at position. Reads past the
// end of the file are truncated, not failed.
func (f *FileNode) ReadData(position uint64, n uint64) ([]byte, error) {
	if position >= f.size {
		return nil, nil
	}
	n = util.Min(n, f.size-position)
	out := make([]byte, n)
	pos := uint64(0)
	for pos < n {
		blockIdx := (position + pos) / common.BlockSize
		off := (position + pos) % common.BlockSize
		chunk := util.Min(common.BlockSize-off, n-pos)
		a, err := f.storage.GetBlockStartAddress(blockIdx)
		if err != nil {
			return nil, err
		}
		at := a + addr.Address(off)
		read, err := f.d.ReadBytes(&at, out[pos:pos+chunk])
		if err != nil {
			return nil, err
		}
		if read != chunk {
			return nil, errors.Errorf("short read of block %v: %d of %d", a, read, chunk)
		}
		pos += chunk
	}
	return out, nil
}

// WriteData places buf at position, growing the file first when the
// write runs past the current size.
func (f *FileNode) WriteData(position uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	end := position + uint64(len(buf))
	if end > f.size {
		if err := f.SetFileSize(end); err != nil {
			return err
		}
	}
	firstBlock := position / common.BlockSize
	offset := position % common.BlockSize
	count := sparse.NumBlocksRequired(uint64(len(buf)), offset)
	blocks := make([]addr.Address, 0, count)
	for i := uint64(0); i < count; i++ {
		a, err := f.storage.GetBlockStartAddress(firstBlock + i)
		if err != nil {
			return err
		}
		blocks = append(blocks, a)
	}
	if err := sparse.Write(f.d, buf, blocks, offset); err != nil {
		return err
	}
	f.touch()
	return f.SaveHeader()
}

// SetFileSize grows or truncates the file so that ceil(n/BlockSize)
// blocks back it.
func (f *FileNode) SetFileSize(n uint64) error {
	needed := util.RoundUp(n, common.BlockSize)
	cur := f.storage.NumBlocksAllocated()
	if needed > cur {
		if err := f.storage.AddBlocks(needed - cur); err != nil {
			return err
		}
	} else if needed < cur {
		if err := f.storage.FreeLastBlocks(cur - needed); err != nil {
			return err
		}
	}
	f.size = n
	f.touch()
	return f.SaveHeader()
}
