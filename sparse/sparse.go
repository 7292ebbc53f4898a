// Package sparse writes one byte buffer across a list of possibly
// non-contiguous block addresses: a head fragment at an offset into the
// first block, whole-block body fragments, and a tail fragment.
package sparse

import (
	"github.com/pkg/errors"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/util"
)

// NumBlocksRequired reports how many block addresses a write of length
// bytes starting at offset within the first block spans.
func NumBlocksRequired(length uint64, offset uint64) uint64 {
	if offset >= common.BlockSize {
		panic("NumBlocksRequired: offset must be inside the first block")
	}
	head := util.Min(length, common.BlockSize-offset)
	if head == length {
		return 1
	}
	rest := length - head
	n := 1 + rest/common.BlockSize
	if rest%common.BlockSize != 0 {
		n++
	}
	return n
}

// Write places buf across blocks, starting offset bytes into blocks[0].
// blocks must cover the write range exactly.
func Write(d *diskio.DiskAccess, buf []byte, blocks []addr.Address, offset uint64) error {
	length := uint64(len(buf))
	if length == 0 {
		return nil
	}
	need := NumBlocksRequired(length, offset)
	if need != uint64(len(blocks)) {
		return errors.Errorf("sparse write: %d blocks given, %d required",
			len(blocks), need)
	}

	head := util.Min(length, common.BlockSize-offset)
	at := blocks[0] + addr.Address(offset)
	if err := d.WriteBytes(&at, buf[:head]); err != nil {
		return err
	}

	pos := head
	blk := 1
	for length-pos >= common.BlockSize {
		at := blocks[blk]
		if err := d.WriteBytes(&at, buf[pos:pos+common.BlockSize]); err != nil {
			return err
		}
		pos += common.BlockSize
		blk++
	}

	if pos < length {
		at := blocks[blk]
		if err := d.WriteBytes(&at, buf[pos:]); err != nil {
			return err
		}
	}
	return nil
}
