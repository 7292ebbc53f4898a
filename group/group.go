// Package group owns one contiguous run of blocks: its block bitmap,
// node bitmap and node table, and the allocation state for all three.
package group

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/bitmap"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/util"
)

// Descriptor is the copy-out summary of a group persisted in the master
// record.
type Descriptor struct {
	BitmapsAddress   addr.Address
	FreeBlocksInGroup uint32
	FreeNodesInGroup  uint32
}

type BlockGroup struct {
	mu *sync.Mutex

	index      uint64       // position in the master's group array
	start      addr.Address // first block of the group (= bitmaps address)
	sizeBlocks uint64       // blocks in this group, <= BlocksPerGroup

	blockBitmap *bitmap.DataBitmap
	nodeBitmap  *bitmap.DataBitmap

	freeBlocks uint64
	freeNodes  uint64
}

// MkBlockGroup constructs a freshly formatted group: the metadata prefix
// is reserved and, for a short trailing group, the bits past the group
// end are pre-marked so they can never be allocated.
func MkBlockGroup(index uint64, start addr.Address, sizeBlocks uint64) *BlockGroup {
	g := &BlockGroup{
		mu:          new(sync.Mutex),
		index:       index,
		start:       start,
		sizeBlocks:  sizeBlocks,
		blockBitmap: bitmap.MkDataBitmap(common.BlocksPerGroup),
		nodeBitmap:  bitmap.MkDataBitmap(common.NodesPerGroup),
	}
	g.blockBitmap.ReserveBeginning(common.ReservedBlocks)
	for i := sizeBlocks; i < common.BlocksPerGroup; i++ {
		g.blockBitmap.MarkUsed(i)
	}
	g.freeBlocks = sizeBlocks - common.ReservedBlocks
	g.freeNodes = common.NodesPerGroup
	return g
}

// LoadBlockGroup reads a group's bitmaps back from disk. Free counts are
// recomputed from the bitmaps; the counts stored in the descriptor are
// not used.
func LoadBlockGroup(d *diskio.DiskAccess, index uint64, start addr.Address,
	sizeBlocks uint64) (*BlockGroup, error) {
	g := &BlockGroup{
		mu:          new(sync.Mutex),
		index:       index,
		start:       start,
		sizeBlocks:  sizeBlocks,
		blockBitmap: bitmap.MkDataBitmap(common.BlocksPerGroup),
		nodeBitmap:  bitmap.MkDataBitmap(common.NodesPerGroup),
	}
	if err := g.blockBitmap.Load(d, g.start); err != nil {
		return nil, err
	}
	if err := g.nodeBitmap.Load(d, g.nodeBitmapAddress()); err != nil {
		return nil, err
	}
	g.freeBlocks = g.blockBitmap.NumFree()
	g.freeNodes = g.nodeBitmap.NumFree()
	return g, nil
}

func (g *BlockGroup) Start() addr.Address {
	return g.start
}

func (g *BlockGroup) SizeBlocks() uint64 {
	return g.sizeBlocks
}

func (g *BlockGroup) nodeBitmapAddress() addr.Address {
	return g.start.AddBlocks(common.BlockBitmapBlocks)
}

// NodeTableAddress is the first node slot of the group.
func (g *BlockGroup) NodeTableAddress() addr.Address {
	return g.start.AddBlocks(common.BlockBitmapBlocks + common.NodeBitmapSizeBlocks)
}

// SaveBitmaps writes both bitmaps at their fixed offsets within the
// group. The node bitmap occupies its own block; only its packed bytes
// are written.
func (g *BlockGroup) SaveBitmaps(d *diskio.DiskAccess) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.blockBitmap.Save(d, g.start); err != nil {
		return err
	}
	return g.nodeBitmap.Save(d, g.nodeBitmapAddress())
}

// AllocateNewBlock returns the address of a newly allocated data block,
// or ok=false when the group is full.
func (g *BlockGroup) AllocateNewBlock() (addr.Address, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bit, ok := g.blockBitmap.AllocateFirstFree()
	if !ok {
		return addr.NULLADDR, false
	}
	g.freeBlocks--
	a := g.start.AddBlocks(bit)
	util.DPrintf(10, "group %d: alloc block bit %d -> %v\n", g.index, bit, a)
	return a, true
}

// AllocateNewNode returns the address of a free 128-byte node slot in
// the group's node table, or ok=false when the table is full.
func (g *BlockGroup) AllocateNewNode() (addr.Address, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	bit, ok := g.nodeBitmap.AllocateFirstFree()
	if !ok {
		return addr.NULLADDR, false
	}
	g.freeNodes--
	a := g.NodeTableAddress() + addr.Address(bit*common.NodeSize)
	util.DPrintf(10, "group %d: alloc node bit %d -> %v\n", g.index, bit, a)
	return a, true
}

// FreeBlock releases a previously allocated data block. It rejects
// addresses outside the group, unaligned addresses, the reserved prefix,
// and double frees.
func (g *BlockGroup) FreeBlock(a addr.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !a.Contains(g.start, g.sizeBlocks*common.BlockSize) {
		return errors.Errorf("group %d: block %v outside group", g.index, a)
	}
	if !a.IsBlockAligned() {
		return errors.Errorf("group %d: block %v not block-aligned", g.index, a)
	}
	bit := uint64(a-g.start) / common.BlockSize
	if bit < common.ReservedBlocks {
		return errors.Errorf("group %d: block %v is reserved", g.index, a)
	}
	if !g.blockBitmap.Deallocate(bit) {
		return errors.Errorf("group %d: double free of block %v", g.index, a)
	}
	g.freeBlocks++
	return nil
}

// FreeNode releases a node slot. It rejects addresses outside the node
// table, addresses not on a node boundary, and double frees.
func (g *BlockGroup) FreeNode(a addr.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	table := g.NodeTableAddress()
	if !a.Contains(table, common.NodesPerGroup*common.NodeSize) {
		return errors.Errorf("group %d: node %v outside node table", g.index, a)
	}
	if uint64(a-table)%common.NodeSize != 0 {
		return errors.Errorf("group %d: node %v not on a slot boundary", g.index, a)
	}
	bit := uint64(a-table) / common.NodeSize
	if !g.nodeBitmap.Deallocate(bit) {
		return errors.Errorf("group %d: double free of node %v", g.index, a)
	}
	g.freeNodes++
	return nil
}

func (g *BlockGroup) FreeBlockCount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.freeBlocks
}

func (g *BlockGroup) FreeNodeCount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.freeNodes
}

// BlockIsSet reports the allocation bit of the group-relative block i.
func (g *BlockGroup) BlockIsSet(i uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blockBitmap.IsSet(i)
}

// NodeIsSet reports the allocation bit of node slot i.
func (g *BlockGroup) NodeIsSet(i uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodeBitmap.IsSet(i)
}

// GetDescriptor copies out the group summary for the master record.
func (g *BlockGroup) GetDescriptor() Descriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Descriptor{
		BitmapsAddress:    g.start,
		FreeBlocksInGroup: uint32(g.freeBlocks),
		FreeNodesInGroup:  uint32(g.freeNodes),
	}
}
