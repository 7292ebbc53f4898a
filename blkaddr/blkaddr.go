// Package blkaddr maps a node's logical block indices to absolute
// addresses through 12 direct pointers, one indirect page and one
// double-indirect page of 32-bit block indices. Pages are allocated
// lazily on first use and freed eagerly when their last referent goes
// away.
package blkaddr

import (
	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/fserr"
	"github.com/vfslab/volfs/util"
)

// Allocator hands out and takes back data blocks. The master record is
// the only implementation in a live volume.
type Allocator interface {
	AllocateBlocks(n uint64) ([]addr.Address, error)
	FreeBlocks(addrs []addr.Address) error
}

type BlockAddressStorage struct {
	d           *diskio.DiskAccess
	alloc       Allocator
	headerAddr  addr.Address // owning node's header
	globalStart addr.Address // first block of group 0

	numAllocated uint64
	direct       [common.DirectBlocks]common.Bnum
	indirect     common.Bnum
	double       common.Bnum
}

// MkBlockAddressStorage constructs the storage of a fresh node with no
// blocks.
func MkBlockAddressStorage(d *diskio.DiskAccess, alloc Allocator,
	headerAddr addr.Address, globalStart addr.Address) *BlockAddressStorage {
	return &BlockAddressStorage{
		d:           d,
		alloc:       alloc,
		headerAddr:  headerAddr,
		globalStart: globalStart,
	}
}

// LoadBlockAddressStorage reads the pointer record back from the node
// header.
func LoadBlockAddressStorage(d *diskio.DiskAccess, alloc Allocator,
	headerAddr addr.Address, globalStart addr.Address) (*BlockAddressStorage, error) {
	s := MkBlockAddressStorage(d, alloc, headerAddr, globalStart)
	at := headerAddr + addr.Address(common.NodeOffNumBlocks)
	n, err := d.ReadUint32(&at)
	if err != nil {
		return nil, err
	}
	s.numAllocated = uint64(n)
	for i := uint64(0); i < common.DirectBlocks; i++ {
		s.direct[i], err = d.ReadUint32(&at)
		if err != nil {
			return nil, err
		}
	}
	s.indirect, err = d.ReadUint32(&at)
	if err != nil {
		return nil, err
	}
	s.double, err = d.ReadUint32(&at)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BlockAddressStorage) NumBlocksAllocated() uint64 {
	return s.numAllocated
}

func (s *BlockAddressStorage) indexToAddress(idx common.Bnum) addr.Address {
	return s.globalStart.AddBlocks(uint64(idx))
}

func (s *BlockAddressStorage) addressToIndex(a addr.Address) common.Bnum {
	return common.Bnum(uint64(a-s.globalStart) / common.BlockSize)
}

func (s *BlockAddressStorage) pageEntryAddr(page common.Bnum, entry uint64) addr.Address {
	return s.indexToAddress(page) + addr.Address(4*entry)
}

// GetBlockStartAddress resolves logical block i of the node.
func (s *BlockAddressStorage) GetBlockStartAddress(i uint64) (addr.Address, error) {
	if i >= s.numAllocated {
		return addr.NULLADDR, fserr.Wrapf(fserr.ErrOutOfRange,
			"block %d of %d", i, s.numAllocated)
	}
	if i < common.DirectBlocks {
		return s.indexToAddress(s.direct[i]), nil
	}
	i -= common.DirectBlocks
	if i < common.PointersPerPage {
		at := s.pageEntryAddr(s.indirect, i)
		idx, err := s.d.ReadUint32(&at)
		if err != nil {
			return addr.NULLADDR, err
		}
		return s.indexToAddress(idx), nil
	}
	j := i - common.PointersPerPage
	at := s.pageEntryAddr(s.double, j/common.PointersPerPage)
	page, err := s.d.ReadUint32(&at)
	if err != nil {
		return addr.NULLADDR, err
	}
	at = s.pageEntryAddr(page, j%common.PointersPerPage)
	idx, err := s.d.ReadUint32(&at)
	if err != nil {
		return addr.NULLADDR, err
	}
	return s.indexToAddress(idx), nil
}

func (s *BlockAddressStorage) persistNumAllocated() error {
	at := s.headerAddr + addr.Address(common.NodeOffNumBlocks)
	return s.d.WriteUint32(&at, uint32(s.numAllocated))
}

func (s *BlockAddressStorage) persistDirect(i uint64) error {
	at := s.headerAddr + addr.Address(common.NodeOffDirect+4*i)
	return s.d.WriteUint32(&at, s.direct[i])
}

func (s *BlockAddressStorage) persistIndirect() error {
	at := s.headerAddr + addr.Address(common.NodeOffIndirect)
	return s.d.WriteUint32(&at, s.indirect)
}

func (s *BlockAddressStorage) persistDouble() error {
	at := s.headerAddr + addr.Address(common.NodeOffDouble)
	return s.d.WriteUint32(&at, s.double)
}

// SaveAll writes the whole pointer record; used when initialising a
// fresh node header.
func (s *BlockAddressStorage) SaveAll() error {
	if err := s.persistNumAllocated(); err != nil {
		return err
	}
	for i := uint64(0); i < common.DirectBlocks; i++ {
		if err := s.persistDirect(i); err != nil {
			return err
		}
	}
	if err := s.persistIndirect(); err != nil {
		return err
	}
	return s.persistDouble()
}

func (s *BlockAddressStorage) allocPage() (common.Bnum, error) {
	addrs, err := s.alloc.AllocateBlocks(1)
	if err != nil {
		return common.NULLBNUM, err
	}
	return s.addressToIndex(addrs[0]), nil
}

// appendOne wires one new data block at logical index numAllocated,
// allocating indirect pages as the tiers fill. Every pointer mutation is
// written to its on-disk slot immediately.
func (s *BlockAddressStorage) appendOne(a addr.Address) error {
	n := s.numAllocated
	idx := s.addressToIndex(a)
	if n < common.DirectBlocks {
		s.direct[n] = idx
		if err := s.persistDirect(n); err != nil {
			return err
		}
		s.numAllocated++
		return nil
	}
	n -= common.DirectBlocks
	if n < common.PointersPerPage {
		if n == 0 {
			page, err := s.allocPage()
			if err != nil {
				return err
			}
			s.indirect = page
			if err := s.persistIndirect(); err != nil {
				return err
			}
		}
		at := s.pageEntryAddr(s.indirect, n)
		if err := s.d.WriteUint32(&at, idx); err != nil {
			return err
		}
		s.numAllocated++
		return nil
	}
	j := n - common.PointersPerPage
	if j == 0 {
		page, err := s.allocPage()
		if err != nil {
			return err
		}
		s.double = page
		if err := s.persistDouble(); err != nil {
			return err
		}
	}
	if j%common.PointersPerPage == 0 {
		page, err := s.allocPage()
		if err != nil {
			return err
		}
		at := s.pageEntryAddr(s.double, j/common.PointersPerPage)
		if err := s.d.WriteUint32(&at, page); err != nil {
			return err
		}
	}
	at := s.pageEntryAddr(s.double, j/common.PointersPerPage)
	page, err := s.d.ReadUint32(&at)
	if err != nil {
		return err
	}
	at = s.pageEntryAddr(page, j%common.PointersPerPage)
	if err := s.d.WriteUint32(&at, idx); err != nil {
		return err
	}
	s.numAllocated++
	return nil
}

// AddBlocks grows the node by k data blocks. The data blocks are taken
// from the allocator in one call; indirect pages are allocated as the
// append crosses tier boundaries. On a mid-way failure the store stays
// consistent, grown as far as the append got, and the unwired remainder
// is returned to the allocator.
func (s *BlockAddressStorage) AddBlocks(k uint64) error {
	if s.numAllocated+k > common.MaxBlocksPerNode {
		return fserr.Wrapf(fserr.ErrMaxFileSize,
			"%d + %d blocks", s.numAllocated, k)
	}
	addrs, err := s.alloc.AllocateBlocks(k)
	if err != nil {
		return err
	}
	util.DPrintf(10, "AddBlocks: node %v += %d\n", s.headerAddr, k)
	for i, a := range addrs {
		if err := s.appendOne(a); err != nil {
			s.alloc.FreeBlocks(addrs[i:])
			s.persistNumAllocated()
			return err
		}
	}
	return s.persistNumAllocated()
}

// freeOne unwires the last block (logical index numAllocated-1) and
// appends the freed addresses, including any page that became empty, to
// the list.
func (s *BlockAddressStorage) freeOne(freed []addr.Address) ([]addr.Address, error) {
	n := s.numAllocated - 1
	a, err := s.GetBlockStartAddress(n)
	if err != nil {
		return freed, err
	}
	freed = append(freed, a)
	if n < common.DirectBlocks {
		s.direct[n] = common.NULLBNUM
		if err := s.persistDirect(n); err != nil {
			return freed, err
		}
		s.numAllocated--
		return freed, nil
	}
	i := n - common.DirectBlocks
	if i < common.PointersPerPage {
		at := s.pageEntryAddr(s.indirect, i)
		if err := s.d.WriteUint32(&at, common.NULLBNUM); err != nil {
			return freed, err
		}
		if i == 0 {
			freed = append(freed, s.indexToAddress(s.indirect))
			s.indirect = common.NULLBNUM
			if err := s.persistIndirect(); err != nil {
				return freed, err
			}
		}
		s.numAllocated--
		return freed, nil
	}
	j := i - common.PointersPerPage
	at := s.pageEntryAddr(s.double, j/common.PointersPerPage)
	page, err := s.d.ReadUint32(&at)
	if err != nil {
		return freed, err
	}
	at = s.pageEntryAddr(page, j%common.PointersPerPage)
	if err := s.d.WriteUint32(&at, common.NULLBNUM); err != nil {
		return freed, err
	}
	if j%common.PointersPerPage == 0 {
		freed = append(freed, s.indexToAddress(page))
		at = s.pageEntryAddr(s.double, j/common.PointersPerPage)
		if err := s.d.WriteUint32(&at, common.NULLBNUM); err != nil {
			return freed, err
		}
	}
	if j == 0 {
		freed = append(freed, s.indexToAddress(s.double))
		s.double = common.NULLBNUM
		if err := s.persistDouble(); err != nil {
			return freed, err
		}
	}
	s.numAllocated--
	return freed, nil
}

// FreeLastBlocks shrinks the node by n data blocks, returning them and
// any emptied indirect pages to the allocator.
func (s *BlockAddressStorage) FreeLastBlocks(n uint64) error {
	if n > s.numAllocated {
		return fserr.Wrapf(fserr.ErrOutOfRange,
			"free %d of %d blocks", n, s.numAllocated)
	}
	var freed []addr.Address
	var err error
	for i := uint64(0); i < n; i++ {
		freed, err = s.freeOne(freed)
		if err != nil {
			break
		}
	}
	util.DPrintf(10, "FreeLastBlocks: node %v -= %d (%d addrs)\n",
		s.headerAddr, n, len(freed))
	if len(freed) > 0 {
		if ferr := s.alloc.FreeBlocks(freed); ferr != nil && err == nil {
			err = ferr
		}
	}
	if perr := s.persistNumAllocated(); perr != nil && err == nil {
		err = perr
	}
	return err
}
