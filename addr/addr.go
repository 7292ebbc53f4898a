package addr

import (
	"fmt"

	"github.com/vfslab/volfs/common"
)

// Address is an absolute byte offset into the volume. The size of the
// object it names is determined by the context in which it is used.
type Address uint64

const NULLADDR Address = 0

func MkAddress(off uint64) Address {
	return Address(off)
}

// RoundUpToBlock returns the first block-aligned address >= a.
func (a Address) RoundUpToBlock() Address {
	sz := common.BlockSize
	return Address((uint64(a) + sz - 1) / sz * sz)
}

// AddBlocks returns the address n blocks past a.
func (a Address) AddBlocks(n uint64) Address {
	return a + Address(n*common.BlockSize)
}

// Contains reports whether a lies in [start, start+size).
func (a Address) Contains(start Address, size uint64) bool {
	return a >= start && uint64(a) < uint64(start)+size
}

// IsBlockAligned reports whether a is on a block boundary.
func (a Address) IsBlockAligned() bool {
	return uint64(a)%common.BlockSize == 0
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}
