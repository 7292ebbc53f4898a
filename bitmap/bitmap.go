// Package bitmap implements the packed allocation bit vector used for
// blocks and node slots. Bits are LSB-first within a byte. Allocation
// always takes the lowest free index.
package bitmap

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/util"
)

type DataBitmap struct {
	length uint64 // number of bits, multiple of 8
	bits   []byte
}

func MkDataBitmap(length uint64) *DataBitmap {
	if length%8 != 0 {
		panic("bitmap length must be a multiple of 8")
	}
	return &DataBitmap{
		length: length,
		bits:   make([]byte, length/8),
	}
}

func (b *DataBitmap) Length() uint64 {
	return b.length
}

// AllocateFirstFree sets and returns the lowest unset bit. ok is false
// when the bitmap is full.
func (b *DataBitmap) AllocateFirstFree() (uint64, bool) {
	for i := uint64(0); i < b.length/8; i++ {
		byteVal := b.bits[i]
		if byteVal == 0xff {
			continue
		}
		for bit := uint64(0); bit < 8; bit++ {
			if byteVal&(1<<bit) == 0 {
				b.bits[i] |= 1 << bit
				n := i*8 + bit
				util.DPrintf(10, "AllocateFirstFree: %d byte 0x%x\n", n, b.bits[i])
				return n, true
			}
		}
	}
	return 0, false
}

// Deallocate clears bit n and reports whether it was set.
func (b *DataBitmap) Deallocate(n uint64) bool {
	if n >= b.length {
		panic("Deallocate: bit out of range")
	}
	byteIdx := n / 8
	bit := n % 8
	was := b.bits[byteIdx]&(1<<bit) != 0
	b.bits[byteIdx] = b.bits[byteIdx] & ^(1 << bit)
	return was
}

// MarkUsed sets bit n unconditionally.
func (b *DataBitmap) MarkUsed(n uint64) {
	if n >= b.length {
		panic("MarkUsed: bit out of range")
	}
	b.bits[n/8] |= 1 << (n % 8)
}

// IsSet reports bit n.
func (b *DataBitmap) IsSet(n uint64) bool {
	if n >= b.length {
		panic("IsSet: bit out of range")
	}
	return b.bits[n/8]&(1<<(n%8)) != 0
}

// ReserveBeginning sets bits [0..k).
func (b *DataBitmap) ReserveBeginning(k uint64) {
	for i := uint64(0); i < k; i++ {
		b.MarkUsed(i)
	}
}

func popCnt(byteVal byte) uint64 {
	return uint64(bits.OnesCount8(byteVal))
}

// NumFree counts unset bits.
func (b *DataBitmap) NumFree() uint64 {
	var n uint64
	for _, byteVal := range b.bits {
		n += 8 - popCnt(byteVal)
	}
	return n
}

// Load reads length/8 packed bytes from at.
func (b *DataBitmap) Load(d *diskio.DiskAccess, at addr.Address) error {
	n, err := d.ReadBytes(&at, b.bits)
	if err != nil {
		return err
	}
	if n != b.length/8 {
		return errors.Errorf("bitmap load: short read %d of %d", n, b.length/8)
	}
	return nil
}

// Save writes length/8 packed bytes to at.
func (b *DataBitmap) Save(d *diskio.DiskAccess, at addr.Address) error {
	return d.WriteBytes(&at, b.bits)
}
