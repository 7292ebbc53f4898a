package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/diskio"
)

// testAlloc hands out sequential blocks above globalStart.
type testAlloc struct {
	globalStart addr.Address
	next        uint64
	outstanding map[addr.Address]bool
}

func mkTestAlloc(globalStart addr.Address) *testAlloc {
	return &testAlloc{
		globalStart: globalStart,
		next:        1,
		outstanding: map[addr.Address]bool{},
	}
}

func (m *testAlloc) AllocateBlocks(n uint64) ([]addr.Address, error) {
	var addrs []addr.Address
	for i := uint64(0); i < n; i++ {
		a := m.globalStart.AddBlocks(m.next)
		m.next++
		m.outstanding[a] = true
		addrs = append(addrs, a)
	}
	return addrs, nil
}

func (m *testAlloc) FreeBlocks(addrs []addr.Address) error {
	for _, a := range addrs {
		if !m.outstanding[a] {
			panic("testAlloc: double free")
		}
		delete(m.outstanding, a)
	}
	return nil
}

// mkTestVolume lays out node headers below globalStart and data blocks
// above it.
func mkTestVolume(t *testing.T, blocks uint64) (*diskio.DiskAccess, *testAlloc, addr.Address) {
	t.Helper()
	d := diskio.MkDiskAccess(diskio.NewMemSurface((blocks + 2) * common.BlockSize))
	globalStart := addr.MkAddress(common.BlockSize)
	return d, mkTestAlloc(globalStart), globalStart
}

func TestTicksRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ts := time.Date(2024, 5, 17, 12, 34, 56, 700, time.UTC)
	assert.Equal(ts, ticksToTime(timeToTicks(ts)))

	epoch := time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(int64(0), timeToTicks(epoch))
}

func TestTicksResolution(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 100, time.UTC)
	b := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, timeToTicks(b)+1, timeToTicks(a), "100ns is one tick")
}
