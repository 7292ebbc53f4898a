// Package master implements the master record: the volume header, the
// block group array, the only block allocator of a volume, the live-node
// cache, and node creation and deletion.
package master

import (
	"sync"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/blkaddr"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/fserr"
	"github.com/vfslab/volfs/group"
	"github.com/vfslab/volfs/node"
	"github.com/vfslab/volfs/util"
)

type MasterRecord struct {
	d *diskio.DiskAccess

	mu *sync.Mutex // guards freeSpaceBlocks

	volumeSize      uint64
	freeSpaceBlocks uint64
	rootNodeAddr    addr.Address
	globalStart     addr.Address
	groups          []*group.BlockGroup

	cache *nodeCache

	dispMu   sync.Mutex
	disposed bool
}

// geometry derives the group layout of a volume of totalSize bytes.
func geometry(totalSize uint64) (globalStart addr.Address, sizes []uint64, err error) {
	if totalSize%common.BlockSize != 0 {
		return 0, nil, fserr.Wrapf(fserr.ErrInvalidPath,
			"volume size %d is not a multiple of the block size", totalSize)
	}
	totalBlocks := totalSize / common.BlockSize
	if totalBlocks <= common.ReservedBlocks+1 {
		return 0, nil, fserr.Wrapf(fserr.ErrInvalidPath,
			"volume of %d blocks is too small", totalBlocks)
	}
	groupCount := totalBlocks / common.BlocksPerGroup
	if totalBlocks%common.BlocksPerGroup > common.ReservedBlocks {
		groupCount++
	}
	masterBytes := common.MasterHeaderBytes + groupCount*common.GroupDescriptorSize
	masterBlocks := util.RoundUp(masterBytes, common.BlockSize)
	globalStart = addr.MkAddress(masterBlocks * common.BlockSize)

	avail := totalBlocks - masterBlocks
	for g := uint64(0); g < groupCount; g++ {
		sz := util.Min(common.BlocksPerGroup, avail-g*common.BlocksPerGroup)
		if sz <= common.ReservedBlocks {
			break
		}
		sizes = append(sizes, sz)
	}
	if len(sizes) == 0 {
		return 0, nil, fserr.Wrapf(fserr.ErrInvalidPath,
			"volume of %d blocks leaves no data blocks", totalBlocks)
	}
	return globalStart, sizes, nil
}

// CreateNewVolume formats the backing store: groups, bitmaps, and the
// root directory, then saves the master record. Nodes cached later are
// written back by Dispose.
func CreateNewVolume(d *diskio.DiskAccess, totalSize uint64) (*MasterRecord, error) {
	globalStart, sizes, err := geometry(totalSize)
	if err != nil {
		return nil, err
	}
	m := &MasterRecord{
		d:           d,
		mu:          new(sync.Mutex),
		volumeSize:  totalSize,
		globalStart: globalStart,
		cache:       mkNodeCache(),
	}
	for g, sz := range sizes {
		start := globalStart.AddBlocks(uint64(g) * common.BlocksPerGroup)
		grp := group.MkBlockGroup(uint64(g), start, sz)
		m.groups = append(m.groups, grp)
		m.freeSpaceBlocks += grp.FreeBlockCount()
	}
	util.DPrintf(1, "CreateNewVolume: %d bytes, %d groups, %d free blocks\n",
		totalSize, len(m.groups), m.freeSpaceBlocks)

	root, err := m.CreateDirectoryNode(nil, "")
	if err != nil {
		return nil, err
	}
	m.rootNodeAddr = root.HeaderAddress()
	if err := m.Save(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load mounts an existing volume: header, descriptors, and every
// group's bitmaps.
func Load(d *diskio.DiskAccess) (*MasterRecord, error) {
	at := addr.MkAddress(0)
	volumeSize, err := d.ReadUint64(&at)
	if err != nil {
		return nil, err
	}
	freeSpace, err := d.ReadUint64(&at)
	if err != nil {
		return nil, err
	}
	rootAddr, err := d.ReadUint64(&at)
	if err != nil {
		return nil, err
	}
	groupCount, err := d.ReadUint64(&at)
	if err != nil {
		return nil, err
	}
	globalStart, sizes, err := geometry(volumeSize)
	if err != nil {
		return nil, err
	}
	if groupCount != uint64(len(sizes)) {
		return nil, fserr.Wrapf(fserr.ErrCorruption,
			"header says %d groups, geometry says %d", groupCount, len(sizes))
	}
	m := &MasterRecord{
		d:               d,
		mu:              new(sync.Mutex),
		volumeSize:      volumeSize,
		freeSpaceBlocks: freeSpace,
		rootNodeAddr:    addr.MkAddress(rootAddr),
		globalStart:     globalStart,
		cache:           mkNodeCache(),
	}
	for g, sz := range sizes {
		bitmapsAddr, err := d.ReadUint64(&at)
		if err != nil {
			return nil, err
		}
		if _, err := d.ReadUint32(&at); err != nil { // free blocks, advisory
			return nil, err
		}
		if _, err := d.ReadUint32(&at); err != nil { // free nodes, advisory
			return nil, err
		}
		want := globalStart.AddBlocks(uint64(g) * common.BlocksPerGroup)
		if addr.MkAddress(bitmapsAddr) != want {
			return nil, fserr.Wrapf(fserr.ErrCorruption,
				"group %d bitmaps at %v, expected %v", g, bitmapsAddr, want)
		}
		grp, err := group.LoadBlockGroup(d, uint64(g), want, sz)
		if err != nil {
			return nil, err
		}
		m.groups = append(m.groups, grp)
	}
	if _, err := m.GetRootDirectory(); err != nil {
		return nil, err
	}
	util.DPrintf(1, "Load: %d bytes, %d groups, %d free blocks\n",
		volumeSize, len(m.groups), m.freeSpaceBlocks)
	return m, nil
}

// Save writes the header, the descriptor table, and every group's
// bitmaps.
func (m *MasterRecord) Save() error {
	at := addr.MkAddress(0)
	m.mu.Lock()
	freeSpace := m.freeSpaceBlocks
	m.mu.Unlock()
	if err := m.d.WriteUint64(&at, m.volumeSize); err != nil {
		return err
	}
	if err := m.d.WriteUint64(&at, freeSpace); err != nil {
		return err
	}
	if err := m.d.WriteUint64(&at, uint64(m.rootNodeAddr)); err != nil {
		return err
	}
	if err := m.d.WriteUint64(&at, uint64(len(m.groups))); err != nil {
		return err
	}
	for _, grp := range m.groups {
		desc := grp.GetDescriptor()
		if err := m.d.WriteUint64(&at, uint64(desc.BitmapsAddress)); err != nil {
			return err
		}
		if err := m.d.WriteUint32(&at, desc.FreeBlocksInGroup); err != nil {
			return err
		}
		if err := m.d.WriteUint32(&at, desc.FreeNodesInGroup); err != nil {
			return err
		}
	}
	for _, grp := range m.groups {
		if err := grp.SaveBitmaps(m.d); err != nil {
			return err
		}
	}
	return nil
}

func (m *MasterRecord) VolumeSize() uint64 {
	return m.volumeSize
}

func (m *MasterRecord) FreeSpaceBlocks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freeSpaceBlocks
}

func (m *MasterRecord) GroupCount() uint64 {
	return uint64(len(m.groups))
}

func (m *MasterRecord) RootAddress() addr.Address {
	return m.rootNodeAddr
}

func (m *MasterRecord) GlobalBlocksStart() addr.Address {
	return m.globalStart
}

// AllocateBlocks reserves n blocks from the global free count and
// collects them group by group. On a shortfall the collected blocks go
// back to their groups and the count is restored.
func (m *MasterRecord) AllocateBlocks(n uint64) ([]addr.Address, error) {
	if n == 0 {
		return nil, nil
	}
	m.mu.Lock()
	if n > m.freeSpaceBlocks {
		m.mu.Unlock()
		return nil, fserr.Wrapf(fserr.ErrDiskFull, "%d blocks wanted, %d free",
			n, m.freeSpaceBlocks)
	}
	m.freeSpaceBlocks -= n
	m.mu.Unlock()

	addrs := make([]addr.Address, 0, n)
	for _, grp := range m.groups {
		for uint64(len(addrs)) < n {
			a, ok := grp.AllocateNewBlock()
			if !ok {
				break
			}
			addrs = append(addrs, a)
		}
		if uint64(len(addrs)) == n {
			return addrs, nil
		}
	}
	// groups could not satisfy the reservation; undo
	for _, a := range addrs {
		grp := m.groupForAddress(a)
		if grp != nil {
			grp.FreeBlock(a)
		}
	}
	m.mu.Lock()
	m.freeSpaceBlocks += n
	m.mu.Unlock()
	return nil, fserr.Wrapf(fserr.ErrDiskFull, "groups could not satisfy %d blocks", n)
}

func (m *MasterRecord) groupForAddress(a addr.Address) *group.BlockGroup {
	if a < m.globalStart {
		return nil
	}
	idx := uint64(a-m.globalStart) / common.GroupSizeBytes
	if idx >= uint64(len(m.groups)) {
		return nil
	}
	return m.groups[idx]
}

// FreeBlocks routes each address back to its group.
func (m *MasterRecord) FreeBlocks(addrs []addr.Address) error {
	freed := uint64(0)
	var firstErr error
	for _, a := range addrs {
		grp := m.groupForAddress(a)
		if grp == nil {
			if firstErr == nil {
				firstErr = fserr.Wrapf(fserr.ErrCorruption, "free of %v outside any group", a)
			}
			continue
		}
		if err := grp.FreeBlock(a); err != nil {
			if firstErr == nil {
				firstErr = fserr.Wrap(fserr.ErrCorruption, err)
			}
			continue
		}
		freed++
	}
	m.mu.Lock()
	m.freeSpaceBlocks += freed
	m.mu.Unlock()
	return firstErr
}

func (m *MasterRecord) allocateNodeSlot() (addr.Address, *group.BlockGroup, error) {
	for _, grp := range m.groups {
		if a, ok := grp.AllocateNewNode(); ok {
			return a, grp, nil
		}
	}
	return addr.NULLADDR, nil, fserr.Wrapf(fserr.ErrDiskFull, "no free node slots")
}

// CreateDirectoryNode allocates a node slot, initialises a directory
// there, and links it under parent (nil for the root).
func (m *MasterRecord) CreateDirectoryNode(parent *node.DirectoryNode, name string) (*node.DirectoryNode, error) {
	slot, grp, err := m.allocateNodeSlot()
	if err != nil {
		return nil, err
	}
	dir := node.MkDirectoryNode(m.d, m, slot, m.globalStart)
	parentAddr := addr.NULLADDR
	if parent != nil {
		parentAddr = parent.HeaderAddress()
	}
	if err := dir.Create(parentAddr); err != nil {
		m.undoNodeCreate(dir.Storage(), grp, slot)
		return nil, err
	}
	if parent != nil {
		if err := parent.AddChildEntry(name, true, slot); err != nil {
			m.undoNodeCreate(dir.Storage(), grp, slot)
			return nil, err
		}
	}
	m.cache.insert(slot, dir)
	return dir, nil
}

// CreateFileNode allocates a node slot, initialises an empty file there,
// and links it under parent.
func (m *MasterRecord) CreateFileNode(parent *node.DirectoryNode, name string) (*node.FileNode, error) {
	slot, grp, err := m.allocateNodeSlot()
	if err != nil {
		return nil, err
	}
	f := node.MkFileNode(m.d, m, slot, m.globalStart)
	if err := f.Create(); err != nil {
		m.undoNodeCreate(f.Storage(), grp, slot)
		return nil, err
	}
	if err := parent.AddChildEntry(name, false, slot); err != nil {
		m.undoNodeCreate(f.Storage(), grp, slot)
		return nil, err
	}
	m.cache.insert(slot, f)
	return f, nil
}

func (m *MasterRecord) undoNodeCreate(st *blkaddr.BlockAddressStorage,
	grp *group.BlockGroup, slot addr.Address) {
	if n := st.NumBlocksAllocated(); n > 0 {
		st.FreeLastBlocks(n)
	}
	grp.FreeNode(slot)
}

// LiveNode is the view of a node the master needs for deletion.
type LiveNode interface {
	HeaderAddress() addr.Address
	Storage() *blkaddr.BlockAddressStorage
}

// FreeNodeAndAllAllocatedBlocks releases a node's data blocks, its node
// slot, and its cache entry.
func (m *MasterRecord) FreeNodeAndAllAllocatedBlocks(n LiveNode) error {
	st := n.Storage()
	if cnt := st.NumBlocksAllocated(); cnt > 0 {
		if err := st.FreeLastBlocks(cnt); err != nil {
			return err
		}
	}
	a := n.HeaderAddress()
	grp := m.groupForAddress(a)
	if grp == nil {
		return fserr.Wrapf(fserr.ErrCorruption, "node %v outside any group", a)
	}
	if err := grp.FreeNode(a); err != nil {
		return fserr.Wrap(fserr.ErrCorruption, err)
	}
	m.cache.remove(a)
	return nil
}

// GetDirectoryNode returns the live instance at a, loading it on first
// use. The caller knows the kind from the referencing directory entry;
// the header's kind bit is asserted on load.
func (m *MasterRecord) GetDirectoryNode(a addr.Address) (*node.DirectoryNode, error) {
	v, err := m.cache.getOrLoad(a, func() (interface{}, error) {
		return node.LoadDirectoryNode(m.d, m, a, m.globalStart)
	})
	if err != nil {
		return nil, err
	}
	dir, ok := v.(*node.DirectoryNode)
	if !ok {
		return nil, fserr.Wrapf(fserr.ErrWrongKind, "node %v is not a directory", a)
	}
	return dir, nil
}

// GetFileNode is the file counterpart of GetDirectoryNode.
func (m *MasterRecord) GetFileNode(a addr.Address) (*node.FileNode, error) {
	v, err := m.cache.getOrLoad(a, func() (interface{}, error) {
		return node.LoadFileNode(m.d, m, a, m.globalStart)
	})
	if err != nil {
		return nil, err
	}
	f, ok := v.(*node.FileNode)
	if !ok {
		return nil, fserr.Wrapf(fserr.ErrWrongKind, "node %v is not a file", a)
	}
	return f, nil
}

func (m *MasterRecord) GetRootDirectory() (*node.DirectoryNode, error) {
	return m.GetDirectoryNode(m.rootNodeAddr)
}

// Dispose saves every cached node under its write lock, then the master
// record. A node whose write lock cannot be taken within the timeout is
// saved without it. Idempotent.
func (m *MasterRecord) Dispose() error {
	m.dispMu.Lock()
	defer m.dispMu.Unlock()
	if m.disposed {
		return nil
	}
	m.disposed = true

	var firstErr error
	for _, v := range m.cache.snapshot() {
		var err error
		switch n := v.(type) {
		case *node.DirectoryNode:
			if lerr := n.Lock.LockWrite(); lerr == nil {
				err = n.Save()
				n.Lock.UnlockWrite()
			} else {
				err = n.Save()
			}
		case *node.FileNode:
			if lerr := n.Lock.LockWrite(); lerr == nil {
				err = n.SaveHeader()
				n.Lock.UnlockWrite()
			} else {
				err = n.SaveHeader()
			}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.Save(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
