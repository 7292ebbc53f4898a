// Package node implements the on-disk nodes of a volume: the 128-byte
// header shared by files and directories, the file payload, and the
// directory entry list.
package node

import (
	"time"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/blkaddr"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/fserr"
	"github.com/vfslab/volfs/nlock"
)

// Timestamps are 100ns ticks since 0001-01-01 UTC.
const ticksAtUnixEpoch int64 = 621355968000000000

func timeToTicks(t time.Time) int64 {
	return t.Unix()*1e7 + int64(t.Nanosecond())/100 + ticksAtUnixEpoch
}

func ticksToTime(ticks int64) time.Time {
	u := ticks - ticksAtUnixEpoch
	return time.Unix(u/1e7, (u%1e7)*100).UTC()
}

// Node is the common header of files and directories. The size field
// counts bytes for a file and chained entries for a directory.
type Node struct {
	d          *diskio.DiskAccess
	headerAddr addr.Address

	Lock *nlock.RWLock

	isDir    bool
	size     uint64
	created  time.Time
	modified time.Time

	storage *blkaddr.BlockAddressStorage
}

func mkBaseNode(d *diskio.DiskAccess, alloc blkaddr.Allocator,
	headerAddr addr.Address, globalStart addr.Address, isDir bool) Node {
	now := time.Now().UTC()
	return Node{
		d:          d,
		headerAddr: headerAddr,
		Lock:       nlock.MkRWLock(),
		isDir:      isDir,
		created:    now,
		modified:   now,
		storage:    blkaddr.MkBlockAddressStorage(d, alloc, headerAddr, globalStart),
	}
}

func loadBaseNode(d *diskio.DiskAccess, alloc blkaddr.Allocator,
	headerAddr addr.Address, globalStart addr.Address, wantDir bool) (Node, error) {
	at := headerAddr
	kind, err := d.ReadByte(&at)
	if err != nil {
		return Node{}, err
	}
	if (kind != 0) != wantDir {
		return Node{}, fserr.Wrapf(fserr.ErrCorruption,
			"node %v: kind flag %d does not match the referencing entry",
			headerAddr, kind)
	}
	size, err := d.ReadUint64(&at)
	if err != nil {
		return Node{}, err
	}
	created, err := d.ReadUint64(&at)
	if err != nil {
		return Node{}, err
	}
	modified, err := d.ReadUint64(&at)
	if err != nil {
		return Node{}, err
	}
	storage, err := blkaddr.LoadBlockAddressStorage(d, alloc, headerAddr, globalStart)
	if err != nil {
		return Node{}, err
	}
	return Node{
		d:          d,
		headerAddr: headerAddr,
		Lock:       nlock.MkRWLock(),
		isDir:      kind != 0,
		size:       size,
		created:    ticksToTime(int64(created)),
		modified:   ticksToTime(int64(modified)),
		storage:    storage,
	}, nil
}

func (n *Node) HeaderAddress() addr.Address {
	return n.headerAddr
}

// NodeLock exposes the reader/writer lock through any embedding type.
func (n *Node) NodeLock() *nlock.RWLock {
	return n.Lock
}

func (n *Node) IsDirectory() bool {
	return n.isDir
}

func (n *Node) Size() uint64 {
	return n.size
}

func (n *Node) Created() time.Time {
	return n.created
}

func (n *Node) Modified() time.Time {
	return n.modified
}

func (n *Node) Storage() *blkaddr.BlockAddressStorage {
	return n.storage
}

func (n *Node) touch() {
	n.modified = time.Now().UTC()
}

// SaveHeader writes the kind, size and timestamp fields. The block
// pointer record persists itself on every mutation.
func (n *Node) SaveHeader() error {
	at := n.headerAddr
	var kind byte
	if n.isDir {
		kind = 1
	}
	if err := n.d.WriteByte(&at, kind); err != nil {
		return err
	}
	if err := n.d.WriteUint64(&at, n.size); err != nil {
		return err
	}
	if err := n.d.WriteUint64(&at, uint64(timeToTicks(n.created))); err != nil {
		return err
	}
	return n.d.WriteUint64(&at, uint64(timeToTicks(n.modified)))
}

// initOnDisk writes a complete fresh header including the zeroed block
// pointer record.
func (n *Node) initOnDisk() error {
	if err := n.SaveHeader(); err != nil {
		return err
	}
	return n.storage.SaveAll()
}
