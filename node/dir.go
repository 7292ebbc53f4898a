package node

import (
	"strings"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/blkaddr"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/fserr"
	"github.com/vfslab/volfs/pathname"
	"github.com/vfslab/volfs/pattern"
	"github.com/vfslab/volfs/util"
)

const (
	SelfEntryName   = "."
	ParentEntryName = ".."

	// every compactEvery insertions the entry list is rewritten without
	// the deleted slots
	compactEvery uint64 = 100
)

// DirectoryNode holds a singly-linked list of directory entries in its
// data blocks. Deleted entries stay chained until compaction; the node's
// size field counts all chained entries.
type DirectoryNode struct {
	Node

	entries     []*DirectoryEntry // chain order, including deleted
	insertCount uint64
}

func MkDirectoryNode(d *diskio.DiskAccess, alloc blkaddr.Allocator,
	headerAddr addr.Address, globalStart addr.Address) *DirectoryNode {
	return &DirectoryNode{
		Node: mkBaseNode(d, alloc, headerAddr, globalStart, true),
	}
}

// Create initialises a fresh directory on disk: the header, the `.`
// entry, and `..` when a parent is given (the root has none).
func (dir *DirectoryNode) Create(parent addr.Address) error {
	if err := dir.initOnDisk(); err != nil {
		return err
	}
	if err := dir.appendEntry(SelfEntryName, true, dir.headerAddr); err != nil {
		return err
	}
	if parent != addr.NULLADDR {
		if err := dir.appendEntry(ParentEntryName, true, parent); err != nil {
			return err
		}
	}
	return dir.SaveHeader()
}

// LoadDirectoryNode reads a directory node and its entry chain.
func LoadDirectoryNode(d *diskio.DiskAccess, alloc blkaddr.Allocator,
	headerAddr addr.Address, globalStart addr.Address) (*DirectoryNode, error) {
	base, err := loadBaseNode(d, alloc, headerAddr, globalStart, true)
	if err != nil {
		return nil, err
	}
	dir := &DirectoryNode{Node: base}
	if dir.size == 0 {
		return dir, nil
	}
	at, err := dir.storage.GetBlockStartAddress(0)
	if err != nil {
		return nil, err
	}
	for {
		e, err := LoadDirectoryEntry(d, at)
		if err != nil {
			return nil, err
		}
		dir.entries = append(dir.entries, e)
		if uint64(len(dir.entries)) > dir.size {
			return nil, fserr.Wrapf(fserr.ErrCorruption,
				"directory %v: chain longer than size %d", headerAddr, dir.size)
		}
		if e.NextAddr == addr.NULLADDR {
			break
		}
		at = e.NextAddr
	}
	if uint64(len(dir.entries)) != dir.size {
		return nil, fserr.Wrapf(fserr.ErrCorruption,
			"directory %v: chain has %d entries, size says %d",
			headerAddr, len(dir.entries), dir.size)
	}
	return dir, nil
}

// Entries exposes the raw chain, deleted slots included.
func (dir *DirectoryNode) Entries() []*DirectoryEntry {
	return dir.entries
}

func isDotEntry(name string) bool {
	return name == SelfEntryName || name == ParentEntryName
}

func validateChildName(name string) error {
	if isDotEntry(name) {
		return fserr.Wrapf(fserr.ErrInvalidPath, "%q is reserved", name)
	}
	return pathname.ValidateSegment(name)
}

func (dir *DirectoryNode) findLive(name string) *DirectoryEntry {
	for _, e := range dir.entries {
		if !e.Deleted() && strings.EqualFold(e.Name, name) {
			return e
		}
	}
	return nil
}

// tailWritePosition computes where the next appended entry of the given
// size goes, allocating a fresh data block when the last one cannot hold
// it. Deleted entries still occupy their slots.
func (dir *DirectoryNode) tailWritePosition(size uint64) (addr.Address, error) {
	if len(dir.entries) == 0 {
		if dir.storage.NumBlocksAllocated() == 0 {
			if err := dir.storage.AddBlocks(1); err != nil {
				return addr.NULLADDR, err
			}
		}
		return dir.storage.GetBlockStartAddress(0)
	}
	tail := dir.entries[len(dir.entries)-1]
	end := tail.SelfAddr + addr.Address(tail.SizeBytes)
	blockStart := addr.Address(uint64(tail.SelfAddr) / common.BlockSize * common.BlockSize)
	used := uint64(end - blockStart)
	if common.BlockSize-used >= size {
		return end, nil
	}
	idx := dir.storage.NumBlocksAllocated()
	if err := dir.storage.AddBlocks(1); err != nil {
		return addr.NULLADDR, err
	}
	return dir.storage.GetBlockStartAddress(idx)
}

// appendEntry writes a new entry at the tail of the chain and links it.
func (dir *DirectoryNode) appendEntry(name string, isDir bool, target addr.Address) error {
	e := MkDirectoryEntry(name, isDir, target)
	pos, err := dir.tailWritePosition(e.SizeBytes)
	if err != nil {
		return err
	}
	e.SelfAddr = pos
	if err := e.Save(dir.d); err != nil {
		return err
	}
	if len(dir.entries) > 0 {
		tail := dir.entries[len(dir.entries)-1]
		tail.NextAddr = pos
		if err := tail.SaveNext(dir.d); err != nil {
			return err
		}
	}
	dir.entries = append(dir.entries, e)
	dir.size = uint64(len(dir.entries))
	dir.touch()
	return dir.SaveHeader()
}

// AddChildEntry inserts a name for target. A deleted slot large enough
// for the name is resurrected in place; otherwise the entry is appended.
func (dir *DirectoryNode) AddChildEntry(name string, isDir bool, target addr.Address) error {
	if err := validateChildName(name); err != nil {
		return err
	}
	if dir.findLive(name) != nil {
		return fserr.Wrapf(fserr.ErrExists, "%q", name)
	}
	defer func() {
		dir.insertCount++
		if dir.insertCount%compactEvery == 0 {
			dir.Save()
		}
	}()
	need := RequiredEntrySize(name)
	for _, e := range dir.entries {
		if e.Deleted() && e.SizeBytes >= need {
			util.DPrintf(5, "AddChildEntry: resurrect %q as %q\n", e.Name, name)
			if err := e.Resurrect(name, isDir, target); err != nil {
				return err
			}
			if err := e.Save(dir.d); err != nil {
				return err
			}
			dir.touch()
			return dir.SaveHeader()
		}
	}
	return dir.appendEntry(name, isDir, target)
}

// FindChildEntry returns the live entry for name, case-insensitively.
func (dir *DirectoryNode) FindChildEntry(name string) (*DirectoryEntry, bool) {
	e := dir.findLive(name)
	if e == nil {
		return nil, false
	}
	return e, true
}

// FindAndRemoveChildEntry marks the named entry deleted if its kind
// matches and returns the target node address.
func (dir *DirectoryNode) FindAndRemoveChildEntry(name string, isDir bool) (addr.Address, error) {
	e := dir.findLive(name)
	if e == nil {
		return addr.NULLADDR, fserr.Wrapf(fserr.ErrNotFound, "%q", name)
	}
	if e.IsDir() != isDir {
		return addr.NULLADDR, fserr.Wrapf(fserr.ErrWrongKind, "%q", name)
	}
	e.markDeleted()
	if err := e.SaveFlags(dir.d); err != nil {
		return addr.NULLADDR, err
	}
	dir.touch()
	if err := dir.SaveHeader(); err != nil {
		return addr.NULLADDR, err
	}
	return e.TargetAddr, nil
}

// FindMatchingEntries yields the names of live entries matching the
// wildcard, excluding `.` and `..`.
func (dir *DirectoryNode) FindMatchingEntries(p *pattern.SearchPattern) []string {
	var names []string
	for _, e := range dir.entries {
		if e.Deleted() || isDotEntry(e.Name) {
			continue
		}
		if p.Match(e.Name) {
			names = append(names, e.Name)
		}
	}
	return names
}

// AllChildEntries returns the live entries excluding `.` and `..`.
func (dir *DirectoryNode) AllChildEntries() []*DirectoryEntry {
	var out []*DirectoryEntry
	for _, e := range dir.entries {
		if e.Deleted() || isDotEntry(e.Name) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// GetAllChildDirectories returns the names of live child directories.
func (dir *DirectoryNode) GetAllChildDirectories() []string {
	var names []string
	for _, e := range dir.AllChildEntries() {
		if e.IsDir() {
			names = append(names, e.Name)
		}
	}
	return names
}

// HasChildren reports whether any live entry besides `.` and `..`
// remains.
func (dir *DirectoryNode) HasChildren() bool {
	return len(dir.AllChildEntries()) > 0
}

// Save compacts the directory: live entries are re-laid block by block
// with no gaps, each keeping its frozen slot size and never crossing a
// block boundary; trailing data blocks that fall out of use are freed.
func (dir *DirectoryNode) Save() error {
	var live []*DirectoryEntry
	for _, e := range dir.entries {
		if !e.Deleted() {
			live = append(live, e)
		}
	}
	util.DPrintf(5, "dir %v: compact %d -> %d entries\n",
		dir.headerAddr, len(dir.entries), len(live))

	blocksUsed := uint64(0)
	if len(live) > 0 {
		var blockStart addr.Address
		pos := common.BlockSize // force the first block fetch
		for _, e := range live {
			if pos+e.SizeBytes > common.BlockSize {
				a, err := dir.storage.GetBlockStartAddress(blocksUsed)
				if err != nil {
					return err
				}
				blockStart = a
				blocksUsed++
				pos = 0
			}
			e.SelfAddr = blockStart + addr.Address(pos)
			pos += e.SizeBytes
			e.NextAddr = addr.NULLADDR
		}
		for i := 0; i+1 < len(live); i++ {
			live[i].NextAddr = live[i+1].SelfAddr
		}
		for _, e := range live {
			if err := e.Save(dir.d); err != nil {
				return err
			}
		}
	}
	if extra := dir.storage.NumBlocksAllocated() - blocksUsed; extra > 0 {
		if err := dir.storage.FreeLastBlocks(extra); err != nil {
			return err
		}
	}
	dir.entries = live
	dir.size = uint64(len(live))
	return dir.SaveHeader()
}
