// Package vfs is the public face of a mounted volume: path resolution
// with hand-over-hand read locks, the file-system operations, file
// handles, lazy find, bulk copy/move, and mounting (a host file or a
// file inside another volume).
package vfs

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/fserr"
	"github.com/vfslab/volfs/master"
	"github.com/vfslab/volfs/nlock"
	"github.com/vfslab/volfs/node"
	"github.com/vfslab/volfs/pathname"
	"github.com/vfslab/volfs/pattern"
	"github.com/vfslab/volfs/util"
)

// FileSystem is one mounted volume.
type FileSystem struct {
	d *diskio.DiskAccess
	m *master.MasterRecord

	closeMu sync.Mutex
	closed  bool
}

// anyNode is what resolution yields: a *node.DirectoryNode or a
// *node.FileNode, both of which promote these from the embedded base.
type anyNode interface {
	NodeLock() *nlock.RWLock
	IsDirectory() bool
}

// findNode walks the path from the root with hand-over-hand read locks.
// Ancestors are read-locked while walking and released before return;
// the target stays locked (read, or upgraded to write when
// lockTargetForWriting is set) and is handed back with its guard. A
// write-lock holder on any intermediate node aborts the walk.
func (v *FileSystem) findNode(vfn *pathname.VirtualFileName, excludeLast bool,
	lockTargetForWriting bool) (anyNode, *nlock.Guard, error) {
	root, err := v.m.GetRootDirectory()
	if err != nil {
		return nil, nil, err
	}
	if err := root.Lock.LockRead(); err != nil {
		return nil, nil, err
	}

	segs := vfn.Segments()
	if excludeLast {
		segs = vfn.SegmentsExceptLast()
	}

	var stack []*nlock.Guard
	stack = append(stack, nlock.MkGuard(root.Lock, false))
	releaseStack := func() {
		for i := len(stack) - 1; i >= 0; i-- {
			stack[i].Release()
		}
	}

	var cur anyNode = root
	for _, seg := range segs {
		dir, ok := cur.(*node.DirectoryNode)
		if !ok {
			releaseStack()
			return nil, nil, fserr.Wrapf(fserr.ErrWrongKind,
				"%q is not a directory", seg)
		}
		entry, ok := dir.FindChildEntry(seg)
		if !ok {
			releaseStack()
			return nil, nil, fserr.Wrapf(fserr.ErrNotFound, "%q", seg)
		}
		var child anyNode
		if entry.IsDir() {
			child, err = v.m.GetDirectoryNode(entry.TargetAddr)
		} else {
			child, err = v.m.GetFileNode(entry.TargetAddr)
		}
		if err != nil {
			releaseStack()
			return nil, nil, err
		}
		if !child.NodeLock().TryLockRead() {
			releaseStack()
			return nil, nil, fserr.Wrapf(fserr.ErrLockTimeout,
				"%q is write-locked", seg)
		}
		stack = append(stack, nlock.MkGuard(child.NodeLock(), false))
		cur = child
	}

	// the target's guard leaves the unlock stack
	target := cur
	targetGuard := stack[len(stack)-1]
	stack = stack[:len(stack)-1]

	if lockTargetForWriting {
		targetGuard.Release()
		if err := target.NodeLock().LockWrite(); err != nil {
			releaseStack()
			return nil, nil, err
		}
		targetGuard = nlock.MkGuard(target.NodeLock(), true)
	}
	releaseStack()
	return target, targetGuard, nil
}

// resolveParent resolves the parent directory of vfn with the
// requested lock.
func (v *FileSystem) resolveParent(vfn *pathname.VirtualFileName,
	write bool) (*node.DirectoryNode, *nlock.Guard, error) {
	n, guard, err := v.findNode(vfn, true, write)
	if err != nil {
		return nil, nil, err
	}
	dir, ok := n.(*node.DirectoryNode)
	if !ok {
		guard.Release()
		return nil, nil, fserr.Wrapf(fserr.ErrWrongKind,
			"%q is not a directory", vfn.Path())
	}
	return dir, guard, nil
}

// CreateDirectory creates the directory named by path under its parent.
func (v *FileSystem) CreateDirectory(path string) error {
	vfn, err := pathname.Parse(path)
	if err != nil {
		return err
	}
	if vfn.IsRoot() {
		return fserr.Wrapf(fserr.ErrExists, "root")
	}
	parent, guard, err := v.resolveParent(vfn, true)
	if err != nil {
		return err
	}
	defer guard.Release()
	_, err = v.m.CreateDirectoryNode(parent, vfn.Name())
	return err
}

// CreateFile creates an empty file and returns its handle, already
// write-locked. Ownership transfers to the caller, which must Close it.
func (v *FileSystem) CreateFile(path string) (*File, error) {
	vfn, err := pathname.Parse(path)
	if err != nil {
		return nil, err
	}
	if vfn.IsRoot() {
		return nil, fserr.Wrapf(fserr.ErrExists, "root")
	}
	parent, guard, err := v.resolveParent(vfn, true)
	if err != nil {
		return nil, err
	}
	defer guard.Release()
	f, err := v.m.CreateFileNode(parent, vfn.Name())
	if err != nil {
		return nil, err
	}
	if err := f.Lock.LockWrite(); err != nil {
		return nil, err
	}
	return mkFile(f, nlock.MkGuard(f.Lock, true), true), nil
}

// OpenFile opens an existing file for reading, or for writing when
// canWrite is set. The node lock is held until Close.
func (v *FileSystem) OpenFile(path string, canWrite bool) (*File, error) {
	vfn, err := pathname.Parse(path)
	if err != nil {
		return nil, err
	}
	n, guard, err := v.findNode(vfn, false, canWrite)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*node.FileNode)
	if !ok {
		guard.Release()
		return nil, fserr.Wrapf(fserr.ErrWrongKind, "%q is a directory", path)
	}
	return mkFile(f, guard, canWrite), nil
}

// DeleteFile removes the file's entry and frees its node and blocks.
func (v *FileSystem) DeleteFile(path string) error {
	vfn, err := pathname.Parse(path)
	if err != nil {
		return err
	}
	parent, guard, err := v.resolveParent(vfn, true)
	if err != nil {
		return err
	}
	defer guard.Release()

	entry, ok := parent.FindChildEntry(vfn.Name())
	if !ok {
		return fserr.Wrapf(fserr.ErrNotFound, "%q", path)
	}
	if entry.IsDir() {
		return fserr.Wrapf(fserr.ErrWrongKind, "%q is a directory", path)
	}
	f, err := v.m.GetFileNode(entry.TargetAddr)
	if err != nil {
		return err
	}
	if err := f.Lock.LockWrite(); err != nil {
		return err
	}
	defer f.Lock.UnlockWrite()
	if _, err := parent.FindAndRemoveChildEntry(vfn.Name(), false); err != nil {
		return err
	}
	return v.m.FreeNodeAndAllAllocatedBlocks(f)
}

// DeleteDirectory removes a directory. A non-empty directory is only
// removed when recursive is set; descendants go post-order, each under
// its write lock.
func (v *FileSystem) DeleteDirectory(path string, recursive bool) error {
	vfn, err := pathname.Parse(path)
	if err != nil {
		return err
	}
	if vfn.IsRoot() {
		return fserr.Wrapf(fserr.ErrInvalidPath, "cannot delete the root")
	}
	parent, guard, err := v.resolveParent(vfn, true)
	if err != nil {
		return err
	}
	defer guard.Release()

	entry, ok := parent.FindChildEntry(vfn.Name())
	if !ok {
		return fserr.Wrapf(fserr.ErrNotFound, "%q", path)
	}
	if !entry.IsDir() {
		return fserr.Wrapf(fserr.ErrWrongKind, "%q is a file", path)
	}
	dir, err := v.m.GetDirectoryNode(entry.TargetAddr)
	if err != nil {
		return err
	}
	if err := dir.Lock.LockWrite(); err != nil {
		return err
	}
	defer dir.Lock.UnlockWrite()
	if !recursive && dir.HasChildren() {
		return fserr.Wrapf(fserr.ErrNotEmpty, "%q", path)
	}
	if _, err := parent.FindAndRemoveChildEntry(vfn.Name(), true); err != nil {
		return err
	}
	return v.deleteTree(dir)
}

// deleteTree frees a write-locked directory and everything below it,
// children first.
func (v *FileSystem) deleteTree(dir *node.DirectoryNode) error {
	for _, e := range dir.AllChildEntries() {
		if e.IsDir() {
			child, err := v.m.GetDirectoryNode(e.TargetAddr)
			if err != nil {
				return err
			}
			if err := child.Lock.LockWrite(); err != nil {
				return err
			}
			err = v.deleteTree(child)
			child.Lock.UnlockWrite()
			if err != nil {
				return err
			}
		} else {
			f, err := v.m.GetFileNode(e.TargetAddr)
			if err != nil {
				return err
			}
			if err := f.Lock.LockWrite(); err != nil {
				return err
			}
			err = v.m.FreeNodeAndAllAllocatedBlocks(f)
			f.Lock.UnlockWrite()
			if err != nil {
				return err
			}
		}
	}
	return v.m.FreeNodeAndAllAllocatedBlocks(dir)
}

// MoveFile re-points a file entry from src to dst within the volume.
// Parent directories lock deepest-path-first, which fixes the lock
// order across concurrent movers.
func (v *FileSystem) MoveFile(src string, dst string) error {
	svfn, err := pathname.Parse(src)
	if err != nil {
		return err
	}
	dvfn, err := pathname.Parse(dst)
	if err != nil {
		return err
	}
	if strings.EqualFold(svfn.FullPath(), dvfn.FullPath()) {
		return nil
	}
	if svfn.IsRoot() || dvfn.IsRoot() {
		return fserr.Wrapf(fserr.ErrInvalidPath, "root cannot be moved")
	}

	sameParent := strings.EqualFold(svfn.Path(), dvfn.Path())
	var srcParent, dstParent *node.DirectoryNode
	var guards []*nlock.Guard
	release := func() {
		for i := len(guards) - 1; i >= 0; i-- {
			guards[i].Release()
		}
	}

	if sameParent {
		p, g, err := v.resolveParent(svfn, true)
		if err != nil {
			return err
		}
		srcParent, dstParent = p, p
		guards = append(guards, g)
	} else {
		order := []*pathname.VirtualFileName{svfn, dvfn}
		sort.SliceStable(order, func(i, j int) bool {
			di, dj := len(order[i].Segments()), len(order[j].Segments())
			if di != dj {
				return di > dj
			}
			return order[i].FullPath() < order[j].FullPath()
		})
		parents := map[*pathname.VirtualFileName]*node.DirectoryNode{}
		for _, vfn := range order {
			p, g, err := v.resolveParent(vfn, true)
			if err != nil {
				release()
				return err
			}
			parents[vfn] = p
			guards = append(guards, g)
		}
		srcParent, dstParent = parents[svfn], parents[dvfn]
	}
	defer release()

	entry, ok := srcParent.FindChildEntry(svfn.Name())
	if !ok {
		return fserr.Wrapf(fserr.ErrNotFound, "%q", src)
	}
	if entry.IsDir() {
		return fserr.Wrapf(fserr.ErrWrongKind, "%q is a directory", src)
	}
	if _, exists := dstParent.FindChildEntry(dvfn.Name()); exists {
		return fserr.Wrapf(fserr.ErrExists, "%q", dst)
	}
	f, err := v.m.GetFileNode(entry.TargetAddr)
	if err != nil {
		return err
	}
	if err := f.Lock.LockWrite(); err != nil {
		return err
	}
	defer f.Lock.UnlockWrite()
	target, err := srcParent.FindAndRemoveChildEntry(svfn.Name(), false)
	if err != nil {
		return err
	}
	return dstParent.AddChildEntry(dvfn.Name(), false, target)
}

// FileInfo is the metadata snapshot of GetFileInfo.
type FileInfo struct {
	Exists      bool
	IsDirectory bool
	FileSize    uint64
	Created     time.Time
	Modified    time.Time
}

// GetFileInfo resolves path for reading. A missing target is not an
// error; it reports Exists=false.
func (v *FileSystem) GetFileInfo(path string) (FileInfo, error) {
	vfn, err := pathname.Parse(path)
	if err != nil {
		return FileInfo{}, err
	}
	n, guard, err := v.findNode(vfn, false, false)
	if err != nil {
		if errors.Is(err, fserr.ErrNotFound) {
			return FileInfo{}, nil
		}
		return FileInfo{}, err
	}
	defer guard.Release()
	info := FileInfo{Exists: true, IsDirectory: n.IsDirectory()}
	switch t := n.(type) {
	case *node.DirectoryNode:
		info.Created = t.Created()
		info.Modified = t.Modified()
	case *node.FileNode:
		info.FileSize = t.Size()
		info.Created = t.Created()
		info.Modified = t.Modified()
	}
	return info, nil
}

// GetDrives lists the volume roots; a volume has exactly one.
func (v *FileSystem) GetDrives() []string {
	return []string{pathname.Separator}
}

// Stats reports the volume header counters.
type Stats struct {
	VolumeSize      uint64
	FreeSpaceBlocks uint64
	GroupCount      uint64
}

func (v *FileSystem) StatFS() Stats {
	return Stats{
		VolumeSize:      v.m.VolumeSize(),
		FreeSpaceBlocks: v.m.FreeSpaceBlocks(),
		GroupCount:      v.m.GroupCount(),
	}
}

// Fsck runs the read-only invariant check.
func (v *FileSystem) Fsck() ([]string, error) {
	return v.m.Check()
}

// Close saves every cached node and the master record, syncs and closes
// the backing surface. Idempotent.
func (v *FileSystem) Close() error {
	v.closeMu.Lock()
	defer v.closeMu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	util.DPrintf(1, "Close: volume of %d bytes\n", v.m.VolumeSize())
	err := v.m.Dispose()
	if serr := v.d.Sync(); serr != nil && err == nil {
		err = serr
	}
	if cerr := v.d.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// findMatching lists the names in directory path matching the wildcard,
// without recursion. Used by FindIter.
func (v *FileSystem) findMatching(path string, p *pattern.SearchPattern) ([]string, []string, error) {
	vfn, err := pathname.Parse(path)
	if err != nil {
		return nil, nil, err
	}
	n, guard, err := v.findNode(vfn, false, false)
	if err != nil {
		return nil, nil, err
	}
	defer guard.Release()
	dir, ok := n.(*node.DirectoryNode)
	if !ok {
		return nil, nil, fserr.Wrapf(fserr.ErrWrongKind, "%q is not a directory", path)
	}
	return dir.FindMatchingEntries(p), dir.GetAllChildDirectories(), nil
}
