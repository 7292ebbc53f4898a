package vfs

import (
	"sync"
	"time"

	"github.com/vfslab/volfs/fserr"
	"github.com/vfslab/volfs/nlock"
	"github.com/vfslab/volfs/node"
)

// SeekOrigin selects the reference point of SetPosition.
type SeekOrigin int

const (
	SeekBegin SeekOrigin = iota
	SeekCurrent
	SeekEnd
)

// File is an open handle. It holds the node's reader or writer lock for
// its whole lifetime; Close releases it and is idempotent.
type File struct {
	mu     sync.Mutex
	n      *node.FileNode
	guard  *nlock.Guard
	write  bool
	pos    uint64
	closed bool
}

func mkFile(n *node.FileNode, guard *nlock.Guard, write bool) *File {
	return &File{n: n, guard: guard, write: write}
}

func (f *File) checkOpen() error {
	if f.closed {
		return fserr.ErrClosed
	}
	return nil
}

// ReadData reads up to n bytes at the current position, advancing it.
// The result is short at EOF and empty beyond it.
func (f *File) ReadData(n uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	data, err := f.n.ReadData(f.pos, n)
	if err != nil {
		return nil, err
	}
	f.pos += uint64(len(data))
	return data, nil
}

// WriteData writes buf at the current position, growing the file as
// needed, and advances the position.
func (f *File) WriteData(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	if !f.write {
		return fserr.ErrReadOnly
	}
	if err := f.n.WriteData(f.pos, buf); err != nil {
		return err
	}
	f.pos += uint64(len(buf))
	return nil
}

// SetFileSize grows or truncates the file. On truncation the position
// is clamped to the new end.
func (f *File) SetFileSize(n uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return err
	}
	if !f.write {
		return fserr.ErrReadOnly
	}
	if err := f.n.SetFileSize(n); err != nil {
		return err
	}
	if f.pos > n {
		f.pos = n
	}
	return nil
}

// SetPosition moves the handle position and returns the new value.
// With SeekEnd the position becomes size-offset clamped to [0, size].
func (f *File) SetPosition(offset int64, origin SeekOrigin) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	var p int64
	switch origin {
	case SeekBegin:
		p = offset
	case SeekCurrent:
		p = int64(f.pos) + offset
	case SeekEnd:
		p = int64(f.n.Size()) - offset
		if p > int64(f.n.Size()) {
			p = int64(f.n.Size())
		}
		if p < 0 {
			p = 0
		}
	default:
		return 0, fserr.Wrapf(fserr.ErrOutOfRange, "origin %d", origin)
	}
	if p < 0 {
		return 0, fserr.Wrapf(fserr.ErrOutOfRange, "position %d", p)
	}
	f.pos = uint64(p)
	return f.pos, nil
}

func (f *File) GetFileSize() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n.Size()
}

func (f *File) CreationTime() time.Time {
	return f.n.Created()
}

func (f *File) LastModificationTime() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n.Modified()
}

func (f *File) CanWrite() bool {
	return f.write
}

// Close releases the node lock. Safe to call more than once.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.guard.Release()
	return nil
}
