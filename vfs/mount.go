package vfs

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/master"
	"github.com/vfslab/volfs/util"
)

func mountSurface(s diskio.Surface, format bool, size uint64) (*FileSystem, error) {
	d := diskio.MkDiskAccess(s)
	var m *master.MasterRecord
	var err error
	if format {
		m, err = master.CreateNewVolume(d, size)
	} else {
		m, err = master.Load(d)
	}
	if err != nil {
		d.Close()
		return nil, err
	}
	return &FileSystem{d: d, m: m}, nil
}

// CreateVolumeFile formats a new volume backed by a host file.
func CreateVolumeFile(path string, size uint64) (*FileSystem, error) {
	s, err := diskio.NewFileSurface(path, size)
	if err != nil {
		return nil, err
	}
	util.DPrintf(1, "CreateVolumeFile: %s, %d bytes\n", path, size)
	return mountSurface(s, true, size)
}

// MountFile mounts an existing volume file.
func MountFile(path string) (*FileSystem, error) {
	s, err := diskio.OpenFileSurface(path)
	if err != nil {
		return nil, err
	}
	util.DPrintf(1, "MountFile: %s\n", path)
	return mountSurface(s, false, 0)
}

// CreateVolumeMem formats a volume in memory; embedders and tests use
// this to run without touching the host file system.
func CreateVolumeMem(size uint64) (*FileSystem, error) {
	return mountSurface(diskio.NewMemSurface(size), true, size)
}

// CreateVolumeIn formats a new volume inside a file of another mounted
// volume. The host file node stays write-locked through the inner
// handle for the life of the mount, so inner operations serialise at
// the host boundary.
func CreateVolumeIn(host *FileSystem, path string, size uint64) (*FileSystem, error) {
	f, err := host.CreateFile(path)
	if err != nil {
		return nil, err
	}
	if err := f.SetFileSize(size); err != nil {
		f.Close()
		return nil, err
	}
	fs, err := mountSurface(mkHandleSurface(f), true, size)
	if err != nil {
		f.Close()
		return nil, err
	}
	return fs, nil
}

// MountIn mounts a volume stored in a file of another mounted volume.
func MountIn(host *FileSystem, path string) (*FileSystem, error) {
	f, err := host.OpenFile(path, true)
	if err != nil {
		return nil, err
	}
	fs, err := mountSurface(mkHandleSurface(f), false, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return fs, nil
}

var _ diskio.Surface = (*handleSurface)(nil)

// handleSurface adapts an open file handle to the byte-addressable
// Surface, turning positional access into seek+read/write under one
// mutex.
type handleSurface struct {
	mu *sync.Mutex
	f  *File
}

func mkHandleSurface(f *File) *handleSurface {
	return &handleSurface{mu: new(sync.Mutex), f: f}
}

func (s *handleSurface) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.SetPosition(off, SeekBegin); err != nil {
		return 0, err
	}
	data, err := s.f.ReadData(uint64(len(p)))
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

func (s *handleSurface) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off+int64(len(p)) > int64(s.f.GetFileSize()) {
		return 0, errors.Errorf("write past the host file at %d", off)
	}
	if _, err := s.f.SetPosition(off, SeekBegin); err != nil {
		return 0, err
	}
	if err := s.f.WriteData(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *handleSurface) Sync() error { return nil }

func (s *handleSurface) Close() error {
	return s.f.Close()
}
