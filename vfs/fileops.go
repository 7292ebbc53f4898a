package vfs

import (
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/pathname"
	"github.com/vfslab/volfs/util"
)

// FileOps implements the bulk copy and move operations, within one
// volume or across two. They stream through a fixed-size buffer and are
// not transactional: a mid-way failure leaves partial output at the
// destination and surfaces the error.
type FileOps struct{}

// CopyFile streams src on srcFS into a freshly created dst on dstFS.
func (FileOps) CopyFile(srcFS *FileSystem, src string, dstFS *FileSystem, dst string) error {
	in, err := srcFS.OpenFile(src, false)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := dstFS.CreateFile(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	for {
		chunk, err := in.ReadData(common.CopyBufSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		if err := out.WriteData(chunk); err != nil {
			return err
		}
	}
}

// CopyDirectory replicates the tree under src into dst, which must not
// exist yet.
func (ops FileOps) CopyDirectory(srcFS *FileSystem, src string, dstFS *FileSystem, dst string) error {
	if err := dstFS.CreateDirectory(dst); err != nil {
		return err
	}
	it, err := srcFS.FindFile(src, "*", false)
	if err != nil {
		return err
	}
	for {
		p, ok := it.Next()
		if !ok {
			return nil
		}
		info, err := srcFS.GetFileInfo(p)
		if err != nil {
			return err
		}
		vfn, err := pathname.Parse(p)
		if err != nil {
			return err
		}
		target := pathname.Combine(dst, vfn.Name())
		if info.IsDirectory {
			err = ops.CopyDirectory(srcFS, p, dstFS, target)
		} else {
			err = ops.CopyFile(srcFS, p, dstFS, target)
		}
		if err != nil {
			return err
		}
	}
}

// MoveFile across volumes is copy-then-delete; within one volume it is
// the facade's entry re-point.
func (ops FileOps) MoveFile(srcFS *FileSystem, src string, dstFS *FileSystem, dst string) error {
	if srcFS == dstFS {
		return srcFS.MoveFile(src, dst)
	}
	if err := ops.CopyFile(srcFS, src, dstFS, dst); err != nil {
		return err
	}
	return srcFS.DeleteFile(src)
}

// MoveDirectory is copy-then-recursive-delete in all cases.
func (ops FileOps) MoveDirectory(srcFS *FileSystem, src string, dstFS *FileSystem, dst string) error {
	util.DPrintf(2, "MoveDirectory: %q -> %q\n", src, dst)
	if err := ops.CopyDirectory(srcFS, src, dstFS, dst); err != nil {
		return err
	}
	return srcFS.DeleteDirectory(src, true)
}
