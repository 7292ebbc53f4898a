package diskio

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/util"
)

// DiskAccess serialises positional access to a Surface. All integers are
// little-endian. Every operation advances the caller-held offset by the
// exact number of bytes transferred.
type DiskAccess struct {
	mu *sync.Mutex
	s  Surface
}

func MkDiskAccess(s Surface) *DiskAccess {
	return &DiskAccess{mu: new(sync.Mutex), s: s}
}

func (d *DiskAccess) ReadByte(at *addr.Address) (byte, error) {
	var b [1]byte
	d.mu.Lock()
	n, err := d.s.ReadAt(b[:], int64(*at))
	d.mu.Unlock()
	if err != nil {
		return 0, errors.Wrap(err, "read byte")
	}
	if n != 1 {
		return 0, errors.Errorf("short read at %v", *at)
	}
	*at++
	return b[0], nil
}

func (d *DiskAccess) WriteByte(at *addr.Address, v byte) error {
	b := [1]byte{v}
	d.mu.Lock()
	_, err := d.s.WriteAt(b[:], int64(*at))
	d.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "write byte")
	}
	*at++
	return nil
}

func (d *DiskAccess) ReadUint32(at *addr.Address) (uint32, error) {
	var b [4]byte
	d.mu.Lock()
	n, err := d.s.ReadAt(b[:], int64(*at))
	d.mu.Unlock()
	if err != nil {
		return 0, errors.Wrap(err, "read u32")
	}
	if n != 4 {
		return 0, errors.Errorf("short read at %v", *at)
	}
	dec := marshal.NewDec(b[:])
	*at += 4
	return dec.GetInt32(), nil
}

func (d *DiskAccess) WriteUint32(at *addr.Address, v uint32) error {
	enc := marshal.NewEnc(4)
	enc.PutInt32(v)
	d.mu.Lock()
	_, err := d.s.WriteAt(enc.Finish(), int64(*at))
	d.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "write u32")
	}
	*at += 4
	return nil
}

func (d *DiskAccess) ReadUint64(at *addr.Address) (uint64, error) {
	var b [8]byte
	d.mu.Lock()
	n, err := d.s.ReadAt(b[:], int64(*at))
	d.mu.Unlock()
	if err != nil {
		return 0, errors.Wrap(err, "read u64")
	}
	if n != 8 {
		return 0, errors.Errorf("short read at %v", *at)
	}
	dec := marshal.NewDec(b[:])
	*at += 8
	return dec.GetInt(), nil
}

func (d *DiskAccess) WriteUint64(at *addr.Address, v uint64) error {
	enc := marshal.NewEnc(8)
	enc.PutInt(v)
	d.mu.Lock()
	_, err := d.s.WriteAt(enc.Finish(), int64(*at))
	d.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "write u64")
	}
	*at += 8
	return nil
}

// ReadBytes fills buf and returns the number of bytes actually read,
// which may be short at the end of the store.
func (d *DiskAccess) ReadBytes(at *addr.Address, buf []byte) (uint64, error) {
	d.mu.Lock()
	n, err := d.s.ReadAt(buf, int64(*at))
	d.mu.Unlock()
	if err != nil {
		return 0, errors.Wrap(err, "read bytes")
	}
	util.DPrintf(20, "ReadBytes: %v n %d\n", *at, n)
	*at += addr.Address(n)
	return uint64(n), nil
}

func (d *DiskAccess) WriteBytes(at *addr.Address, buf []byte) error {
	d.mu.Lock()
	_, err := d.s.WriteAt(buf, int64(*at))
	d.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "write bytes")
	}
	util.DPrintf(20, "WriteBytes: %v n %d\n", *at, len(buf))
	*at += addr.Address(len(buf))
	return nil
}

func (d *DiskAccess) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Sync()
}

func (d *DiskAccess) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.Close()
}
