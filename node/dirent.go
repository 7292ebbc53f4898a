package node

import (
	"unicode/utf16"

	"github.com/tchajed/marshal"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/diskio"
	"github.com/vfslab/volfs/fserr"
)

const (
	flagDeleted byte = 1 << 0
	flagIsDir   byte = 1 << 1

	// flags + target + next + name_length
	entryHeaderBytes uint64 = 1 + 8 + 8 + 1
)

// DirectoryEntry names a child node inside a directory's data blocks.
// Resurrect keeps the in-memory slot size, so it does not shrink when the
// entry is resurrected with a shorter name. The slot size is not stored
// on disk: LoadDirectoryEntry derives it from the stored name, so after a
// reload a resurrected entry's slot covers only what its current name
// needs.
type DirectoryEntry struct {
	flags      byte
	TargetAddr addr.Address
	NextAddr   addr.Address
	Name       string

	SizeBytes uint64
	SelfAddr  addr.Address
}

func align4(n uint64) uint64 {
	return (n + 3) / 4 * 4
}

func encodeName(name string) []uint16 {
	return utf16.Encode([]rune(name))
}

// RequiredEntrySize is the 4-byte aligned slot size a name needs.
func RequiredEntrySize(name string) uint64 {
	return align4(entryHeaderBytes + 2*uint64(len(encodeName(name))))
}

func MkDirectoryEntry(name string, isDir bool, target addr.Address) *DirectoryEntry {
	var flags byte
	if isDir {
		flags = flagIsDir
	}
	return &DirectoryEntry{
		flags:      flags,
		TargetAddr: target,
		Name:       name,
		SizeBytes:  RequiredEntrySize(name),
	}
}

func (e *DirectoryEntry) Deleted() bool {
	return e.flags&flagDeleted != 0
}

func (e *DirectoryEntry) IsDir() bool {
	return e.flags&flagIsDir != 0
}

func (e *DirectoryEntry) markDeleted() {
	e.flags |= flagDeleted
}

// Resurrect reuses a deleted entry's slot for a new name. The stored
// slot must be large enough for the new name's encoded size; the slot
// size itself does not change.
func (e *DirectoryEntry) Resurrect(name string, isDir bool, target addr.Address) error {
	if !e.Deleted() {
		return fserr.Wrapf(fserr.ErrCorruption, "resurrect of live entry %q", e.Name)
	}
	if RequiredEntrySize(name) > e.SizeBytes {
		return fserr.Wrapf(fserr.ErrInvalidPath,
			"name %q does not fit the %d-byte slot", name, e.SizeBytes)
	}
	e.flags = 0
	if isDir {
		e.flags = flagIsDir
	}
	e.TargetAddr = target
	e.Name = name
	return nil
}

// Save writes the entry at its slot address.
func (e *DirectoryEntry) Save(d *diskio.DiskAccess) error {
	if e.SelfAddr == addr.NULLADDR {
		panic("DirectoryEntry.Save: no slot address")
	}
	units := encodeName(e.Name)
	if len(units) < 1 || len(units) > 255 {
		return fserr.Wrapf(fserr.ErrInvalidPath, "name length %d", len(units))
	}
	enc := marshal.NewEnc(entryHeaderBytes + 2*uint64(len(units)))
	enc.PutBytes([]byte{e.flags})
	enc.PutInt(uint64(e.TargetAddr))
	enc.PutInt(uint64(e.NextAddr))
	enc.PutBytes([]byte{byte(len(units))})
	for _, u := range units {
		enc.PutBytes([]byte{byte(u), byte(u >> 8)})
	}
	at := e.SelfAddr
	return d.WriteBytes(&at, enc.Finish())
}

// SaveFlags rewrites only the flags byte (delete-in-place).
func (e *DirectoryEntry) SaveFlags(d *diskio.DiskAccess) error {
	at := e.SelfAddr
	return d.WriteByte(&at, e.flags)
}

// SaveNext rewrites only the next-entry pointer.
func (e *DirectoryEntry) SaveNext(d *diskio.DiskAccess) error {
	at := e.SelfAddr + addr.Address(1+8)
	return d.WriteUint64(&at, uint64(e.NextAddr))
}

// LoadDirectoryEntry reads the entry at `at` and records it as the slot
// address.
func LoadDirectoryEntry(d *diskio.DiskAccess, at addr.Address) (*DirectoryEntry, error) {
	self := at
	hdr := make([]byte, entryHeaderBytes)
	n, err := d.ReadBytes(&at, hdr)
	if err != nil {
		return nil, err
	}
	if n != entryHeaderBytes {
		return nil, fserr.Wrapf(fserr.ErrCorruption, "entry header truncated at %v", self)
	}
	dec := marshal.NewDec(hdr)
	flags := dec.GetBytes(1)[0]
	target := addr.Address(dec.GetInt())
	next := addr.Address(dec.GetInt())
	nameLen := uint64(dec.GetBytes(1)[0])
	if nameLen < 1 {
		return nil, fserr.Wrapf(fserr.ErrCorruption, "entry at %v has empty name", self)
	}
	nameBytes := make([]byte, 2*nameLen)
	n, err = d.ReadBytes(&at, nameBytes)
	if err != nil {
		return nil, err
	}
	if n != 2*nameLen {
		return nil, fserr.Wrapf(fserr.ErrCorruption, "entry name truncated at %v", self)
	}
	units := make([]uint16, nameLen)
	for i := range units {
		units[i] = uint16(nameBytes[2*i]) | uint16(nameBytes[2*i+1])<<8
	}
	return &DirectoryEntry{
		flags:      flags,
		TargetAddr: target,
		NextAddr:   next,
		Name:       string(utf16.Decode(units)),
		SizeBytes:  align4(entryHeaderBytes + 2*nameLen),
		SelfAddr:   self,
	}, nil
}
