package diskio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfslab/volfs/addr"
)

func TestRoundTripInts(t *testing.T) {
	assert := assert.New(t)
	d := MkDiskAccess(NewMemSurface(4096))

	at := addr.MkAddress(10)
	require.NoError(t, d.WriteByte(&at, 0xab))
	require.NoError(t, d.WriteUint32(&at, 0xdeadbeef))
	require.NoError(t, d.WriteUint64(&at, 0x1122334455667788))
	assert.Equal(addr.MkAddress(10+1+4+8), at, "offset advances by bytes written")

	at = addr.MkAddress(10)
	b, err := d.ReadByte(&at)
	require.NoError(t, err)
	assert.Equal(byte(0xab), b)
	u32, err := d.ReadUint32(&at)
	require.NoError(t, err)
	assert.Equal(uint32(0xdeadbeef), u32)
	u64, err := d.ReadUint64(&at)
	require.NoError(t, err)
	assert.Equal(uint64(0x1122334455667788), u64)
}

func TestLittleEndianOnDisk(t *testing.T) {
	s := NewMemSurface(64)
	d := MkDiskAccess(s)
	at := addr.MkAddress(0)
	require.NoError(t, d.WriteUint32(&at, 0x04030201))
	assert.Equal(t, []byte{1, 2, 3, 4}, s.data[0:4])
}

func TestShortReadAtEnd(t *testing.T) {
	d := MkDiskAccess(NewMemSurface(16))
	at := addr.MkAddress(10)
	buf := make([]byte, 10)
	n, err := d.ReadBytes(&at, buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n, "read is short at end of store")
	assert.Equal(t, addr.MkAddress(16), at)
}
