// Package common holds the fixed parameters of the volume format.
// Changing any of these is a format break.
package common

const (
	// BlockSize is the allocation unit of a volume, in bytes.
	BlockSize uint64 = 4096

	// NodeSize is the on-disk size of a node header.
	NodeSize uint64 = 128

	// NodeRatio is bytes-of-volume per node slot.
	NodeRatio uint64 = 8192

	BlocksPerGroup uint64 = 8 * BlockSize // 32768
	NodesPerGroup  uint64 = 2048
	NodesPerBlock  uint64 = BlockSize / NodeSize // 32

	BlocksForNodeTable   uint64 = NodesPerGroup / NodesPerBlock // 64
	NodeBitmapBytes      uint64 = NodesPerGroup / 8             // 256
	NodeBitmapSizeBlocks uint64 = 1
	BlockBitmapBlocks    uint64 = 1

	// ReservedBlocks is the metadata prefix of every group: the block
	// bitmap, the node bitmap, and the node table.
	ReservedBlocks uint64 = BlockBitmapBlocks + NodeBitmapSizeBlocks + BlocksForNodeTable

	GroupSizeBytes uint64 = BlocksPerGroup * BlockSize

	// Data block addressing tiers of a node.
	DirectBlocks     uint64 = 12
	PointersPerPage  uint64 = BlockSize / 4 // 1024
	MaxBlocksPerNode uint64 = DirectBlocks + PointersPerPage + PointersPerPage*PointersPerPage

	// CopyBufSize is the streaming buffer of bulk copy operations.
	CopyBufSize uint64 = 40960

	// NodeLockTimeoutMs bounds every node lock acquisition.
	NodeLockTimeoutMs uint64 = 1000
)

// Bnum is a zero-based data block index, global across groups. Index 0 is
// group 0's block bitmap and therefore never a data block, so 0 doubles
// as the null block.
type Bnum = uint32

const NULLBNUM Bnum = 0

// Offsets within the 128-byte node header.
const (
	NodeOffKind      uint64 = 0
	NodeOffSize      uint64 = 1
	NodeOffCreated   uint64 = 9
	NodeOffModified  uint64 = 17
	NodeOffNumBlocks uint64 = 25
	NodeOffDirect    uint64 = 29
	NodeOffIndirect  uint64 = NodeOffDirect + 4*DirectBlocks // 77
	NodeOffDouble    uint64 = NodeOffIndirect + 4            // 81
)

// Master record layout: a 32-byte header (volume_size, free_space_blocks,
// root_node_address, group_count) followed by 16-byte group descriptors.
const (
	MasterHeaderBytes   uint64 = 32
	GroupDescriptorSize uint64 = 16
)
