package master

import (
	"fmt"

	"github.com/vfslab/volfs/addr"
	"github.com/vfslab/volfs/common"
	"github.com/vfslab/volfs/node"
)

// Check verifies the volume invariants read-only and returns one message
// per problem found. An empty slice means the volume is consistent.
func (m *MasterRecord) Check() ([]string, error) {
	var problems []string

	var groupFree uint64
	for g, grp := range m.groups {
		groupFree += grp.FreeBlockCount()
		desc := grp.GetDescriptor()
		if uint64(desc.FreeBlocksInGroup) != grp.FreeBlockCount() {
			problems = append(problems, fmt.Sprintf(
				"group %d: descriptor free blocks %d != bitmap %d",
				g, desc.FreeBlocksInGroup, grp.FreeBlockCount()))
		}
	}
	if groupFree != m.FreeSpaceBlocks() {
		problems = append(problems, fmt.Sprintf(
			"free space accounting: groups %d != master %d",
			groupFree, m.FreeSpaceBlocks()))
	}

	blockOwners := map[addr.Address]addr.Address{}
	root, err := m.GetRootDirectory()
	if err != nil {
		return problems, err
	}
	problems = append(problems, m.checkDirectory(root, true, blockOwners)...)
	return problems, nil
}

func (m *MasterRecord) checkNodeBit(a addr.Address) string {
	grp := m.groupForAddress(a)
	if grp == nil {
		return fmt.Sprintf("node %v outside any group", a)
	}
	slot := uint64(a-grp.NodeTableAddress()) / common.NodeSize
	if !grp.NodeIsSet(slot) {
		return fmt.Sprintf("node %v not marked in the node bitmap", a)
	}
	return ""
}

func (m *MasterRecord) checkNodeBlocks(owner LiveNode,
	blockOwners map[addr.Address]addr.Address) []string {
	var problems []string
	st := owner.Storage()
	for i := uint64(0); i < st.NumBlocksAllocated(); i++ {
		a, err := st.GetBlockStartAddress(i)
		if err != nil {
			problems = append(problems, fmt.Sprintf(
				"node %v: block %d unreadable: %v", owner.HeaderAddress(), i, err))
			continue
		}
		if prev, ok := blockOwners[a]; ok {
			problems = append(problems, fmt.Sprintf(
				"block %v referenced by both %v and %v", a, prev, owner.HeaderAddress()))
		}
		blockOwners[a] = owner.HeaderAddress()
		grp := m.groupForAddress(a)
		if grp == nil {
			problems = append(problems, fmt.Sprintf("block %v outside any group", a))
			continue
		}
		bit := uint64(a-grp.Start()) / common.BlockSize
		if !grp.BlockIsSet(bit) {
			problems = append(problems, fmt.Sprintf(
				"block %v of node %v not marked in the block bitmap", a, owner.HeaderAddress()))
		}
	}
	return problems
}

func (m *MasterRecord) checkDirectory(dir *node.DirectoryNode, isRoot bool,
	blockOwners map[addr.Address]addr.Address) []string {
	var problems []string
	if p := m.checkNodeBit(dir.HeaderAddress()); p != "" {
		problems = append(problems, p)
	}
	problems = append(problems, m.checkNodeBlocks(dir, blockOwners)...)

	if _, ok := dir.FindChildEntry(node.SelfEntryName); !ok {
		problems = append(problems, fmt.Sprintf(
			"directory %v has no self entry", dir.HeaderAddress()))
	}
	if _, ok := dir.FindChildEntry(node.ParentEntryName); !ok && !isRoot {
		problems = append(problems, fmt.Sprintf(
			"directory %v has no parent entry", dir.HeaderAddress()))
	}

	for _, e := range dir.AllChildEntries() {
		if e.IsDir() {
			child, err := m.GetDirectoryNode(e.TargetAddr)
			if err != nil {
				problems = append(problems, fmt.Sprintf(
					"directory entry %q: %v", e.Name, err))
				continue
			}
			problems = append(problems, m.checkDirectory(child, false, blockOwners)...)
		} else {
			f, err := m.GetFileNode(e.TargetAddr)
			if err != nil {
				problems = append(problems, fmt.Sprintf(
					"file entry %q: %v", e.Name, err))
				continue
			}
			if p := m.checkNodeBit(f.HeaderAddress()); p != "" {
				problems = append(problems, p)
			}
			problems = append(problems, m.checkNodeBlocks(f, blockOwners)...)
		}
	}
	return problems
}
