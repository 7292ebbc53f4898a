package vfs

import (
	"github.com/vfslab/volfs/pathname"
	"github.com/vfslab/volfs/pattern"
	"github.com/vfslab/volfs/util"
)

// FindIter lazily enumerates absolute paths matching a wildcard. Each
// directory is snapshotted under its read lock and released before the
// names are yielded, so the iterator is safe to consume at leisure.
// Subtrees that cannot be read are skipped.
type FindIter struct {
	v         *FileSystem
	p         *pattern.SearchPattern
	recursive bool

	queue   []string // matches ready to yield
	pending []string // directories not yet visited
}

// FindFile searches the directory at path for entries matching the
// wildcard, descending when recursive is set.
func (v *FileSystem) FindFile(path string, wildcard string, recursive bool) (*FindIter, error) {
	if _, err := pathname.Parse(path); err != nil {
		return nil, err
	}
	p, err := pattern.Compile(wildcard)
	if err != nil {
		return nil, err
	}
	return &FindIter{
		v:         v,
		p:         p,
		recursive: recursive,
		pending:   []string{path},
	}, nil
}

// Next yields the next match, or ok=false when the enumeration is done.
func (it *FindIter) Next() (string, bool) {
	for {
		if len(it.queue) > 0 {
			name := it.queue[0]
			it.queue = it.queue[1:]
			return name, true
		}
		if len(it.pending) == 0 {
			return "", false
		}
		dirPath := it.pending[0]
		it.pending = it.pending[1:]

		names, childDirs, err := it.v.findMatching(dirPath, it.p)
		if err != nil {
			util.DPrintf(2, "FindFile: skipping %q: %v\n", dirPath, err)
			continue
		}
		for _, n := range names {
			it.queue = append(it.queue, pathname.Combine(dirPath, n))
		}
		if it.recursive {
			for _, d := range childDirs {
				it.pending = append(it.pending, pathname.Combine(dirPath, d))
			}
		}
	}
}

// All drains the iterator.
func (it *FindIter) All() []string {
	var out []string
	for {
		name, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, name)
	}
}
