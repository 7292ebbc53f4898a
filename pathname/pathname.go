// Package pathname parses absolute volume paths. The separator is `\`,
// a leading `\` is required, and empty segments collapse.
package pathname

import (
	"strings"
	"unicode/utf16"

	"github.com/vfslab/volfs/fserr"
)

const Separator = "\\"

// reserved characters that may not appear inside a segment
const reservedChars = "\\/:*?\"<>|"

// VirtualFileName is a parsed absolute path.
type VirtualFileName struct {
	segments []string
}

// ValidateSegment checks one path segment: 1..255 UTF-16 code units and
// no separator or reserved characters.
func ValidateSegment(seg string) error {
	n := len(utf16.Encode([]rune(seg)))
	if n < 1 || n > 255 {
		return fserr.Wrapf(fserr.ErrInvalidPath,
			"segment %q length %d", seg, n)
	}
	if strings.ContainsAny(seg, reservedChars) {
		return fserr.Wrapf(fserr.ErrInvalidPath,
			"segment %q contains a reserved character", seg)
	}
	for _, r := range seg {
		if r < 0x20 {
			return fserr.Wrapf(fserr.ErrInvalidPath,
				"segment %q contains a control character", seg)
		}
	}
	return nil
}

// Parse splits an absolute path into segments.
func Parse(path string) (*VirtualFileName, error) {
	if !strings.HasPrefix(path, Separator) {
		return nil, fserr.Wrapf(fserr.ErrInvalidPath, "%q is not absolute", path)
	}
	var segments []string
	for _, seg := range strings.Split(path, Separator) {
		if seg == "" {
			continue
		}
		if err := ValidateSegment(seg); err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return &VirtualFileName{segments: segments}, nil
}

func (v *VirtualFileName) IsRoot() bool {
	return len(v.segments) == 0
}

func (v *VirtualFileName) Segments() []string {
	return v.segments
}

func (v *VirtualFileName) SegmentsExceptLast() []string {
	if len(v.segments) == 0 {
		return nil
	}
	return v.segments[:len(v.segments)-1]
}

// Name is the last segment, or "" for the root.
func (v *VirtualFileName) Name() string {
	if len(v.segments) == 0 {
		return ""
	}
	return v.segments[len(v.segments)-1]
}

// Path is the full path of the parent directory.
func (v *VirtualFileName) Path() string {
	if len(v.segments) <= 1 {
		return Separator
	}
	return Separator + strings.Join(v.segments[:len(v.segments)-1], Separator)
}

func (v *VirtualFileName) FullPath() string {
	return Separator + strings.Join(v.segments, Separator)
}

// Combine joins a parent path and a child name.
func Combine(parent string, name string) string {
	if parent == Separator || parent == "" {
		return Separator + name
	}
	return parent + Separator + name
}
