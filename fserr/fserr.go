// Package fserr defines the error taxonomy of the engine. The lowest
// layers return raw causes; the facade classifies them into one of these
// sentinels, keeping the cause's message in the error text.
package fserr

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrNotFound    = errors.New("not found")
	ErrExists      = errors.New("already exists")
	ErrWrongKind   = errors.New("wrong node kind")
	ErrDiskFull    = errors.New("disk full")
	ErrMaxFileSize = errors.New("maximum file size exceeded")
	ErrLockTimeout = errors.New("node lock timeout")
	ErrCorruption  = errors.New("volume corrupted")
	ErrIO          = errors.New("i/o error")
	ErrClosed      = errors.New("closed")
	ErrNotEmpty    = errors.New("directory not empty")
	ErrReadOnly    = errors.New("not open for writing")
	ErrOutOfRange  = errors.New("block index out of range")
)

// Wrap annotates cause with a taxonomy sentinel. The sentinel is
// reachable through errors.Is; the cause survives only as message text,
// not as an error in the wrap chain.
func Wrap(sentinel error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.WithMessage(sentinel, cause.Error())
}

// Wrapf annotates a sentinel with a formatted message.
func Wrapf(sentinel error, format string, args ...interface{}) error {
	return errors.WithMessagef(sentinel, format, args...)
}
