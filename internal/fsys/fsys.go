package fsys

import (
	"errors"
	"strings"
)

const (
	// MaxNameLen is the longest file name the filesystem accepts.
	MaxNameLen = 14
	// MaxFileSize bounds create; files are allocated in full up front.
	MaxFileSize = 8 << 20
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrExists      = errors.New("file exists")
	ErrInvalidName = errors.New("invalid file name")
	ErrClosed      = errors.New("file already closed")
	ErrTooLarge    = errors.New("file size out of range")
	ErrBadOffset   = errors.New("invalid file offset")
)

// File is an open file handle. Offsets are byte positions from the start of
// the file. Writes never grow a file: bytes that would land past the end are
// dropped and the short count is returned.
type File interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Seek(pos int64) error
	Tell() (int64, error)
	Length() (int64, error)
	Close() error
}

// FileSystem is the flat, single-directory filesystem user programs see.
type FileSystem interface {
	Open(name string) (File, error)
	Create(name string, size int64) error
	Remove(name string) error
}

// ValidName reports whether name is acceptable as a file name.
func ValidName(name string) bool {
	return name != "" && len(name) <= MaxNameLen && !strings.ContainsAny(name, "/\x00")
}
