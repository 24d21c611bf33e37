package fsys

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/afero"
)

// Afero adapts an afero.Fs to FileSystem. The root of the afero filesystem is
// the single directory user programs see.
type Afero struct {
	fs afero.Fs
}

// NewMemory returns a filesystem held entirely in memory.
func NewMemory() *Afero { return &Afero{fs: afero.NewMemMapFs()} }

// NewDir returns a filesystem rooted at dir on the host. The directory is
// created when missing.
func NewDir(dir string) (*Afero, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filesystem root %s: %w", dir, err)
	}
	return &Afero{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}, nil
}

// NewAfero wraps an existing afero filesystem.
func NewAfero(fs afero.Fs) *Afero { return &Afero{fs: fs} }

func (a *Afero) Open(name string) (File, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	f, err := a.fs.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &aferoFile{f: f}, nil
}

func (a *Afero) Create(name string, size int64) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if size < 0 || size > MaxFileSize {
		return fmt.Errorf("create %s with size %d: %w", name, size, ErrTooLarge)
	}
	f, err := a.fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return err
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (a *Afero) Remove(name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	if err := a.fs.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// WriteFile stores data under name, replacing any previous content. It backs
// the loader's program installation and host file import.
func (a *Afero) WriteFile(name string, data []byte) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	return afero.WriteFile(a.fs, name, data, 0o640)
}

// Names lists the files in the root directory.
func (a *Afero) Names() ([]string, error) {
	infos, err := afero.ReadDir(a.fs, "/")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.IsDir() {
			out = append(out, fi.Name())
		}
	}
	return out, nil
}

type aferoFile struct {
	f      afero.File
	closed bool
}

func (h *aferoFile) Read(p []byte) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	n, err := io.ReadFull(h.f, p)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	return n, err
}

func (h *aferoFile) Write(p []byte) (int, error) {
	if h.closed {
		return 0, ErrClosed
	}
	pos, err := h.Tell()
	if err != nil {
		return 0, err
	}
	length, err := h.Length()
	if err != nil {
		return 0, err
	}
	if pos >= length {
		return 0, nil
	}
	if room := length - pos; int64(len(p)) > room {
		p = p[:room]
	}
	return h.f.Write(p)
}

func (h *aferoFile) Seek(pos int64) error {
	if h.closed {
		return ErrClosed
	}
	if pos < 0 {
		return fmt.Errorf("seek to %d: %w", pos, ErrBadOffset)
	}
	_, err := h.f.Seek(pos, io.SeekStart)
	return err
}

func (h *aferoFile) Tell() (int64, error) {
	if h.closed {
		return 0, ErrClosed
	}
	return h.f.Seek(0, io.SeekCurrent)
}

func (h *aferoFile) Length() (int64, error) {
	if h.closed {
		return 0, ErrClosed
	}
	fi, err := h.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (h *aferoFile) Close() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	return h.f.Close()
}
