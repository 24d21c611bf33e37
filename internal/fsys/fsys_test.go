package fsys

import (
	"errors"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("a.txt"))
	assert.True(t, ValidName("12345678901234"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("123456789012345"))
	assert.False(t, ValidName("dir/file"))
}

func TestCreateOpenRoundTrip(t *testing.T) {
	fs := NewMemory()
	require.NoError(t, fs.Create("data", 10))
	assert.ErrorIs(t, fs.Create("data", 1), ErrExists)

	f, err := fs.Open("data")
	require.NoError(t, err)
	length, err := f.Length()
	require.NoError(t, err)
	assert.Equal(t, int64(10), length)

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	pos, err := f.Tell()
	require.NoError(t, err)
	assert.Equal(t, int64(5), pos)

	require.NoError(t, f.Seek(0))
	buf := make([]byte, 16)
	n, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "hello", string(buf[:5]))
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), ErrClosed)
}

func TestWriteDoesNotGrowFile(t *testing.T) {
	fs := NewMemory()
	require.NoError(t, fs.Create("small", 4))
	f, err := fs.Open("small")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	require.NoError(t, f.Seek(2))
	n, err := f.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	length, _ := f.Length()
	assert.Equal(t, int64(4), length)
}

func TestReadPastEndReturnsZero(t *testing.T) {
	fs := NewMemory()
	require.NoError(t, fs.Create("f", 3))
	f, err := fs.Open("f")
	require.NoError(t, err)
	require.NoError(t, f.Seek(100))
	n, err := f.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOpenAndRemoveMissing(t *testing.T) {
	fs := NewMemory()
	_, err := fs.Open("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, fs.Remove("nope"), ErrNotFound)
	_, err = fs.Open("")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestCreateSizeBounds(t *testing.T) {
	fs := NewMemory()
	assert.ErrorIs(t, fs.Create("neg", -1), ErrTooLarge)
	assert.ErrorIs(t, fs.Create("huge", MaxFileSize+1), ErrTooLarge)
	assert.ErrorIs(t, fs.Create("wrapped", 1<<32-1), ErrTooLarge)
	for _, name := range []string{"neg", "huge", "wrapped"} {
		_, err := fs.Open(name)
		assert.ErrorIs(t, err, ErrNotFound, name)
	}

	require.NoError(t, fs.Create("limit", MaxFileSize))
	f, err := fs.Open("limit")
	require.NoError(t, err)
	assert.ErrorIs(t, f.Seek(-1), ErrBadOffset)
	require.NoError(t, f.Close())
}

func TestRemove(t *testing.T) {
	fs := NewMemory()
	require.NoError(t, fs.Create("gone", 0))
	require.NoError(t, fs.Remove("gone"))
	_, err := fs.Open("gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirBackedFilesystem(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewDir(dir)
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("prog", []byte("content")))

	names, err := fs.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"prog"}, names)

	raw, err := afero.ReadFile(afero.NewOsFs(), dir+"/prog")
	require.NoError(t, err)
	assert.Equal(t, "content", string(raw))
}

// countingFS records the maximum number of concurrent calls it observed.
type countingFS struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	inner   FileSystem
}

func (c *countingFS) enter() {
	c.mu.Lock()
	c.active++
	if c.active > c.maxSeen {
		c.maxSeen = c.active
	}
	c.mu.Unlock()
}

func (c *countingFS) leave() {
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
}

func (c *countingFS) Open(name string) (File, error) {
	c.enter()
	defer c.leave()
	return c.inner.Open(name)
}

func (c *countingFS) Create(name string, size int64) error {
	c.enter()
	defer c.leave()
	return c.inner.Create(name, size)
}

func (c *countingFS) Remove(name string) error {
	c.enter()
	defer c.leave()
	return c.inner.Remove(name)
}

func TestGuardSerializesCalls(t *testing.T) {
	cfs := &countingFS{inner: NewMemory()}
	g := Guard(cfs)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i%26))
			_ = g.Create(name, 1)
			if f, err := g.Open(name); err == nil {
				_, _ = f.Write([]byte{byte(i)})
				_ = f.Close()
			}
			_ = g.Remove(name)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, cfs.maxSeen)
}

func TestGuardDo(t *testing.T) {
	g := Guard(NewMemory())
	require.NoError(t, g.Create("x", 0))
	err := g.Do(func(fs FileSystem) error {
		f, err := fs.Open("x")
		if err != nil {
			return err
		}
		return f.Close()
	})
	require.NoError(t, err)

	err = g.Do(func(fs FileSystem) error {
		_, err := fs.Open("missing")
		return err
	})
	assert.True(t, errors.Is(err, ErrNotFound))
}
