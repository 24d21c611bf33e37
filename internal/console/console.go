package console

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Console is the machine's character device: a keyboard read one byte at a
// time and a display written in whole buffers. Output from different callers
// never interleaves within one Putbuf.
type Console struct {
	inMu  sync.Mutex
	in    *bufio.Reader
	outMu sync.Mutex
	out   io.Writer
}

// New returns a console reading from in and writing to out. A nil in behaves
// as a keyboard nobody types on.
func New(in io.Reader, out io.Writer) *Console {
	c := &Console{out: out}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	if c.out == nil {
		c.out = io.Discard
	}
	return c
}

// Getc returns the next input byte. Once input is exhausted it returns NUL.
func (c *Console) Getc() byte {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	if c.in == nil {
		return 0
	}
	b, err := c.in.ReadByte()
	if err != nil {
		return 0
	}
	return b
}

// Putbuf writes p to the display as one unit.
func (c *Console) Putbuf(p []byte) {
	c.outMu.Lock()
	_, _ = c.out.Write(p)
	c.outMu.Unlock()
}

func (c *Console) Printf(format string, args ...any) {
	c.Putbuf([]byte(fmt.Sprintf(format, args...)))
}
