package vm

import (
	"fmt"
	"sort"
	"sync"
)

// Virtual memory layout of a user process. Everything at or above PhysBase
// belongs to the kernel and is never mapped into a user address space.
const (
	PageSize = 4096
	WordSize = 4
	PhysBase = uint32(0xC0000000)

	// CodeBase is where the loader places a program's data segment.
	CodeBase = uint32(0x08048000)
)

// PageRound rounds addr down to the start of its page.
func PageRound(addr uint32) uint32 { return addr &^ (PageSize - 1) }

// PageOffset returns the offset of addr within its page.
func PageOffset(addr uint32) uint32 { return addr & (PageSize - 1) }

// IsUserVaddr reports whether addr lies below the user/kernel split.
func IsUserVaddr(addr uint32) bool { return addr < PhysBase }

// AddressSpace is the page table of one user process: a mapping from user
// page addresses to 4 KiB frames.
type AddressSpace struct {
	mu    sync.RWMutex
	pages map[uint32]*[PageSize]byte
}

func NewAddressSpace() *AddressSpace {
	return &AddressSpace{pages: make(map[uint32]*[PageSize]byte)}
}

// Map installs a zeroed frame for the page containing upage. Mapping an
// already mapped page is an error, as is mapping kernel space.
func (as *AddressSpace) Map(upage uint32) error {
	page := PageRound(upage)
	if !IsUserVaddr(page) {
		return fmt.Errorf("map %#08x: kernel address", page)
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if _, ok := as.pages[page]; ok {
		return fmt.Errorf("map %#08x: already mapped", page)
	}
	as.pages[page] = new([PageSize]byte)
	return nil
}

// MapRange maps every page touched by [addr, addr+size) that is not mapped yet.
func (as *AddressSpace) MapRange(addr, size uint32) error {
	if size == 0 {
		return nil
	}
	end := uint64(addr) + uint64(size)
	if end > uint64(PhysBase) {
		return fmt.Errorf("map range %#08x+%d: crosses kernel split", addr, size)
	}
	for page := uint64(PageRound(addr)); page < end; page += PageSize {
		if as.Mapped(uint32(page)) {
			continue
		}
		if err := as.Map(uint32(page)); err != nil {
			return err
		}
	}
	return nil
}

// Unmap removes the page containing upage. Unmapping an absent page is a no-op.
func (as *AddressSpace) Unmap(upage uint32) {
	as.mu.Lock()
	delete(as.pages, PageRound(upage))
	as.mu.Unlock()
}

// Mapped reports whether the page containing addr has a frame.
func (as *AddressSpace) Mapped(addr uint32) bool {
	_, ok := as.Lookup(addr)
	return ok
}

// Lookup returns the frame bytes from addr to the end of its page.
func (as *AddressSpace) Lookup(addr uint32) ([]byte, bool) {
	as.mu.RLock()
	frame, ok := as.pages[PageRound(addr)]
	as.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return frame[PageOffset(addr):], true
}

// Pages returns the mapped page addresses in ascending order.
func (as *AddressSpace) Pages() []uint32 {
	as.mu.RLock()
	out := make([]uint32, 0, len(as.pages))
	for p := range as.pages {
		out = append(out, p)
	}
	as.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Peek copies len(p) bytes starting at addr without any user-address
// validation. It is the access path of user code itself: touching an unmapped
// page panics with a *Fault, which the kernel treats as a user page fault.
func (as *AddressSpace) Peek(addr uint32, p []byte) {
	for len(p) > 0 {
		frame, ok := as.Lookup(addr)
		if !ok {
			panic(&Fault{Addr: addr, Reason: ReasonUnmapped})
		}
		n := copy(p, frame)
		p = p[n:]
		addr += uint32(n)
	}
}

// Poke is the writing counterpart of Peek.
func (as *AddressSpace) Poke(addr uint32, p []byte) {
	for len(p) > 0 {
		frame, ok := as.Lookup(addr)
		if !ok {
			panic(&Fault{Addr: addr, Reason: ReasonUnmapped})
		}
		n := copy(frame, p)
		p = p[n:]
		addr += uint32(n)
	}
}
