package vm

import (
	"encoding/binary"
	"fmt"
)

// Reasons carried by a Fault.
const (
	ReasonNull     = "null pointer"
	ReasonKernel   = "kernel address"
	ReasonUnmapped = "unmapped address"
	ReasonOverflow = "range wraps address space"
	ReasonTooLong  = "string exceeds limit"
)

// Fault is a protocol violation by user code: an address that may not be
// dereferenced on its behalf. It is a terminate-process signal, never a
// kernel error; whoever receives it must end the offending process with
// status -1.
type Fault struct {
	Addr   uint32
	Reason string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("bad user address %#08x: %s", f.Addr, f.Reason)
}

// Check validates a single user address: non-null, below PhysBase and mapped
// in space.
func Check(space *AddressSpace, addr uint32) error {
	if addr == 0 {
		return &Fault{Addr: addr, Reason: ReasonNull}
	}
	if !IsUserVaddr(addr) {
		return &Fault{Addr: addr, Reason: ReasonKernel}
	}
	if !space.Mapped(addr) {
		return &Fault{Addr: addr, Reason: ReasonUnmapped}
	}
	return nil
}

// CheckRange validates every page covered by [addr, addr+size). The start
// address is validated even for an empty range.
func CheckRange(space *AddressSpace, addr, size uint32) error {
	if err := Check(space, addr); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	last := uint64(addr) + uint64(size) - 1
	if last > 0xFFFFFFFF {
		return &Fault{Addr: addr, Reason: ReasonOverflow}
	}
	for page := uint64(PageRound(addr)) + PageSize; page <= last; page += PageSize {
		if err := Check(space, uint32(page)); err != nil {
			return err
		}
	}
	return Check(space, uint32(last))
}

// ReadWord reads the little-endian word at addr after validating all four of
// its bytes, which may straddle a page boundary.
func ReadWord(space *AddressSpace, addr uint32) (uint32, error) {
	var buf [WordSize]byte
	if err := CopyIn(space, addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadString reads the NUL-terminated string at addr, validating each page as
// it is reached. Strings longer than max bytes (excluding the terminator) are
// rejected; max <= 0 means no limit short of the address space.
func ReadString(space *AddressSpace, addr uint32, max int) (string, error) {
	if err := Check(space, addr); err != nil {
		return "", err
	}
	var out []byte
	cur := addr
	for {
		if err := Check(space, cur); err != nil {
			return "", err
		}
		frame, _ := space.Lookup(cur)
		for i, b := range frame {
			if b == 0 {
				return string(append(out, frame[:i]...)), nil
			}
			if max > 0 && len(out)+i >= max {
				return "", &Fault{Addr: addr, Reason: ReasonTooLong}
			}
		}
		out = append(out, frame...)
		next := uint64(cur) + uint64(len(frame))
		if next >= uint64(PhysBase) {
			return "", &Fault{Addr: uint32(next), Reason: ReasonKernel}
		}
		cur = uint32(next)
	}
}

// Segments validates [addr, addr+size) and returns the page slices backing it
// in order, so callers can read or write user memory in place.
func Segments(space *AddressSpace, addr, size uint32) ([][]byte, error) {
	if err := CheckRange(space, addr, size); err != nil {
		return nil, err
	}
	var segs [][]byte
	remaining := size
	cur := addr
	for remaining > 0 {
		frame, _ := space.Lookup(cur)
		n := uint32(len(frame))
		if n > remaining {
			n = remaining
		}
		segs = append(segs, frame[:n])
		remaining -= n
		cur += n
	}
	return segs, nil
}

// CopyIn fills dst from user memory at addr.
func CopyIn(space *AddressSpace, addr uint32, dst []byte) error {
	segs, err := Segments(space, addr, uint32(len(dst)))
	if err != nil {
		return err
	}
	for _, s := range segs {
		dst = dst[copy(dst, s):]
	}
	return nil
}

// CopyOut writes src into user memory at addr.
func CopyOut(space *AddressSpace, addr uint32, src []byte) error {
	segs, err := Segments(space, addr, uint32(len(src)))
	if err != nil {
		return err
	}
	for _, s := range segs {
		src = src[copy(s, src):]
	}
	return nil
}
