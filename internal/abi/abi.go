// Package abi defines the system call numbers and the calling convention
// shared by user programs and the kernel trap handler.
//
// A user program pushes its arguments and then the call number onto its
// stack and raises the trap with the stack pointer addressing the number:
//
//	esp+0   call number
//	esp+4   argument 1
//	esp+8   argument 2
//	esp+12  argument 3
//
// Every slot is one little-endian 32-bit word. Argument k always lives in
// slot k, whatever the arity of the call.
package abi

import "github.com/loykin/sysgate/internal/vm"

// Number identifies a system call.
type Number int

const (
	Halt Number = iota
	Exit
	Exec
	Wait
	Create
	Remove
	Open
	Filesize
	Read
	Write
	Seek
	Tell
	Close

	// Unsupported stands for every raw call number outside the table.
	Unsupported Number = -1
)

// Standard console descriptors. They are never allocated by open.
const (
	StdinFD  = 0
	StdoutFD = 1
)

var names = [...]string{
	Halt:     "halt",
	Exit:     "exit",
	Exec:     "exec",
	Wait:     "wait",
	Create:   "create",
	Remove:   "remove",
	Open:     "open",
	Filesize: "filesize",
	Read:     "read",
	Write:    "write",
	Seek:     "seek",
	Tell:     "tell",
	Close:    "close",
}

var arity = [...]int{
	Halt:     0,
	Exit:     1,
	Exec:     1,
	Wait:     1,
	Create:   2,
	Remove:   1,
	Open:     1,
	Filesize: 1,
	Read:     3,
	Write:    3,
	Seek:     2,
	Tell:     1,
	Close:    1,
}

// Decode maps a raw word read from the user stack to a Number.
func Decode(raw uint32) Number {
	if raw < uint32(len(names)) {
		return Number(raw)
	}
	return Unsupported
}

func (n Number) Valid() bool { return n >= 0 && int(n) < len(names) }

func (n Number) String() string {
	if !n.Valid() {
		return "unsupported"
	}
	return names[n]
}

// Arity is the number of argument words the call reads.
func (n Number) Arity() int {
	if !n.Valid() {
		return 0
	}
	return arity[n]
}

// Slot returns the byte offset of slot i from the trap stack pointer.
func Slot(i int) uint32 { return uint32(i) * vm.WordSize }

// All lists the supported calls in number order.
func All() []Number {
	out := make([]Number, len(names))
	for i := range names {
		out[i] = Number(i)
	}
	return out
}
