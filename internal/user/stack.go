package user

import (
	"encoding/binary"
	"errors"

	"github.com/loykin/sysgate/internal/vm"
)

// StackReserve is the space PushArgs leaves free below the argument block
// for the program's own call frames.
const StackReserve = 64

var ErrArgsTooLarge = errors.New("arguments do not fit on the stack")

// PushArgs lays out argv at the top of the stack that ends at top and returns
// the initial stack pointer. From high to low addresses: the argument
// strings, padding to a word boundary, a NULL sentinel, the argv[] pointers,
// argv itself, argc and a zero return address. All pages in
// [top-stackSize, top) must already be mapped.
func PushArgs(space *vm.AddressSpace, top, stackSize uint32, argv []string) (uint32, error) {
	need := uint64(0)
	for _, a := range argv {
		need += uint64(len(a)) + 1
	}
	need = (need + 3) &^ 3
	need += uint64(len(argv)+1)*4 + 3*4
	if need+StackReserve > uint64(stackSize) {
		return 0, ErrArgsTooLarge
	}

	sp := top
	ptrs := make([]uint32, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		sp -= uint32(len(argv[i]) + 1)
		space.Poke(sp, append([]byte(argv[i]), 0))
		ptrs[i] = sp
	}
	sp &^= 3

	push := func(w uint32) {
		sp -= 4
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], w)
		space.Poke(sp, b[:])
	}
	push(0)
	for i := len(ptrs) - 1; i >= 0; i-- {
		push(ptrs[i])
	}
	push(sp)
	push(uint32(len(argv)))
	push(0)
	return sp, nil
}
