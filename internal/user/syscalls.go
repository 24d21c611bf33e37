package user

import "github.com/loykin/sysgate/internal/abi"

// Halt powers the machine off. It does not return.
func (u *Proc) Halt() {
	u.syscall(abi.Halt)
	panic("halt returned")
}

// Exit ends the program with status. It does not return.
func (u *Proc) Exit(status int) {
	u.syscall(abi.Exit, uint32(int32(status)))
	panic("exit returned")
}

// Exec starts cmdline as a child process and returns its pid, or -1.
func (u *Proc) Exec(cmdline string) int {
	return int(u.syscall(abi.Exec, u.String(cmdline)))
}

// Wait returns the exit status of child pid, or -1.
func (u *Proc) Wait(pid int) int {
	return int(u.syscall(abi.Wait, uint32(int32(pid))))
}

func (u *Proc) Create(name string, size uint32) bool {
	return u.syscall(abi.Create, u.String(name), size) != 0
}

func (u *Proc) Remove(name string) bool {
	return u.syscall(abi.Remove, u.String(name)) != 0
}

// Open returns a new descriptor for name, or -1.
func (u *Proc) Open(name string) int {
	return int(u.syscall(abi.Open, u.String(name)))
}

func (u *Proc) Filesize(fd int) int {
	return int(u.syscall(abi.Filesize, uint32(int32(fd))))
}

// Read reads up to size bytes from fd into user memory at buf.
func (u *Proc) Read(fd int, buf, size uint32) int {
	return int(u.syscall(abi.Read, uint32(int32(fd)), buf, size))
}

// Write writes size bytes at buf to fd.
func (u *Proc) Write(fd int, buf, size uint32) int {
	return int(u.syscall(abi.Write, uint32(int32(fd)), buf, size))
}

func (u *Proc) Seek(fd int, pos uint32) {
	u.syscall(abi.Seek, uint32(int32(fd)), pos)
}

func (u *Proc) Tell(fd int) int {
	return int(u.syscall(abi.Tell, uint32(int32(fd))))
}

func (u *Proc) Close(fd int) {
	u.syscall(abi.Close, uint32(int32(fd)))
}

// WriteString copies s into user memory and writes it to fd.
func (u *Proc) WriteString(fd int, s string) int {
	if s == "" {
		return u.Write(fd, u.Alloc(0), 0)
	}
	return u.Write(fd, u.Bytes([]byte(s)), uint32(len(s)))
}

// Print writes s to the console.
func (u *Proc) Print(s string) { u.WriteString(abi.StdoutFD, s) }

// ReadBytes reads up to n bytes from fd into scratch memory and returns them.
// It returns nil when the read fails.
func (u *Proc) ReadBytes(fd int, scratch uint32, n uint32) []byte {
	got := u.Read(fd, scratch, n)
	if got < 0 {
		return nil
	}
	return u.Peek(scratch, got)
}
