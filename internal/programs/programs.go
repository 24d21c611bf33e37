// Package programs holds the built-in user programs a machine can install.
// They use nothing but the user runtime, so everything they do goes through
// the system call layer.
package programs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/loykin/sysgate/internal/abi"
	"github.com/loykin/sysgate/internal/user"
)

const chunk = 512

var builtins = map[string]user.Program{
	"echo":  Echo,
	"cat":   Cat,
	"touch": Touch,
	"rm":    Rm,
	"write": Write,
	"wc":    Wc,
	"run":   Run,
	"exit":  Exit,
	"halt":  Halt,
}

// All returns the built-in programs by name.
func All() map[string]user.Program {
	out := make(map[string]user.Program, len(builtins))
	for k, v := range builtins {
		out[k] = v
	}
	return out
}

func Names() []string {
	out := make([]string, 0, len(builtins))
	for k := range builtins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Echo prints its arguments separated by spaces.
func Echo(u *user.Proc) int {
	u.Print(strings.Join(u.Args()[1:], " ") + "\n")
	return 0
}

// Cat copies each named file to the console. Without arguments it echoes one
// line of console input.
func Cat(u *user.Proc) int {
	args := u.Args()
	buf := u.Alloc(chunk)
	if len(args) == 1 {
		var line []byte
		for {
			b := u.ReadBytes(abi.StdinFD, buf, 1)
			if len(b) == 0 || b[0] == 0 || b[0] == '\n' {
				break
			}
			line = append(line, b[0])
		}
		u.Print(string(line) + "\n")
		return 0
	}
	for _, name := range args[1:] {
		fd := u.Open(name)
		if fd < 0 {
			u.Print(fmt.Sprintf("cat: %s: cannot open\n", name))
			return 1
		}
		for {
			n := u.Read(fd, buf, chunk)
			if n <= 0 {
				break
			}
			u.Write(abi.StdoutFD, buf, uint32(n))
		}
		u.Close(fd)
	}
	return 0
}

// Touch creates a file of the given size (default 0).
func Touch(u *user.Proc) int {
	args := u.Args()
	if len(args) < 2 {
		u.Print("usage: touch name [size]\n")
		return 2
	}
	size := uint64(0)
	if len(args) > 2 {
		var err error
		if size, err = strconv.ParseUint(args[2], 10, 32); err != nil {
			u.Print("touch: bad size\n")
			return 2
		}
	}
	if !u.Create(args[1], uint32(size)) {
		u.Print(fmt.Sprintf("touch: %s: cannot create\n", args[1]))
		return 1
	}
	return 0
}

func Rm(u *user.Proc) int {
	args := u.Args()
	if len(args) < 2 {
		u.Print("usage: rm name...\n")
		return 2
	}
	status := 0
	for _, name := range args[1:] {
		if !u.Remove(name) {
			u.Print(fmt.Sprintf("rm: %s: cannot remove\n", name))
			status = 1
		}
	}
	return status
}

// Write stores its remaining arguments, space separated, at the start of an
// existing file and prints how many bytes fit.
func Write(u *user.Proc) int {
	args := u.Args()
	if len(args) < 3 {
		u.Print("usage: write name text...\n")
		return 2
	}
	fd := u.Open(args[1])
	if fd < 0 {
		u.Print(fmt.Sprintf("write: %s: cannot open\n", args[1]))
		return 1
	}
	n := u.WriteString(fd, strings.Join(args[2:], " "))
	u.Close(fd)
	u.Print(fmt.Sprintf("%d\n", n))
	return 0
}

// Wc prints the line and byte counts of each file.
func Wc(u *user.Proc) int {
	args := u.Args()
	buf := u.Alloc(chunk)
	status := 0
	for _, name := range args[1:] {
		fd := u.Open(name)
		if fd < 0 {
			u.Print(fmt.Sprintf("wc: %s: cannot open\n", name))
			status = 1
			continue
		}
		lines := 0
		for {
			data := u.ReadBytes(fd, buf, chunk)
			if len(data) == 0 {
				break
			}
			for _, b := range data {
				if b == '\n' {
					lines++
				}
			}
		}
		u.Print(fmt.Sprintf("%d %d %s\n", lines, u.Filesize(fd), name))
		u.Close(fd)
	}
	return status
}

// Run executes its arguments as a command line, waits for it and returns the
// child's exit status.
func Run(u *user.Proc) int {
	args := u.Args()
	if len(args) < 2 {
		u.Print("usage: run command [args...]\n")
		return 2
	}
	pid := u.Exec(strings.Join(args[1:], " "))
	if pid < 0 {
		u.Print(fmt.Sprintf("run: %s: exec failed\n", args[1]))
		return -1
	}
	return u.Wait(pid)
}

// Exit calls exit with the given status (default 0).
func Exit(u *user.Proc) int {
	status := 0
	if args := u.Args(); len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			u.Print("exit: bad status\n")
			return 2
		}
		status = n
	}
	u.Exit(status)
	return status
}

func Halt(u *user.Proc) int {
	u.Halt()
	return 0
}
