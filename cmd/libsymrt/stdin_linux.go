package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// replaceStdin points file descriptor 0 at f so that both Go and C readers
// see the captured input from its first byte.
func replaceStdin(f *os.File) error {
	defer f.Close()
	if err := unix.Dup3(int(f.Fd()), 0, 0); err != nil {
		return err
	}
	os.Stdin = os.NewFile(0, "/dev/stdin")
	return nil
}
