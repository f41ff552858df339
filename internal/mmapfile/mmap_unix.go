//go:build unix || darwin || linux || freebsd || openbsd || netbsd

// internal/mmapfile/mmap_unix.go
package mmapfile

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func mmapReadOnly(f *os.File, size int64) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_PRIVATE)
}

func munmap(data []byte) error {
	return unix.Munmap(data)
}
