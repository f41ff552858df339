//go:build !(unix || darwin || linux || freebsd || openbsd || netbsd)

// internal/mmapfile/mmap_other.go
//
// Non-unix fallback: a plain read. Platforms without the unix mmap
// syscalls lose the zero-copy benefit but keep the same With contract.
package mmapfile

import "os"

func mmapReadOnly(f *os.File, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func munmap(data []byte) error { return nil }
