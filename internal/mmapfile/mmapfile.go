// internal/mmapfile/mmapfile.go
//
// Package mmapfile memory-maps a save-file for reading so a parser can
// work directly off the mapped pages instead of an extra os.ReadFile
// buffer copy (spec §6's save/load path is read-mostly and can be
// large). Grounded on the teacher's pkg/pager/mmap_unix.go (file-backed
// mmap lifecycle), pared down to the read-only case docstore.LoadMmap
// needs: no writable mapping, no Grow/Sync.
package mmapfile

import (
	"errors"
	"os"
)

// With opens path, memory-maps it read-only, and calls fn with the
// mapped bytes. The mapping is released when fn returns (successfully
// or not); fn must not retain the slice it's given past its own
// return — anything it needs to keep must be copied out first, which
// is exactly what docstore.Load's change-history replay already does
// for each decoded change.
func With(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	size := stat.Size()
	if size == 0 {
		return errors.New("mmapfile: cannot map empty file")
	}

	data, err := mmapReadOnly(f, size)
	if err != nil {
		return err
	}
	defer munmap(data)

	return fn(data)
}
