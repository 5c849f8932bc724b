package cmd

import (
	"syscall"

	"github.com/sugarlabs/sugar-datastore/internal/store"
)

// diskFreeBytes is the store.FreeBytes implementation wired in at the CLI
// boundary; internal/store takes it as a parameter so tests can fake it.
func diskFreeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// openStore opens the store rooted at the resolved profile root.
func openStore() (*store.Store, error) {
	return store.Open(resolveProfileRoot(), diskFreeBytes, 0)
}
