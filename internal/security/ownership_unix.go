//go:build unix

package security

import (
	"os"
	"syscall"

	"atelier/internal/errors"
)

// checkOwner verifies that an existing path is owned by the current uid.
// Paths that do not exist yet pass; they will be created by this process.
func checkOwner(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Internal("stat for ownership check", err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if int(stat.Uid) != os.Getuid() {
		return errors.ErrOwnershipMismatch
	}
	return nil
}
