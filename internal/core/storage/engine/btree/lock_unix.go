//go:build unix

package btree

import (
	"errors"
	"os"

	"github.com/dep2p/go-advcache/internal/core/storage/engine"
	"golang.org/x/sys/unix"
)

// lockFile 对页文件加建议锁：可写时排他，只读时共享
func lockFile(f *os.File, readOnly bool) error {
	how := unix.LOCK_EX
	if readOnly {
		how = unix.LOCK_SH
	}
	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return engine.Faultf(engine.DBLocked, "lock", "%s is locked by another handle", f.Name())
		}
		return engine.IOFault("lock", err)
	}
	return nil
}

func unlockFile(f *os.File) error {
	return engine.IOFault("unlock", unix.Flock(int(f.Fd()), unix.LOCK_UN))
}
