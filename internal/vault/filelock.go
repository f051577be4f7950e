package vault

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// ErrFileLocked is returned by TryLockFile when another process already
// holds an exclusive advisory lock on the file.
var ErrFileLocked = errors.New("file is locked by another process")

// TryLockFile attempts to acquire a non-blocking, exclusive advisory
// lock on path itself, used to skip files another process (e.g. a
// concurrent `vault` CLI invocation) is actively working with rather
// than act on them underneath it. The caller must close the returned
// file to release the lock.
func TryLockFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrFileLocked
		}
		return nil, err
	}
	return f, nil
}
