package checkpoint

import (
	"fmt"

	"github.com/gofrs/flock"

	"curator/internal/services"
)

// Lock is an exclusive advisory lock on a checkpoint.
type Lock struct {
	lock *flock.Flock
}

// AcquireLock takes the run lock for the checkpoint at path. It fails
// immediately when another run holds it.
func AcquireLock(path string) (*Lock, error) {
	lockPath := path + ".lock"
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInfra, "checkpoint", "lock", lockPath, err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrConfiguration, "checkpoint", "lock",
			fmt.Sprintf("another curator run holds %s", lockPath), nil)
	}
	return &Lock{lock: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
