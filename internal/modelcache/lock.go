package modelcache

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/openvoicy/sidecar/internal/protocol"
)

// acquireLock takes the exclusive cache-root lock used to serialize
// installs and purges across processes (§4.9 step 1). Returns
// E_LOCK if timeout elapses before the lock is granted.
func acquireLock(cacheRoot string, timeout time.Duration) (*flock.Flock, error) {
	lockPath := filepath.Join(cacheRoot, ".lock")
	lock := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, protocol.NewError(protocol.KindLock, fmt.Sprintf("could not acquire model cache lock within %s", timeout), nil)
	}
	return lock, nil
}
