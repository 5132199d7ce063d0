package staging

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"bookdrop/internal/services"
)

// LockFileName is the advisory lock shared by every process that touches the
// staging directory. Writers hold it shared; the reclaimer holds it exclusive.
const LockFileName = ".bookdrop.lock"

const lockRetryDelay = 25 * time.Millisecond

// keyedMutex serializes work per filename inside one process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(name string) func() {
	k.mu.Lock()
	entry, ok := k.locks[name]
	if !ok {
		entry = &keyedEntry{}
		k.locks[name] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, name)
		}
		k.mu.Unlock()
	}
}

// withLock runs fn while holding the per-name mutex and the directory lock.
// The per-name mutex is always taken first.
func (s *Store) withLock(ctx context.Context, name string, exclusive bool, fn func() error) error {
	unlock := s.names.lock(name)
	defer unlock()

	fl := flock.New(s.lockPath)
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return services.Wrap(services.ErrStorage, "staging", "lock", s.lockPath, err)
	}
	if !locked {
		return services.Wrap(services.ErrStorage, "staging", "lock", "staging lock not acquired", nil)
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}
