package processor

import (
	"fmt"
	"time"

	"lingo-sync/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const lockKey = "translation_processor:lock"

// ErrLockHeld is returned when another processor instance holds the lock.
var ErrLockHeld = fmt.Errorf("processor lock is held by another instance")

// leaseLock is the cooperative single-flight lock over the shared store.
// The holder writes a unique owner token with a TTL; a crashed holder's
// lease simply expires. Release verifies ownership so a slow holder cannot
// delete a successor's lease.
type leaseLock struct {
	store store.Store
	owner string
}

func newLeaseLock(s store.Store) *leaseLock {
	return &leaseLock{store: s}
}

// Acquire takes the lock or returns ErrLockHeld.
func (l *leaseLock) Acquire(ttl time.Duration) error {
	owner := uuid.NewString()
	ok, err := l.store.SetNX(lockKey, []byte(owner), ttl)
	if err != nil {
		return fmt.Errorf("failed to acquire processor lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	l.owner = owner
	return nil
}

// Release frees the lock if this instance still owns it. A lease that
// expired and was re-acquired elsewhere is left alone.
func (l *leaseLock) Release() {
	if l.owner == "" {
		return
	}
	current, err := l.store.Get(lockKey)
	if err == store.ErrNotFound {
		l.owner = ""
		return
	}
	if err != nil {
		logrus.WithError(err).Warn("Failed to read processor lock during release")
		return
	}
	if string(current) != l.owner {
		logrus.Warn("Processor lock owner changed, skipping release")
		l.owner = ""
		return
	}
	if err := l.store.Delete(lockKey); err != nil {
		logrus.WithError(err).Warn("Failed to release processor lock")
		return
	}
	l.owner = ""
}

// ForceRelease deletes the lock regardless of owner. Operator escape hatch
// for a wedged lease.
func (l *leaseLock) ForceRelease() error {
	if err := l.store.Delete(lockKey); err != nil && err != store.ErrNotFound {
		return fmt.Errorf("failed to force-release processor lock: %w", err)
	}
	l.owner = ""
	return nil
}

// Held reports whether any instance currently holds the lock.
func (l *leaseLock) Held() (bool, error) {
	return l.store.Exists(lockKey)
}
