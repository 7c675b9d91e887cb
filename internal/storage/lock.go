// lock.go implements per-document advisory lock files. A lock is a
// sibling ".lock" file created exclusively; a holder that died is
// recovered by a staleness timeout rather than blocking forever.
package storage

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// lockStaleAfter is how old a lock file may be before it is presumed
	// abandoned and broken.
	lockStaleAfter = 10 * time.Second
	// lockRetryInterval paces acquisition attempts.
	lockRetryInterval = 50 * time.Millisecond
	// lockAcquireTimeout bounds how long acquire waits overall.
	lockAcquireTimeout = 15 * time.Second
)

// ErrLockTimeout is returned when a document lock cannot be acquired
// within the acquisition window.
var ErrLockTimeout = errors.New("storage: timed out acquiring document lock")

type fileLocker struct {
	root string
	now  func() time.Time
}

func newFileLocker(root string) *fileLocker {
	return &fileLocker{root: root, now: time.Now}
}

// acquire takes the advisory lock for the given absolute document path,
// returning a release func. Stale locks are broken in passing.
func (l *fileLocker) acquire(full string) (func(), error) {
	lockPath := full + ".lock"
	deadline := l.now().Add(lockAcquireTimeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			stamp := strconv.FormatInt(l.now().UnixNano(), 10)
			_, _ = f.WriteString(stamp)
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", lockPath, err)
		}

		if l.breakIfStale(lockPath) {
			continue
		}
		if l.now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, full)
		}
		time.Sleep(lockRetryInterval)
	}
}

// breakIfStale removes the lock file when its timestamp (or mtime as a
// fallback) is older than the staleness bound. Returns true if broken.
func (l *fileLocker) breakIfStale(lockPath string) bool {
	var created time.Time

	data, err := os.ReadFile(lockPath)
	if err == nil {
		if nanos, perr := strconv.ParseInt(string(data), 10, 64); perr == nil {
			created = time.Unix(0, nanos)
		}
	}
	if created.IsZero() {
		info, serr := os.Stat(lockPath)
		if serr != nil {
			// Already gone; treat as broken so the caller retries.
			return true
		}
		created = info.ModTime()
	}

	if l.now().Sub(created) < lockStaleAfter {
		return false
	}
	_ = os.Remove(lockPath)
	return true
}
