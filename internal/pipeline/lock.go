package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// acquire takes the in-process guard and, when configured, the lock file that
// keeps separate processes from scanning the same data dir at once.
func (p *Pipeline) acquire() (func(), error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrLocked
	}
	if p.opts.LockPath == "" {
		return func() { p.running.Store(false) }, nil
	}

	if err := os.MkdirAll(filepath.Dir(p.opts.LockPath), 0o755); err != nil {
		p.running.Store(false)
		return nil, fmt.Errorf("scan lock dir: %w", err)
	}
	// a fresh handle per cycle: gofrs/flock reports success when the same
	// handle is locked twice
	fl := flock.New(p.opts.LockPath)
	ok, err := fl.TryLock()
	if err != nil {
		p.running.Store(false)
		return nil, fmt.Errorf("scan lock: %w", err)
	}
	if !ok {
		p.running.Store(false)
		return nil, ErrLocked
	}
	return func() {
		_ = fl.Unlock()
		p.running.Store(false)
	}, nil
}
