// Package lockfile implements the advisory on-disk lock-file registry
// (C4): for each mounted name, an open fd at <lock_dir>/<name>.lock
// holding a POSIX shared read lock over the whole file, with the
// daemon's PID written as text. Racing against a concurrently
// unlinked, dead inode is handled with the same retry protocol
// lockfile.c uses.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const maxDeadInodeRetries = 10

// Registry tracks one locked fd per mounted name. A nil *Registry
// (lock files disabled) makes Create, Remove and StopSet no-ops.
type Registry struct {
	dir string
	pid int

	mu      sync.Mutex
	entries map[string]*os.File

	stopMu sync.Mutex
	stop   bool
}

// New returns a registry rooted at dir, writing pid into every lock
// file it creates. dir is created if missing.
func New(dir string, pid int) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("lockfile: mkdir %s: %w", dir, err)
	}
	return &Registry{
		dir:     dir,
		pid:     pid,
		entries: make(map[string]*os.File),
	}, nil
}

// StopSet marks the registry as shutting down; in-progress Create
// back-off loops observe this and abort instead of retrying forever.
func (r *Registry) StopSet() {
	if r == nil {
		return
	}
	r.stopMu.Lock()
	r.stop = true
	r.stopMu.Unlock()
}

func (r *Registry) stopping() bool {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	return r.stop
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name+".lock")
}

// Create implements the 4-step protocol from spec.md §4.4: open,
// acquire F_RDLCK (retrying on EAGAIN/EACCES with back-off, aborting
// on shutdown), fstat to detect a dead inode left behind by a
// concurrent unlink (retried up to 10 times), then mark CLOEXEC and
// write the PID.
func (r *Registry) Create(name string) error {
	if r == nil {
		return nil
	}
	path := r.path(name)

	for attempt := 0; attempt < maxDeadInodeRetries; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("lockfile: open %s: %w", path, err)
		}

		if err := r.lockRetrying(f); err != nil {
			f.Close()
			return err
		}

		var st unix.Stat_t
		if err := unix.Fstat(int(f.Fd()), &st); err != nil {
			f.Close()
			return fmt.Errorf("lockfile: fstat %s: %w", path, err)
		}
		if st.Nlink == 0 {
			// Concurrent unlink raced us: this inode is dead.
			// Close and retry against a fresh path component.
			f.Close()
			continue
		}

		if _, err := unix.FcntlInt(f.Fd(), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
			f.Close()
			return fmt.Errorf("lockfile: set FD_CLOEXEC %s: %w", path, err)
		}

		if err := f.Truncate(0); err != nil {
			f.Close()
			return fmt.Errorf("lockfile: truncate %s: %w", path, err)
		}
		if _, err := f.WriteAt([]byte(fmt.Sprintf("%d \n", r.pid)), 0); err != nil {
			f.Close()
			return fmt.Errorf("lockfile: write pid %s: %w", path, err)
		}

		r.mu.Lock()
		r.entries[name] = f
		r.mu.Unlock()
		return nil
	}

	return fmt.Errorf("lockfile: %s: repeatedly raced a dying inode", path)
}

func (r *Registry) lockRetrying(f *os.File) error {
	backoff := 5 * time.Millisecond
	for {
		if r.stopping() {
			return fmt.Errorf("lockfile: shutting down")
		}
		lk := unix.Flock_t{Type: unix.F_RDLCK, Whence: 0, Start: 0, Len: 0}
		err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk)
		if err == nil {
			return nil
		}
		if err == unix.EAGAIN || err == unix.EACCES {
			time.Sleep(backoff)
			if backoff < 200*time.Millisecond {
				backoff *= 2
			}
			continue
		}
		return fmt.Errorf("lockfile: F_SETLK F_RDLCK: %w", err)
	}
}

// Remove implements the 3-step removal protocol: unhash, attempt a
// non-blocking upgrade to F_WRLCK (only succeeds if we are the sole
// shared-lock holder), unlink only if the upgrade succeeded, then
// close.
func (r *Registry) Remove(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	f, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	lk := unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}
	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &lk); err == nil {
		os.Remove(r.path(name))
	}
	f.Close()
}

// Has reports whether a lock entry exists for name, for tests.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}
