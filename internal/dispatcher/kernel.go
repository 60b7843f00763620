package dispatcher

import (
	"errors"
	"time"

	"github.com/fpl/autodird/internal/expire"
)

// ErrPollTimeout is returned by Kernel.PollRead when no packet became
// available within the requested timeout, so the caller can recheck
// its shutdown flag between polls — the Go shape of poll_read's
// `poll(..., 1000)` loop in autodir.c.
var ErrPollTimeout = errors.New("dispatcher: poll timeout")

// ErrPipeClosed indicates the kernel end of the autofs pipe went
// away — normally unrecoverable; the daemon should exit.
var ErrPipeClosed = errors.New("dispatcher: kernel pipe closed")

// Kernel is the autofs v4 kernel interface the dispatcher drives: the
// mounted pipe it reads request packets from, and the ioctl calls
// that reply to a wait_queue_token or ask the kernel to expire an
// idle mount. A real implementation (mount_linux.go) owns an actual
// "autofs" mount; tests substitute a fake.
type Kernel interface {
	expire.Ioctl

	// Ready acknowledges wait_queue_token wqt: the blocked lookup in
	// the kernel may proceed.
	Ready(wqt uint32) error
	// Fail acknowledges wqt with failure: the blocked lookup returns
	// an error (usually ENOENT) to its caller.
	Fail(wqt uint32) error
	// PollRead reads exactly len(buf) bytes from the kernel pipe,
	// blocking across reads for up to timeout with no data before
	// returning ErrPollTimeout. Any other non-nil error, ErrPipeClosed
	// included, should be treated as fatal.
	PollRead(buf []byte, timeout time.Duration) error
	// Dev returns the device id autofs assigned this mountpoint,
	// used to tell a plain directory on the autofs filesystem itself
	// apart from something already mounted over it.
	Dev() uint64
	// Close puts the mount into catatonic mode, closes the ioctl and
	// pipe fds, and unmounts the autofs mountpoint itself.
	Close() error
}

// Module materializes and tears down the real directory backing an
// autofs name (C12). A real implementation loads a shared-object
// plugin per spec.md §4.12; tests substitute a fake or one of the
// builtin policies.
type Module interface {
	// Name identifies the loaded module for logging.
	Name() string
	// DoWork materializes (creating if necessary) the real directory
	// that name should be bind-mounted from, returning its absolute
	// path. autofsPath is the autofs mountpoint root.
	DoWork(name, autofsPath string) (realPath string, ok bool)
	// RealDir maps an autofs-side path back to the real directory
	// backing name, for use once the bind mount has already been torn
	// down (spec.md §4.11's expire handler, before enqueuing a
	// backup).
	RealDir(autofsPath, name string) string
	// Close releases any resources the module holds.
	Close()
}
