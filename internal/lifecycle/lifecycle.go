// Package lifecycle drives autodird's startup-to-shutdown sequencing
// (C13): a dedicated signal-watching goroutine standing in for
// signal_handle's sigwait thread, and the ordered teardown autodir.c's
// main runs once handle_events returns, whether that happens because
// of a caught signal or because the kernel pipe went away on its own.
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fpl/autodird/internal/backupchild"
	"github.com/fpl/autodird/internal/backupqueue"
	"github.com/fpl/autodird/internal/dispatcher"
	"github.com/fpl/autodird/internal/expire"
	"github.com/fpl/autodird/internal/lockfile"
	"github.com/fpl/autodird/internal/logging"
)

// ignoredSignals mirrors signal_handle's sigwait loop: these never
// trigger a shutdown, either because something else already reaps
// them (SIGCHLD) or because the daemon has no use for them (the rest).
var ignoredSignals = map[os.Signal]bool{
	syscall.SIGUSR1: true,
	syscall.SIGCHLD: true,
	syscall.SIGALRM: true,
	syscall.SIGHUP:  true,
	syscall.SIGPIPE: true,
}

// Manager owns every collaborator that needs a coordinated shutdown
// signal and runs the daemon's main loop plus its teardown.
type Manager struct {
	Dispatcher     *dispatcher.Server
	Expire         *expire.Driver
	Locks          *lockfile.Registry
	Backup         *backupqueue.Queue    // nil when -b/--backup is unset
	BackupChildren *backupchild.Registry // nil when -b/--backup is unset
	Kernel         dispatcher.Kernel
	Module         dispatcher.Module
	PidFile        string

	stopOnce sync.Once
}

// Run starts the signal watcher, runs the dispatcher's packet loop to
// completion, and then drives the shutdown sequence regardless of why
// Serve returned. It returns Serve's error (nil on a graceful stop).
func (m *Manager) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh)
	defer signal.Stop(sigCh)

	go m.watchSignals(sigCh)

	err := m.Dispatcher.Serve()
	m.shutdown()
	return err
}

func (m *Manager) watchSignals(sigCh <-chan os.Signal) {
	for sig := range sigCh {
		if ignoredSignals[sig] {
			continue
		}
		logging.Notice("signal received %v", sig)
		m.beginStop()
		return
	}
}

// beginStop marks every collaborator as shutting down, exactly once:
// the Go analogue of self.stop = 1; backup_stop_set(); lockfile_stop_set();
// expire_stop_set(). Safe to call from both the signal watcher and
// Serve's own natural return, whichever happens first.
func (m *Manager) beginStop() {
	m.stopOnce.Do(func() {
		m.Dispatcher.MarkStopping()
		m.Locks.StopSet()
		m.Expire.StopSet()
	})
}

// shutdown runs the rest of autodir.c main's post-handle_events
// sequence: wait for the expire driver to fully drain (it is what
// eventually lets Serve's read loop return in the signal-triggered
// case), then tear down backups, worker pools, mounts, and the
// autofs/kernel pipe itself, in that order.
func (m *Manager) shutdown() {
	m.beginStop()
	m.Expire.Wait()

	logging.Info("shutting down")

	if m.Backup != nil {
		m.Backup.Stop()
	}
	if m.BackupChildren != nil {
		m.BackupChildren.Stop()
	}

	m.Dispatcher.Stop()
	m.Dispatcher.UnmountAll()

	if err := m.Kernel.Close(); err != nil {
		logging.Err("lifecycle: kernel close: %v", err)
	}
	m.Module.Close()

	if m.PidFile != "" {
		if err := os.Remove(m.PidFile); err != nil && !os.IsNotExist(err) {
			logging.Err("lifecycle: remove pidfile %s: %v", m.PidFile, err)
		}
	}
}
