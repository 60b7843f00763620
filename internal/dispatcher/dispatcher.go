// Package dispatcher implements the core request loop (C11): it reads
// autofs v4 packets from the kernel pipe and hands each one to a
// bounded worker pool running handleMissing or handleExpire, the
// direct translations of autodir.c's handle_missing/handle_expire.
package dispatcher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fpl/autodird/internal/lockfile"
	"github.com/fpl/autodird/internal/logging"
	"github.com/fpl/autodird/internal/multipath"
	"github.com/fpl/autodird/internal/protocol"
	"github.com/fpl/autodird/internal/sanitize"
	"github.com/fpl/autodird/internal/workerpool"
	"github.com/fpl/autodird/internal/workon"
)

// Backup names the subset of the deferred backup queue the dispatcher
// needs — enqueue on successful expire. A nil Backup disables backups
// entirely (the -b/--backup option unset), matching do_backup <= 0.
type Backup interface {
	Enqueue(name, realPath string)
	DequeueOrWait(name string)
}

// BackupChildren names the subset of the backup child registry the
// dispatcher needs to cancel or wait out a backup already running for
// a name that just became live again.
type BackupChildren interface {
	Kill(name string)
	Wait(name string)
}

// Mounter performs the bind-mount/unmount syscalls handleMissing and
// umountDir need, split out from Kernel so tests can exercise the
// rest of the request handlers without real mount(2)/umount(2)
// privileges.
type Mounter interface {
	Bind(src, dst string) error
	Unmount(dst string) error
}

type unixMounter struct{}

func (unixMounter) Bind(src, dst string) error {
	return unix.Mount(src, dst, "", unix.MS_BIND, "")
}

func (unixMounter) Unmount(dst string) error {
	return unix.Unmount(dst, 0)
}

// Config carries the parts of the CLI configuration the dispatcher
// needs directly; the rest (module path, backup command line, etc.)
// is resolved into the collaborators passed to New.
type Config struct {
	Path        string // autofs mountpoint root (-d/--directory)
	MultiPath   bool   // -a/--multipath
	MultiPrefix byte   // -x/--prefix
	NoKill      bool   // -N/--no-kill
	Wait2Finish bool   // -n/--wait-for-backup

	MissingSlots, MissingMaxIdle, MissingMaxReuse int
	ExpireSlots, ExpireMaxIdle, ExpireMaxReuse    int
}

// Server is the running dispatcher: the C11 component.
type Server struct {
	cfg     Config
	kernel  Kernel
	module  Module
	mounter Mounter

	workon *workon.Registry
	locks  *lockfile.Registry
	multi  *multipath.Counter // nil unless cfg.MultiPath

	backup      Backup
	backupChild BackupChildren
	missingPool *workerpool.Pool
	expirePool  *workerpool.Pool
	pktPool     *protocol.Pool

	stopFlag     int32 // self.stop: reject new work, short-circuit backups
	shutdownFlag int32 // self.shutdown: set once the expire driver has drained
}

// New builds a Server. backup/backupChild may be nil (backup
// disabled); multi must be non-nil iff cfg.MultiPath is set. A nil
// mounter defaults to the real bind-mount/umount syscalls.
func New(cfg Config, kernel Kernel, module Module, mounter Mounter, workonReg *workon.Registry, locks *lockfile.Registry, multi *multipath.Counter, backup Backup, backupChild BackupChildren, pktPool *protocol.Pool) *Server {
	if mounter == nil {
		mounter = unixMounter{}
	}
	s := &Server{
		cfg:         cfg,
		kernel:      kernel,
		module:      module,
		mounter:     mounter,
		workon:      workonReg,
		locks:       locks,
		multi:       multi,
		backup:      backup,
		backupChild: backupChild,
		pktPool:     pktPool,
	}
	s.missingPool = workerpool.New(func(job interface{}) { s.handleMissing(job.(protocol.Missing)) },
		cfg.MissingSlots, cfg.MissingMaxIdle, cfg.MissingMaxReuse)
	s.expirePool = workerpool.New(func(job interface{}) { s.handleExpire(job.(protocol.ExpireMulti)) },
		cfg.ExpireSlots, cfg.ExpireMaxIdle, cfg.ExpireMaxReuse)
	return s
}

// MarkStopping records that a graceful shutdown has begun: new
// missing requests are refused outright and expiry no longer enqueues
// backups. It is the Go analogue of autodir.c's signal handler
// setting self.stop.
func (s *Server) MarkStopping() {
	atomic.StoreInt32(&s.stopFlag, 1)
}

func (s *Server) stopping() bool {
	return atomic.LoadInt32(&s.stopFlag) != 0
}

// MarkExpireDrained records that the expire driver has finished its
// graceful drain; Serve's read loop uses this, not MarkStopping, to
// decide when to stop waiting on the kernel pipe — wire this as the
// expire.Driver's onDrained callback (spec.md §9's "expire stops
// before missing" resolution).
func (s *Server) MarkExpireDrained() {
	atomic.StoreInt32(&s.shutdownFlag, 1)
}

func (s *Server) expireDrained() bool {
	return atomic.LoadInt32(&s.shutdownFlag) != 0
}

// Serve runs the main packet loop until the kernel pipe closes, an
// unsupported/unexpected packet forces an exit, or the expire driver
// has drained following a graceful shutdown request. It returns nil
// only in the graceful case.
func (s *Server) Serve() error {
	for {
		buf := s.pktPool.Allocate()
		err := s.readPacket(*buf)
		if err != nil {
			s.pktPool.Free(buf)
			if errors.Is(err, errGracefulStop) {
				return nil
			}
			return err
		}

		hdr, err := protocol.DecodeHeader(*buf)
		if err != nil {
			s.pktPool.Free(buf)
			continue
		}
		if hdr.ProtoVersion != protocol.ProtoVersion4 {
			s.pktPool.Free(buf)
			return fmt.Errorf("dispatcher: autofs protocol %d not supported", hdr.ProtoVersion)
		}

		switch hdr.Type {
		case protocol.TypeMissing:
			m, _ := protocol.DecodeMissing(*buf)
			s.pktPool.Free(buf)
			s.missingPool.Submit(m)
		case protocol.TypeExpireMulti:
			e, _ := protocol.DecodeExpireMulti(*buf)
			s.pktPool.Free(buf)
			s.expirePool.Submit(e)
		default:
			s.pktPool.Free(buf)
			return fmt.Errorf("dispatcher: unexpected autofs packet type %d", hdr.Type)
		}
	}
}

var errGracefulStop = errors.New("dispatcher: graceful stop")

// pollTimeout mirrors poll_read's 1000ms poll() timeout.
const pollTimeout = time.Second

func (s *Server) readPacket(buf []byte) error {
	for {
		err := s.kernel.PollRead(buf, pollTimeout)
		if err == nil {
			return nil
		}
		if err == ErrPollTimeout {
			if s.expireDrained() {
				return errGracefulStop
			}
			continue
		}
		return err
	}
}

// Stop waits for both worker pools to drain, mirroring
// thread_cache_stop(&self.expire_tc) followed by
// thread_cache_stop(&self.missing_tc). Callers should have already
// called MarkStopping, stopped the expire driver and waited for
// Serve to return before calling Stop.
func (s *Server) Stop() {
	s.expirePool.Stop()
	s.missingPool.Stop()
}

// missing_exit's SEND_READY/SEND_FAIL outcome, expressed as release
// behavior for the workon gates a handleMissing call holds.
func (s *Server) releaseMissing(hmname, hname *workon.Handle, wqt uint32, ready bool) {
	if ready {
		if err := s.kernel.Ready(wqt); err != nil {
			logging.Err("ioctl AUTOFS_IOC_READY: %v", err)
		}
	} else {
		if err := s.kernel.Fail(wqt); err != nil {
			logging.Err("ioctl AUTOFS_IOC_FAIL: %v", err)
		}
	}
	if hmname != nil {
		hmname.Release()
	}
	if hname != nil {
		hname.Release()
	}
}

// handleMissing implements spec.md §4.11's missing-directory handler:
// validate, gate on name (and its multipath alias), cancel or wait out
// any pending backup, materialize and bind-mount the real directory.
func (s *Server) handleMissing(m protocol.Missing) {
	wqt := m.WaitQueueToken

	if !protocol.Valid(m.Len, m.Name) {
		s.releaseMissing(nil, nil, wqt, false)
		return
	}
	mname := protocol.NameString(m.Len, m.Name)

	if s.stopping() {
		s.releaseMissing(nil, nil, wqt, false)
		return
	}

	mname = sanitize.Printable(mname)
	name := mname
	if s.cfg.MultiPath && len(mname) > 0 && mname[0] == s.cfg.MultiPrefix {
		name = mname[1:]
	}
	if name == "" {
		logging.Notice("invalid directory '%s' requested", mname)
		s.releaseMissing(nil, nil, wqt, false)
		return
	}

	hmname := s.workon.Acquire(mname)

	s.backupRemove(name, name != mname)

	var hname *workon.Handle
	if name != mname {
		hname = s.workon.Acquire(name)
	}

	vpath := filepath.Join(s.cfg.Path, mname)
	st, statErr := os.Lstat(vpath)
	switch {
	case statErr != nil && !os.IsNotExist(statErr):
		logging.Err("handle_missing: lstat %s: %v", vpath, statErr)
		s.releaseMissing(hmname, hname, wqt, false)
		return
	case statErr == nil:
		if !st.IsDir() {
			logging.Alert("handle_missing: unexpected file type %s", vpath)
			s.releaseMissing(hmname, hname, wqt, false)
			return
		}
		if devOf(st) != s.kernel.Dev() {
			// Already mounted (or otherwise handled) by someone
			// else; nothing left for us to do.
			s.releaseMissing(hmname, hname, wqt, true)
			return
		}
		// Same device: an empty directory still sitting on the
		// autofs filesystem itself. Fall through and do the work
		// as if it had not existed.
	default:
		if err := os.Mkdir(vpath, 0700); err != nil {
			logging.Err("handle_missing: mkdir %s: %v", vpath, err)
			s.releaseMissing(hmname, hname, wqt, false)
			return
		}
	}

	if err := s.locks.Create(mname); err != nil {
		logging.Err("handle_missing: could not get lock file for %s: %v", mname, err)
		os.Remove(vpath)
		s.releaseMissing(hmname, hname, wqt, false)
		return
	}

	realPath, ok := s.module.DoWork(name, s.cfg.Path)
	if !ok {
		logging.Alert("module %s failed on %s", s.module.Name(), name)
		os.Remove(vpath)
		s.locks.Remove(mname)
		s.releaseMissing(hmname, hname, wqt, false)
		return
	}

	logging.Info("mounting %s on %s", realPath, vpath)
	if err := s.mounter.Bind(realPath, vpath); err != nil {
		logging.Err("handle_missing: mount %s: %v", realPath, err)
		os.Remove(vpath)
		s.locks.Remove(mname)
		s.releaseMissing(hmname, hname, wqt, false)
		return
	}

	if s.multi != nil {
		if !s.multi.Increment(name) {
			s.mounter.Unmount(vpath)
			os.Remove(vpath)
			s.locks.Remove(mname)
			s.releaseMissing(hmname, hname, wqt, false)
			return
		}
	}

	s.releaseMissing(hmname, hname, wqt, true)
}

// backupRemove implements backup_remove: cancel (or wait out) any
// pending or running backup for name before the directory is about
// to become live again. force mirrors "name != mname" at the call
// site — a multipath alias request always kills outright rather than
// honoring -n/--wait-for-backup.
func (s *Server) backupRemove(name string, force bool) {
	if s.cfg.NoKill || s.backup == nil {
		return
	}
	s.backup.DequeueOrWait(name)
	if s.backupChild == nil {
		return
	}
	if s.cfg.Wait2Finish && !force {
		s.backupChild.Wait(name)
	} else {
		s.backupChild.Kill(name)
	}
}

// umount result codes, mirroring UMOUNT_ERROR/UMOUNT_SUCCESS/UMOUNT_NOCHANGE.
const (
	umountError = iota
	umountSuccess
	umountNoChange
)

func (s *Server) umountDir(path string) int {
	st, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return umountSuccess
		}
		logging.Err("umount_dir: lstat %s: %v", path, err)
		return umountError
	}
	if !st.IsDir() {
		logging.Alert("umount_dir: not directory: %s", path)
		return umountError
	}
	if devOf(st) != s.kernel.Dev() {
		if err := s.mounter.Unmount(path); err != nil {
			logging.Notice("umount %s: %v", path, err)
			if err == unix.EBUSY {
				return umountNoChange
			}
		}
	}
	if err := os.Remove(path); err != nil {
		logging.Err("umount_dir: rmdir %s: %v", path, err)
		return umountError
	}
	return umountSuccess
}

// handleExpire implements spec.md §4.11's expire handler: unmount the
// idle directory, release its lock file, and (unless a live multipath
// alias remains, or shutdown is underway) enqueue it for backup.
func (s *Server) handleExpire(e protocol.ExpireMulti) {
	wqt := e.WaitQueueToken

	if !protocol.Valid(e.Len, e.Name) {
		if err := s.kernel.Fail(wqt); err != nil {
			logging.Err("ioctl AUTOFS_IOC_FAIL: %v", err)
		}
		return
	}
	name := sanitize.Printable(protocol.NameString(e.Len, e.Name))

	h := s.workon.Acquire(name)
	defer h.Release()

	vpath := filepath.Join(s.cfg.Path, name)
	logging.Info("unmounting %s", vpath)
	result := s.umountDir(vpath)

	switch result {
	case umountSuccess:
		realPath := s.module.RealDir(vpath, name)
		s.locks.Remove(name)

		canonical := name
		if s.multi != nil && len(name) > 0 && name[0] == s.cfg.MultiPrefix {
			canonical = name[1:]
		}
		if s.multi != nil {
			if s.multi.Decrement(canonical) == 0 && !s.stopping() {
				if s.backup != nil {
					s.backup.Enqueue(canonical, realPath)
				}
			}
		} else if !s.stopping() {
			if s.backup != nil {
				s.backup.Enqueue(name, realPath)
			}
		}

		if err := s.kernel.Ready(wqt); err != nil {
			logging.Err("ioctl AUTOFS_IOC_READY: %v", err)
		}
	case umountNoChange:
		if err := s.kernel.Ready(wqt); err != nil {
			logging.Err("ioctl AUTOFS_IOC_READY: %v", err)
		}
	default:
		if err := s.kernel.Fail(wqt); err != nil {
			logging.Err("ioctl AUTOFS_IOC_FAIL: %v", err)
		}
	}
}

// UnmountAll tears down every directory still mounted beneath the
// autofs root, for the final shutdown sweep (umount_all). Entries
// that fail to unmount are logged and left behind.
func (s *Server) UnmountAll() {
	entries, err := os.ReadDir(s.cfg.Path)
	if err != nil {
		logging.Err("umount_all: readdir %s: %v", s.cfg.Path, err)
		return
	}
	for _, de := range entries {
		path := filepath.Join(s.cfg.Path, de.Name())
		if s.umountDir(path) != umountSuccess {
			logging.Warning("could not unmount %s", path)
			continue
		}
		s.locks.Remove(de.Name())
	}
}

func devOf(st os.FileInfo) uint64 {
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint64(sys.Dev)
}
