package dispatcher

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fpl/autodird/internal/autofsioctl"
	"github.com/fpl/autodird/internal/logging"
)

// unixKernel is the real Kernel: an actual "autofs" mount, its kernel
// pipe, and the ioctl fd opened on its root directory. Grounded on
// mount_autodir/poll_read/autodir_clean in autodir.c, the way
// fuse/mount_linux.go owns the real fusermount-based mount lifecycle
// for this repo's FUSE server.
type unixKernel struct {
	path    string
	kPipe   *os.File
	ioctlFd int
	dev     uint64
}

// MountAutofs mounts an "autofs" filesystem at path with the given
// protocol range and returns the Kernel driving it. pgrp/pid feed the
// mount options exactly as mount_autodir does (fd, pgrp, minproto,
// maxproto), and the daemon's display name becomes part of the
// autofs source field for "mount" output.
func MountAutofs(path, displayName string, pgrp, pid, minProto, maxProto int) (*unixKernel, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: pipe: %w", err)
	}

	options := fmt.Sprintf("fd=%d,pgrp=%d,minproto=%d,maxproto=%d", int(pw.Fd()), pgrp, minProto, maxProto)
	source := fmt.Sprintf("%s(pid%d)", displayName, pid)

	if err := unix.Mount(source, path, "autofs", unix.MS_MGC_VAL, options); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("dispatcher: mount %s (incorrect autofs module loaded?): %w", path, err)
	}
	pw.Close() // kernel holds its own copy across the mount(2) call

	if err := unix.SetNonblock(int(pr.Fd()), true); err != nil {
		pr.Close()
		return nil, fmt.Errorf("dispatcher: set kernel pipe nonblocking: %w", err)
	}

	ioctlFd, err := unix.Open(path+"/.", unix.O_RDONLY, 0)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("dispatcher: open %s/.: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(ioctlFd, &st); err != nil {
		unix.Close(ioctlFd)
		pr.Close()
		return nil, fmt.Errorf("dispatcher: fstat %s/.: %w", path, err)
	}

	return &unixKernel{path: path, kPipe: pr, ioctlFd: ioctlFd, dev: uint64(st.Dev)}, nil
}

func (k *unixKernel) Ready(wqt uint32) error { return autofsioctl.Ready(k.ioctlFd, wqt) }
func (k *unixKernel) Fail(wqt uint32) error  { return autofsioctl.Fail(k.ioctlFd, wqt) }
func (k *unixKernel) ExpireMulti() error     { return autofsioctl.ExpireMulti(k.ioctlFd) }
func (k *unixKernel) Dev() uint64            { return k.dev }

// ProtocolVersion reads back the autofs protocol version the kernel
// negotiated at mount time, for the startup check against
// protocol.ProtoVersion4.
func (k *unixKernel) ProtocolVersion() (int32, error) {
	return autofsioctl.ProtocolVersion(k.ioctlFd)
}

// SetTimeout installs the kernel-side idle-expire timeout for mounts
// beneath this mountpoint.
func (k *unixKernel) SetTimeout(seconds uint64) error {
	return autofsioctl.SetTimeout(k.ioctlFd, seconds)
}

// PollRead fills buf from the kernel pipe, polling in pollTimeout-ish
// increments so the caller can recheck its own shutdown flag between
// waits — the Go shape of poll_read's bounded poll() loop.
func (k *unixKernel) PollRead(buf []byte, timeout time.Duration) error {
	fd := int(k.kPipe.Fd())
	pfds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	ms := int(timeout / time.Millisecond)

	got := 0
	for got < len(buf) {
		n, err := unix.Poll(pfds, ms)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("dispatcher: poll: %w", err)
		}
		if n == 0 {
			return ErrPollTimeout
		}

		nr, err := unix.Read(fd, buf[got:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				time.Sleep(time.Second)
				continue
			}
			return fmt.Errorf("dispatcher: read: %w", err)
		}
		if nr == 0 {
			return ErrPipeClosed
		}
		got += nr
	}
	return nil
}

// Close puts the mount into catatonic mode (so any late kernel
// request fails fast instead of blocking forever), closes both fds,
// and unmounts the autofs mountpoint itself — autodir_clean's
// kernel-facing half.
func (k *unixKernel) Close() error {
	if k.ioctlFd >= 0 {
		if err := autofsioctl.SetCatatonic(k.ioctlFd); err != nil {
			logging.Err("ioctl AUTOFS_IOC_CATATONIC: %v", err)
		}
		unix.Close(k.ioctlFd)
	}
	if k.kPipe != nil {
		k.kPipe.Close()
	}
	if err := unix.Unmount(k.path, 0); err != nil {
		return fmt.Errorf("dispatcher: umount %s: %w", k.path, err)
	}
	return nil
}
