// Package autofsioctl encodes the ioctl request numbers the autofs v4
// kernel module expects on the root-directory fd returned by mounting
// an "autofs" filesystem: AUTOFS_IOC_READY, _FAIL, _CATATONIC,
// _PROTOVER, _SETTIMEOUT and _EXPIRE_MULTI from
// linux/auto_fs.h/linux/auto_fs4.h.
//
// Go has no vendored copy of those uapi headers, so the request codes
// are recomputed here from the same _IO/_IOR/_IOW/_IOWR encoding the
// kernel headers use (type 0x93, the historical autofs magic).
package autofsioctl

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	dirNone  = 0
	dirWrite = 1
	dirRead  = 2
	dirBoth  = 3

	ioctlType = 0x93
)

func encode(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | ioctlType<<8 | nr
}

// Request numbers, computed to match linux/auto_fs.h and
// linux/auto_fs4.h.
var (
	reqReady       = encode(dirNone, 0x60, 0)
	reqFail        = encode(dirNone, 0x61, 0)
	reqCatatonic   = encode(dirNone, 0x62, 0)
	reqProtoVer    = encode(dirRead, 0x63, 4)
	reqSetTimeout  = encode(dirBoth, 0x64, 8)
	reqExpireMulti = encode(dirWrite, 0x66, 4)
)

// Ready tells the kernel a wait_queue_token's blocked lookup may
// proceed.
func Ready(fd int, token uint32) error {
	return call(fd, reqReady, uintptr(token))
}

// Fail tells the kernel a wait_queue_token's blocked lookup failed.
func Fail(fd int, token uint32) error {
	return call(fd, reqFail, uintptr(token))
}

// SetCatatonic puts the mount into catatonic mode: the kernel stops
// sending packets and fails any pending or future request outright.
// Called once during shutdown, after the daemon has stopped reading
// the kernel pipe.
func SetCatatonic(fd int) error {
	return call(fd, reqCatatonic, 0)
}

// ProtocolVersion returns the autofs protocol version negotiated at
// mount time.
func ProtocolVersion(fd int) (int32, error) {
	var version int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), reqProtoVer, uintptr(unsafe.Pointer(&version)))
	if errno != 0 {
		return 0, errno
	}
	return version, nil
}

// SetTimeout sets the kernel's idle-expire timeout for mounts beneath
// this autofs mountpoint, in seconds. 0 disables expiry.
func SetTimeout(fd int, seconds uint64) error {
	v := seconds
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), reqSetTimeout, uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return errno
	}
	return nil
}

// ExpireMulti asks the kernel to expire one idle mount beneath this
// autofs mountpoint. A nil error means a candidate was found and an
// expire_multi packet will be delivered on the kernel pipe;
// unix.EAGAIN (wrapped) means none currently qualifies.
func ExpireMulti(fd int) error {
	var arg int32 = -1
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), reqExpireMulti, uintptr(unsafe.Pointer(&arg)))
	if errno != 0 {
		return fmt.Errorf("ioctl EXPIRE_MULTI: %w", errno)
	}
	return nil
}

func call(fd int, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}
