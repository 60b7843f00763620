// Package openat opens a path refusing to follow a symlink planted in
// its final component — the protection create_home_dir and
// copy_skel_file need before writing into a directory an
// unprivileged user could have pre-seeded with a symlink pointing
// somewhere autodird should never touch as root.
package openat

import "golang.org/x/sys/unix"

// OpenatNofollow is a symlink-safe syscall.Openat replacement.
//
// On Linux, it calls openat2(2) with RESOLVE_NO_SYMLINKS. This prevents following
// symlinks in any component of the path.
//
// On other platforms, it calls openat(2) with O_NOFOLLOW, which only
// protects the final path component.
func OpenatNofollow(dirfd int, path string, flags int, mode uint32) (fd int, err error) {
	return openatNofollow(dirfd, path, flags, mode)
}

// OpenNofollow is OpenatNofollow relative to the current working
// directory, for callers working with absolute paths that have no
// directory fd of their own.
func OpenNofollow(path string, flags int, mode uint32) (fd int, err error) {
	return openatNofollow(unix.AT_FDCWD, path, flags, mode)
}
