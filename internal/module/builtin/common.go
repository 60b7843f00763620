// Package builtin implements the two in-process materialization
// policies the original ships as separate loadable modules
// (src/modules/autohome.c, src/modules/automisc.c): per-user home
// directories with skeleton-directory population, and a flat
// passthrough directory for everything else. cmd/autodird selects one
// of these directly, in process, when -m/--module names "home" or
// "misc" instead of an absolute .so path, so the common case needs no
// plugin build at all.
package builtin

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/fpl/autodird/internal/logging"
	"github.com/fpl/autodird/internal/sanitize"
)

// modeAll mirrors autohome.c/automisc.c's MODE_ALL: the permission and
// set-id/sticky bits a mode suboption is allowed to carry.
const modeAll = 07777

// subopts parses a getsubopt-style "key=value,flag,key2=value2"
// string the way module.c's -o/--options argument is handed to each
// loaded module's module_init.
func subopts(s string) map[string]string {
	opts := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			opts[part[:i]] = part[i+1:]
		} else {
			opts[part] = ""
		}
	}
	return opts
}

func parseLevel(s string, dflt int) (int, error) {
	if s == "" {
		return dflt, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid level suboption %q", s)
	}
	if n > 2 {
		return 0, fmt.Errorf("invalid level suboption %q: must be <= 2", s)
	}
	return n, nil
}

// parseMode parses an octal mode string the way octal_string2dec does
// in miscfuncs.c, 3-4 digits, rejecting anything outside modeAll.
func parseMode(s string, dflt os.FileMode) (os.FileMode, error) {
	if s == "" {
		return dflt, nil
	}
	if len(s) < 3 || len(s) > 4 {
		return 0, fmt.Errorf("invalid octal mode value %q", s)
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v&^uint64(modeAll) != 0 {
		return 0, fmt.Errorf("invalid octal mode value %q", s)
	}
	return os.FileMode(v), nil
}

func lookupUID(name string) (uint32, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("no user found with name %s", name)
	}
	n, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("lookupUID: %s: %w", name, err)
	}
	return uint32(n), nil
}

func lookupGID(name string) (uint32, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("no group found with name %s", name)
	}
	n, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("lookupGID: %s: %w", name, err)
	}
	return uint32(n), nil
}

// shardedPath mirrors module_dir, common to both autohome.c and
// automisc.c: split the real directory into one or two letter-keyed
// subdirectories of realpath so a single directory doesn't end up
// with tens of thousands of entries.
func shardedPath(realpath string, level int, name string) string {
	a := lowerByte(name[0])
	switch level {
	case 0:
		return realpath + "/" + name
	case 1:
		return realpath + "/" + string(a) + "/" + name
	default:
		b := a
		if len(name) > 1 {
			b = lowerByte(name[1])
		}
		return realpath + "/" + string(a) + "/" + string([]byte{a, b}) + "/" + name
	}
}

func lowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

// createDir mirrors create_dir: mkdir every missing path component
// with mode, tolerating EEXIST at each level. os.MkdirAll already
// implements exactly this walk-and-mkdir loop.
func createDir(dir string, mode os.FileMode) error {
	return os.MkdirAll(dir, mode)
}

// fixOwnerAndMode reconciles an existing directory's owner/group/mode
// against the wanted values, logging and continuing on any individual
// chown/chmod failure the way create_home_dir/create_misc_dir do
// (best-effort repair, never fatal to the request).
func fixOwnerAndMode(path string, st os.FileInfo, uid, gid uint32, mode os.FileMode) {
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	if sys.Uid != uid || sys.Gid != gid {
		logging.Alert("%s is not owned by the expected user/group. fixing", path)
		if err := os.Chown(path, int(uid), int(gid)); err != nil {
			logging.Err("chown %s: %v", path, err)
		}
	}
	if modeBits(st.Mode()) != uint32(mode) {
		logging.Alert("unexpected permissions for %s. fixing", path)
		if err := os.Chmod(path, mode); err != nil {
			logging.Err("chmod %s: %v", path, err)
		}
	}
}

// modeBits collapses a Go FileMode's permission and special bits back
// into the raw 12-bit value MODE_ALL masks in the original (S_ISUID,
// S_ISGID, S_ISVTX, and the nine rwx bits), for comparison against a
// suboption parsed straight from an octal string.
func modeBits(m os.FileMode) uint32 {
	v := uint32(m.Perm())
	if m&os.ModeSetuid != 0 {
		v |= 04000
	}
	if m&os.ModeSetgid != 0 {
		v |= 02000
	}
	if m&os.ModeSticky != 0 {
		v |= 01000
	}
	return v
}

func validateName(name string) error {
	if name == "" || len(name) > sanitize.NameMax {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}
