package builtin

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/fpl/autodird/internal/logging"
	"github.com/fpl/autodird/internal/module"
	"github.com/fpl/autodird/internal/openat"
)

const (
	homeName             = "home"
	homeStampFile        = ".autohome"
	defaultHomeRealPath  = "/autohome"
	defaultHomeSkel      = "/etc/skel"
	defaultHomeLevel     = 2
	defaultHomeMode      = os.FileMode(0700)
	skelFileMaxCopyBytes = 1024 * 1024
)

type homeConfig struct {
	realpath     string
	skel         string
	renamedir    string
	noSkel       bool
	level        int
	mode         os.FileMode
	noCheck      bool
	noSkelCheck  bool
	noHomeCheck  bool
	fastMode     bool
	hasOwner     bool
	owner        uint32
	hasGroup     bool
	group        uint32
}

// home implements module.Module as the autohome.c-equivalent builtin:
// one real directory per system user, sharded under realpath, skeleton
// directory populated on first creation.
type home struct {
	cfg homeConfig
}

// NewHome builds the "home" builtin materialization policy. subopt is
// parsed the same sub-option grammar autohome.c's option_process uses:
// realpath, skel, noskel, level, mode, nocheck, noskelcheck,
// nohomecheck, owner, group, fastmode, renamedir.
func NewHome(subopt, autofsPath string) (module.Module, error) {
	opts := subopts(subopt)
	cfg := homeConfig{
		realpath: defaultHomeRealPath,
		skel:     defaultHomeSkel,
		level:    defaultHomeLevel,
		mode:     defaultHomeMode,
	}

	if v, ok := opts["realpath"]; ok {
		cfg.realpath = v
	}
	_, cfg.noSkel = opts["noskel"]
	if v, ok := opts["skel"]; ok {
		cfg.skel = v
	}
	if v, ok := opts["level"]; ok {
		level, err := parseLevel(v, defaultHomeLevel)
		if err != nil {
			return nil, fmt.Errorf("module home: %w", err)
		}
		cfg.level = level
	}
	if v, ok := opts["mode"]; ok {
		mode, err := parseMode(v, defaultHomeMode)
		if err != nil {
			return nil, fmt.Errorf("module home: %w", err)
		}
		cfg.mode = mode
	}
	_, cfg.noCheck = opts["nocheck"]
	_, cfg.noSkelCheck = opts["noskelcheck"]
	_, cfg.noHomeCheck = opts["nohomecheck"]
	_, cfg.fastMode = opts["fastmode"]
	if v, ok := opts["renamedir"]; ok {
		cfg.renamedir = v
	}
	if v, ok := opts["owner"]; ok {
		uid, err := lookupUID(v)
		if err != nil {
			return nil, fmt.Errorf("module home: %w", err)
		}
		cfg.owner, cfg.hasOwner = uid, true
	}
	if v, ok := opts["group"]; ok {
		gid, err := lookupGID(v)
		if err != nil {
			return nil, fmt.Errorf("module home: %w", err)
		}
		cfg.group, cfg.hasGroup = gid, true
	}

	if err := createDir(cfg.realpath, 0700); err != nil {
		return nil, fmt.Errorf("module home: could not create real path %s: %w", cfg.realpath, err)
	}
	if cfg.renamedir != "" {
		if err := createDir(cfg.renamedir, 0700); err != nil {
			return nil, fmt.Errorf("module home: could not create renamedir %s: %w", cfg.renamedir, err)
		}
	}
	if autofsPath == cfg.realpath {
		return nil, fmt.Errorf("module home: home base %q and real path are the same", autofsPath)
	}

	return &home{cfg: cfg}, nil
}

func (h *home) Name() string { return homeName }

func (h *home) RealDir(_ string, name string) string {
	return shardedPath(h.cfg.realpath, h.cfg.level, name)
}

func (h *home) DoWork(name, autofsPath string) (string, bool) {
	if err := validateName(name); err != nil {
		logging.Err("module home: %v", err)
		return "", false
	}

	realHome := shardedPath(h.cfg.realpath, h.cfg.level, name)

	if h.cfg.fastMode {
		if _, err := os.Stat(realHome); err == nil {
			return realHome, true
		}
	}

	u, err := user.Lookup(name)
	if err != nil {
		logging.Warning("module home: no user found with name %s", name)
		return "", false
	}
	uid, _ := strconv.ParseUint(u.Uid, 10, 32)
	gid, _ := strconv.ParseUint(u.Gid, 10, 32)
	if h.cfg.hasOwner {
		uid = uint64(h.cfg.owner)
	}
	if h.cfg.hasGroup {
		gid = uint64(h.cfg.group)
	}

	if !h.cfg.noHomeCheck {
		want := filepath.Join(autofsPath, name)
		if u.HomeDir != want {
			logging.Notice("module home: home dirs %s,%s do not match", u.HomeDir, want)
			return "", false
		}
	}

	if !h.createHomeDir(name, realHome, uint32(uid), uint32(gid)) {
		return "", false
	}
	return realHome, true
}

func (h *home) createHomeDir(name, realHome string, uid, gid uint32) bool {
	st, err := os.Lstat(realHome)
	if err == nil {
		if !st.IsDir() {
			logging.Alert("module home: %s exists but is not a directory", realHome)
			return false
		}
		if h.cfg.noCheck {
			return true
		}
		fixOwnerAndMode(realHome, st, uid, gid, h.cfg.mode)
		if !h.cfg.noSkel {
			stamp := filepath.Join(realHome, homeStampFile)
			if _, err := os.Lstat(stamp); os.IsNotExist(err) {
				h.copySkel(realHome, uid, gid)
			}
		}
		return true
	}
	if !os.IsNotExist(err) {
		logging.Err("module home: lstat %s: %v", realHome, err)
		return false
	}

	logging.Info("module home: creating home %s", realHome)
	if err := createDir(realHome, 0700); err != nil {
		logging.Err("module home: mkdir %s: %v", realHome, err)
		return false
	}
	if !h.cfg.noSkel {
		h.copySkel(realHome, uid, gid)
	}
	if err := os.Chmod(realHome, h.cfg.mode); err != nil {
		logging.Err("module home: chmod %s: %v", realHome, err)
		return false
	}
	if err := os.Chown(realHome, int(uid), int(gid)); err != nil {
		logging.Err("module home: chown %s: %v", realHome, err)
		return false
	}
	return true
}

// copySkel walks h.cfg.skel into dst, the Go equivalent of
// copy_skel/copy_skel_dir/copy_skel_file's recursive tree copy, then
// drops the stamp file that marks home construction complete.
func (h *home) copySkel(dst string, uid, gid uint32) {
	src := h.cfg.skel
	st, err := os.Lstat(src)
	if err != nil {
		logging.Err("module home: lstat %s: %v", src, err)
		return
	}
	if !st.IsDir() {
		logging.Warning("module home: skel source %s is not a directory", src)
		return
	}
	copySkelDir(src, dst, uid, gid, h.cfg.noSkelCheck)

	stamp, err := os.OpenFile(filepath.Join(dst, homeStampFile), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0)
	if err == nil {
		stamp.Close()
	}
}

func copySkelDir(src, dst string, uid, gid uint32, noCheck bool) {
	entries, err := os.ReadDir(src)
	if err != nil {
		logging.Err("module home: opendir %s: %v", src, err)
		return
	}
	for _, ent := range entries {
		sPath := filepath.Join(src, ent.Name())
		dPath := filepath.Join(dst, ent.Name())
		sInfo, err := os.Lstat(sPath)
		if err != nil {
			logging.Err("module home: lstat %s: %v", sPath, err)
			continue
		}

		switch {
		case sInfo.Mode().IsRegular():
			copySkelFile(sPath, dPath, sInfo, uid, gid, noCheck)
		case sInfo.IsDir():
			if err := os.Mkdir(dPath, sInfo.Mode().Perm()&0700); err != nil && !os.IsExist(err) {
				logging.Err("module home: mkdir %s: %v", dPath, err)
				continue
			}
			copySkelDir(sPath, dPath, uid, gid, noCheck)
			os.Chown(dPath, int(uid), int(gid))
		default:
			logging.Warning("module home: %s is not a regular file or directory", sPath)
		}
	}
}

func copySkelFile(src, dst string, st os.FileInfo, uid, gid uint32, noCheck bool) {
	if !noCheck {
		if st.Mode()&0002 != 0 {
			logging.Warning("module home: world write permission for %s, omitting", src)
			return
		}
		if sys, ok := st.Sys().(*syscall.Stat_t); ok && sys.Nlink > 1 {
			logging.Warning("module home: more than one hard link for %s, omitting", src)
			return
		}
	}

	if !noCheck && st.Size() > skelFileMaxCopyBytes {
		logging.Warning("module home: %s exceeds skel copy size limit", src)
		return
	}

	in, err := os.Open(src)
	if err != nil {
		logging.Warning("module home: open %s: %v", src, err)
		return
	}
	defer in.Close()

	// A symlink-safe create: dst lives inside a directory an
	// unprivileged user owns until the very first skel copy, so a
	// pre-planted symlink at dst must not redirect this root-owned
	// write anywhere else.
	fd, err := openat.OpenNofollow(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, uint32(st.Mode().Perm()&0700))
	if err != nil {
		if os.IsExist(err) {
			logging.Notice("module home: file %s already exists", dst)
		} else {
			logging.Err("module home: open %s: %v", dst, err)
		}
		return
	}
	out := os.NewFile(uintptr(fd), dst)

	if _, err := io.Copy(out, in); err != nil {
		logging.Err("module home: write error %s: %v", dst, err)
		out.Close()
		os.Remove(dst)
		return
	}
	if err := out.Chown(int(uid), int(gid)); err != nil {
		logging.Err("module home: fchown %s: %v", dst, err)
	}
	out.Close()
}

func (h *home) Close() {}
