package builtin

import (
	"fmt"
	"os"

	"github.com/fpl/autodird/internal/logging"
	"github.com/fpl/autodird/internal/module"
)

const (
	miscName            = "misc"
	defaultMiscRealPath = "/automisc"
	defaultMiscLevel    = 2
	defaultMiscOwner    = "nobody"
	defaultMiscGroup    = "nobody"
)

var defaultMiscMode = os.FileMode(0770)

type miscConfig struct {
	realpath string
	level    int
	uid      uint32
	gid      uint32
	mode     os.FileMode
	noCheck  bool
	fastMode bool
}

// misc implements module.Module as the automisc.c-equivalent builtin:
// a single flat, owner-controlled directory created on first access,
// whose owner/group/mode are repaired on later accesses unless nocheck
// is set or fastmode finds it already present, with no per-name
// policy beyond sharding.
type misc struct {
	cfg miscConfig
}

// NewMisc builds the "misc" builtin materialization policy. subopt
// follows automisc.c's option_process grammar: realpath, level,
// owner, group, mode, nocheck, fastmode.
func NewMisc(subopt, autofsPath string) (module.Module, error) {
	opts := subopts(subopt)
	cfg := miscConfig{
		realpath: defaultMiscRealPath,
		level:    defaultMiscLevel,
		mode:     defaultMiscMode,
	}

	if v, ok := opts["realpath"]; ok {
		cfg.realpath = v
	}
	if v, ok := opts["level"]; ok {
		level, err := parseLevel(v, defaultMiscLevel)
		if err != nil {
			return nil, fmt.Errorf("module misc: %w", err)
		}
		cfg.level = level
	}
	if v, ok := opts["mode"]; ok {
		mode, err := parseMode(v, defaultMiscMode)
		if err != nil {
			return nil, fmt.Errorf("module misc: %w", err)
		}
		cfg.mode = mode
	}
	_, cfg.noCheck = opts["nocheck"]
	_, cfg.fastMode = opts["fastmode"]

	ownerName := defaultMiscOwner
	if v, ok := opts["owner"]; ok {
		ownerName = v
	}
	uid, err := lookupUID(ownerName)
	if err != nil {
		return nil, fmt.Errorf("module misc: %w", err)
	}
	cfg.uid = uid

	groupName, hasGroupOpt := opts["group"]
	if !hasGroupOpt {
		groupName = defaultMiscGroup
	}
	gid, err := lookupGID(groupName)
	if err != nil {
		return nil, fmt.Errorf("module misc: %w", err)
	}
	cfg.gid = gid

	if err := createDir(cfg.realpath, 0700); err != nil {
		return nil, fmt.Errorf("module misc: could not create %s: %w", cfg.realpath, err)
	}
	if autofsPath == cfg.realpath {
		return nil, fmt.Errorf("module misc: misc dir and autofs dir are the same")
	}

	return &misc{cfg: cfg}, nil
}

func (m *misc) Name() string { return miscName }

func (m *misc) RealDir(_ string, name string) string {
	return shardedPath(m.cfg.realpath, m.cfg.level, name)
}

func (m *misc) DoWork(name, _ string) (string, bool) {
	if err := validateName(name); err != nil {
		logging.Err("module misc: %v", err)
		return "", false
	}

	realDir := shardedPath(m.cfg.realpath, m.cfg.level, name)

	if m.cfg.fastMode {
		if _, err := os.Stat(realDir); err == nil {
			return realDir, true
		}
	}

	if !m.createMiscDir(realDir) {
		return "", false
	}
	return realDir, true
}

func (m *misc) createMiscDir(path string) bool {
	st, err := os.Lstat(path)
	if err == nil {
		if !st.IsDir() {
			logging.Alert("module misc: %s exists but is not a directory", path)
			return false
		}
		if m.cfg.noCheck {
			return true
		}
		fixOwnerAndMode(path, st, m.cfg.uid, m.cfg.gid, m.cfg.mode)
		return true
	}
	if !os.IsNotExist(err) {
		logging.Err("module misc: lstat %s: %v", path, err)
		return false
	}

	logging.Info("module misc: directory %s does not exist, creating", path)
	if err := createDir(path, 0700); err != nil {
		logging.Err("module misc: mkdir %s: %v", path, err)
		return false
	}
	if err := os.Chmod(path, m.cfg.mode); err != nil {
		logging.Err("module misc: chmod %s: %v", path, err)
		return false
	}
	if err := os.Chown(path, int(m.cfg.uid), int(m.cfg.gid)); err != nil {
		logging.Err("module misc: chown %s: %v", path, err)
		return false
	}
	return true
}

func (m *misc) Close() {}
