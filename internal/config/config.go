// Package config parses autodird's CLI surface (spec.md §6) into a
// flat struct, the way autodir.c's options.c registers one handler
// per short option and cmd/autodird hands the result straight to the
// collaborators it builds — mirroring the teacher's own style of
// parsing everything in main() with the stdlib flag package and
// handing a small options struct to the library underneath.
package config

import (
	"flag"
	"fmt"
	"path/filepath"
	"time"
)

const (
	defaultTimeout    = 300 * time.Second
	defaultMaxBackups = 200
	defaultWait       = 0
	maxWait           = 86400 * time.Second
	defaultPrefix     = '.'
	priorityMin       = 1
	priorityMax       = 40
	lockDirRoot       = "/var/lock"
)

// Config holds every value the CLI surface in spec.md §6 accepts,
// already validated and converted to Go-native types (durations
// instead of raw seconds, a resolved nice value instead of the raw
// 1..40 input).
type Config struct {
	Directory string // -d/--directory, required
	Module    string // -m/--module, required
	Options   string // -o/--options
	Timeout   time.Duration
	PidFile   string // -l/--pidfile
	Foreground bool
	Verbose    bool

	BackupProg string // -b/--backup; empty disables backups
	Wait       time.Duration
	MaxBackups int
	Priority   int // nice value, already mapped 1..40 -> -20..19
	HasPriority bool
	BackupLife  time.Duration

	WaitForBackup bool
	NoKill        bool

	UseLocks bool
	LockDir  string

	MultiPath bool
	Prefix    byte

	Version bool
}

// registerBool binds both the short and long forms of a boolean flag
// to the same destination, the Go shape of options.c pairing a single
// char with a long name in the same OREG table row.
func registerBool(fs *flag.FlagSet, dst *bool, short, long string, usage string) {
	fs.BoolVar(dst, short, false, usage)
	fs.BoolVar(dst, long, false, usage)
}

func registerString(fs *flag.FlagSet, dst *string, short, long, dflt, usage string) {
	fs.StringVar(dst, short, dflt, usage)
	fs.StringVar(dst, long, dflt, usage)
}

func registerInt(fs *flag.FlagSet, dst *int, short, long string, dflt int, usage string) {
	fs.IntVar(dst, short, dflt, usage)
	fs.IntVar(dst, long, dflt, usage)
}

// Parse parses args (normally os.Args[1:]) into a validated Config.
// When -h/--help was requested it prints usage and returns
// flag.ErrHelp, so callers can exit 0 the way -v/--version does.
func Parse(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)

	cfg := &Config{}

	var timeoutSecs, waitSecs, backupLifeSecs, priority int
	var prefix string
	var help bool

	registerString(fs, &cfg.Directory, "d", "directory", "", "autofs mount point (required)")
	registerString(fs, &cfg.Module, "m", "module", "", "module absolute path (required)")
	registerString(fs, &cfg.Options, "o", "options", "", "module suboptions")
	registerInt(fs, &timeoutSecs, "t", "timeout", int(defaultTimeout/time.Second), "expire idle-timeout in seconds")
	registerString(fs, &cfg.PidFile, "l", "pidfile", "", "write PID then unlink on exit")
	registerBool(fs, &cfg.Foreground, "f", "foreground", "stay in foreground, log to console")
	registerBool(fs, &cfg.Verbose, "V", "verbose", "enable info-level logging")
	registerString(fs, &cfg.BackupProg, "b", "backup", "", "enable backup; argv template")
	registerInt(fs, &waitSecs, "w", "wait", defaultWait, "quiet period before backup, in seconds")
	registerInt(fs, &cfg.MaxBackups, "c", "max-backups", defaultMaxBackups, "concurrent backup cap")
	registerInt(fs, &priority, "p", "priority", 0, "nice value 1..40 -> -20..19")
	registerInt(fs, &backupLifeSecs, "L", "backup-life", 0, "kill overdue backups after N seconds")
	registerBool(fs, &cfg.WaitForBackup, "n", "wait-for-backup", "wait instead of kill on remount")
	registerBool(fs, &cfg.NoKill, "N", "no-kill", "neither wait nor kill")
	registerBool(fs, &cfg.UseLocks, "k", "use-locks", "enable advisory lock files")
	registerString(fs, &cfg.LockDir, "r", "lock-dir", "", "lock directory (default /var/lock/<module>)")
	registerBool(fs, &cfg.MultiPath, "a", "multipath", "enable alias refcounting")
	registerString(fs, &prefix, "x", "prefix", string(defaultPrefix), "alias prefix")
	registerBool(fs, &cfg.Version, "v", "version", "print version and exit")
	registerBool(fs, &help, "h", "help", "print this help and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if help {
		fs.Usage()
		return nil, flag.ErrHelp
	}
	if cfg.Version {
		return cfg, nil
	}

	if cfg.Directory == "" {
		return nil, fmt.Errorf("config: -d/--directory is required")
	}
	if !filepath.IsAbs(cfg.Directory) {
		return nil, fmt.Errorf("config: -d/--directory must be an absolute path")
	}
	if cfg.Module == "" {
		return nil, fmt.Errorf("config: -m/--module is required")
	}

	cfg.Timeout = time.Duration(timeoutSecs) * time.Second

	if waitSecs < 0 {
		return nil, fmt.Errorf("config: -w/--wait must not be negative")
	}
	cfg.Wait = time.Duration(waitSecs) * time.Second
	if cfg.Wait > maxWait {
		return nil, fmt.Errorf("config: -w/--wait %s exceeds the %s maximum", cfg.Wait, maxWait)
	}

	if backupLifeSecs < 0 {
		return nil, fmt.Errorf("config: -L/--backup-life must not be negative")
	}
	cfg.BackupLife = time.Duration(backupLifeSecs) * time.Second

	if priority != 0 {
		if priority < priorityMin || priority > priorityMax {
			return nil, fmt.Errorf("config: -p/--priority %d out of range %d..%d", priority, priorityMin, priorityMax)
		}
		cfg.Priority = priority - 21 // map 1..40 onto -20..19
		cfg.HasPriority = true
	}

	if len(prefix) != 1 {
		return nil, fmt.Errorf("config: -x/--prefix must be exactly one character")
	}
	cfg.Prefix = prefix[0]

	if cfg.UseLocks && cfg.LockDir == "" {
		cfg.LockDir = filepath.Join(lockDirRoot, filepath.Base(cfg.Module))
	}

	return cfg, nil
}
