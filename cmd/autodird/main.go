// Command autodird is an autofs v4 on-demand directory daemon: it
// mounts a single autofs filesystem, materializes real directories
// behind it via a pluggable module, expires them when idle, and
// optionally forks a backup program after a directory has been
// unmounted. See autodir.c's main() for the process this mirrors.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpl/autodird/internal/argvtemplate"
	"github.com/fpl/autodird/internal/backupchild"
	"github.com/fpl/autodird/internal/backupqueue"
	"github.com/fpl/autodird/internal/capdrop"
	"github.com/fpl/autodird/internal/config"
	"github.com/fpl/autodird/internal/dispatcher"
	"github.com/fpl/autodird/internal/expire"
	"github.com/fpl/autodird/internal/lifecycle"
	"github.com/fpl/autodird/internal/lockfile"
	"github.com/fpl/autodird/internal/logging"
	"github.com/fpl/autodird/internal/module"
	"github.com/fpl/autodird/internal/module/builtin"
	"github.com/fpl/autodird/internal/multipath"
	"github.com/fpl/autodird/internal/protocol"
	"github.com/fpl/autodird/internal/workon"
)

const version = "1.0"

// protoMin/protoMax mirror AUTODIR_PROTO_MIN/MAX: this daemon speaks
// exactly autofs v4, protocol 4.
const (
	protoMin     = 4
	protoMax     = 4
	protoDefault = 4
)

// Worker pool shapes for the missing/expire dispatch pools, carried
// over from main()'s thread_cache_init(&expire_tc, ..., 100, 10) and
// thread_cache_init(&missing_tc, ..., 1000, 30) calls.
const (
	missingSlots   = 1000
	missingMaxIdle = 30
	missingReuse   = 0

	expireSlots   = 100
	expireMaxIdle = 10
	expireReuse   = 0
)

func main() {
	cfg, err := config.Parse("autodird", os.Args[1:])
	if err == flag.ErrHelp {
		os.Exit(0)
	}
	if cfg != nil && cfg.Version {
		fmt.Printf("autodird version %s\n", version)
		os.Exit(0)
	}
	if err != nil {
		logging.Fatal("%v", err)
	}

	logging.SetVerbose(cfg.Verbose)
	if cfg.Foreground {
		logging.ToConsole()
	}

	if err := run(cfg); err != nil {
		logging.Fatal("%v", err)
	}
}

func run(cfg *config.Config) error {
	logging.Info("starting autodird version %s", version)

	mod, err := loadModule(cfg.Module, cfg.Options, cfg.Directory)
	if err != nil {
		return fmt.Errorf("module load: %w", err)
	}

	if err := os.MkdirAll(cfg.Directory, 0700); err != nil {
		mod.Close()
		return fmt.Errorf("mkdir %s: %w", cfg.Directory, err)
	}

	if err := capdrop.Drop(); err != nil {
		logging.Warning("continuing without full capability drop: %v", err)
	}

	pgrp := os.Getpgrp()
	pid := os.Getpid()
	kernel, err := dispatcher.MountAutofs(cfg.Directory, "autodird", pgrp, pid, protoMin, protoMax)
	if err != nil {
		mod.Close()
		return err
	}

	proto, err := kernel.ProtocolVersion()
	if err != nil {
		kernel.Close()
		mod.Close()
		return fmt.Errorf("autofs protocol version: %w", err)
	}
	if proto != protoDefault {
		kernel.Close()
		mod.Close()
		return fmt.Errorf("unsupported autofs protocol version %d", proto)
	}
	if err := kernel.SetTimeout(uint64(cfg.Timeout.Seconds())); err != nil {
		logging.Warning("setting autofs idle timeout: %v", err)
	}

	if cfg.PidFile != "" {
		if err := os.WriteFile(cfg.PidFile, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
			kernel.Close()
			mod.Close()
			return fmt.Errorf("write pidfile %s: %w", cfg.PidFile, err)
		}
	}

	workonReg := workon.New()

	var locks *lockfile.Registry
	if cfg.UseLocks {
		locks, err = lockfile.New(cfg.LockDir, pid)
		if err != nil {
			kernel.Close()
			mod.Close()
			return err
		}
	}

	var multi *multipath.Counter
	if cfg.MultiPath {
		multi = multipath.New()
	}

	var backupQueue *backupqueue.Queue
	var backupChildren *backupchild.Registry
	if cfg.BackupProg != "" {
		tpl := argvtemplate.New(cfg.BackupProg)
		if !tpl.Empty() {
			backupChildren = backupchild.New(cfg.BackupLife)
			backupQueue = backupqueue.New(cfg.Wait, cfg.MaxBackups, backupChildren, tpl)
		}
	}

	disp := dispatcher.New(dispatcher.Config{
		Path:            cfg.Directory,
		MultiPath:       cfg.MultiPath,
		MultiPrefix:     cfg.Prefix,
		NoKill:          cfg.NoKill,
		Wait2Finish:     cfg.WaitForBackup,
		MissingSlots:    missingSlots,
		MissingMaxIdle:  missingMaxIdle,
		MissingMaxReuse: missingReuse,
		ExpireSlots:     expireSlots,
		ExpireMaxIdle:   expireMaxIdle,
		ExpireMaxReuse:  expireReuse,
	}, kernel, mod, nil, workonReg, locks, multi, backupInterface(backupQueue), backupChildInterface(backupChildren), protocol.NewPool(0))

	drained := make(chan struct{})
	ex := expire.New(kernel, func() {
		disp.MarkExpireDrained()
		close(drained)
	})
	ex.Start(cfg.Timeout)

	mgr := &lifecycle.Manager{
		Dispatcher:     disp,
		Expire:         ex,
		Locks:          locks,
		Backup:         backupQueue,
		BackupChildren: backupChildren,
		Kernel:         kernel,
		Module:         mod,
		PidFile:        cfg.PidFile,
	}
	return mgr.Run()
}

// loadModule resolves -m/--module: an absolute path loads a real
// plugin per module.Load, while the two reserved names "home" and
// "misc" select a builtin materialization policy equivalent to
// autohome.c/automisc.c without needing a compiled .so on disk.
func loadModule(path, subopt, autofsPath string) (module.Module, error) {
	switch path {
	case "home":
		return builtin.NewHome(subopt, autofsPath)
	case "misc":
		return builtin.NewMisc(subopt, autofsPath)
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("module path %q must be absolute, or one of \"home\"/\"misc\"", path)
	}
	return module.Load(path, subopt, autofsPath)
}

// backupInterface and backupChildInterface guard against the classic
// "nil pointer boxed in a non-nil interface" trap: cfg.BackupProg
// unset leaves both *backupqueue.Queue and *backupchild.Registry nil,
// and dispatcher.New must see a literal nil interface, not a non-nil
// interface wrapping a nil pointer, or its nil checks would
// misbehave.
func backupInterface(q *backupqueue.Queue) dispatcher.Backup {
	if q == nil {
		return nil
	}
	return q
}

func backupChildInterface(r *backupchild.Registry) dispatcher.BackupChildren {
	if r == nil {
		return nil
	}
	return r
}
