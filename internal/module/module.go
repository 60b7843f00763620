// Package module implements the materialization module loader (C12):
// the pluggable policy that turns a requested name into the real
// directory autodird should bind-mount over the autofs placeholder.
// module_load in module.c does this with ltdl against a .so built
// against module.h's four-symbol ABI; Go's standard plugin package is
// the direct analogue, loading a .so built with
// `go build -buildmode=plugin` and resolving the same four symbols by
// name instead of by a C vtable.
package module

import (
	"fmt"
	"os"
	"plugin"
	"syscall"
)

// protocolSupported mirrors MODULE_PROTOCOL_SUPPORTED: the major/minor
// encoded ABI version a loaded module must declare.
const protocolSupported = 1001

// Module is the interface internal/dispatcher drives a loaded
// materialization policy through, independent of whether it came from
// a .so plugin or a builtin Go policy.
type Module interface {
	// Name identifies the module for logging.
	Name() string
	// DoWork materializes the real directory for name (creating it if
	// necessary) and returns its absolute path. autofsPath is the
	// autofs mountpoint root, passed through to mirror module_dowork's
	// hdir argument.
	DoWork(name, autofsPath string) (realPath string, ok bool)
	// RealDir maps name back to the real directory that backs it,
	// without doing any of the creation/permission work DoWork does -
	// used once a mount has already been torn down and all that's
	// left is recomputing the path for a backup.
	RealDir(autofsPath, name string) string
	// Close releases any resources the module holds.
	Close()
}

// Init is the module_init symbol's signature: subopt carries the
// -o/--options sub-option string verbatim, homeBase the autofs
// mountpoint root. A returned protocol mismatching protocolSupported
// is rejected by Load before the module is used.
type Init func(subopt, homeBase string) (name string, protocol int, ok bool)

// Dir is the module_dir symbol's signature: write the real directory
// path for name into buf's logical equivalent (a Go string return).
type Dir func(name string) string

// DoWorkFunc is the module_dowork symbol's signature.
type DoWorkFunc func(name, homeBase string) (realDir string, ok bool)

// Clean is the module_clean symbol's signature.
type Clean func()

const (
	symbolInit    = "Init"
	symbolDir     = "Dir"
	symbolDoWork  = "DoWork"
	symbolCleanup = "Cleanup"
)

// pluginModule wraps the four symbols resolved from a loaded .so.
type pluginModule struct {
	name    string
	dir     Dir
	doWork  DoWorkFunc
	cleanup Clean
}

// Load verifies path per module_check's rules (regular file, owned by
// root, not world-writable) then opens it as a Go plugin and resolves
// its Init/Dir/DoWork/Cleanup symbols, calling Init with subopt and
// autofsPath. A non-nil error is always fatal to startup, matching
// every module_check/module_load failure path logging MSG_FATAL.
func Load(path, subopt, autofsPath string) (Module, error) {
	if err := checkModuleFile(path); err != nil {
		return nil, err
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("module: open %s: %w", path, err)
	}

	initSym, err := p.Lookup(symbolInit)
	if err != nil {
		return nil, fmt.Errorf("module: %s: %w", symbolInit, err)
	}
	init, ok := initSym.(func(string, string) (string, int, bool))
	if !ok {
		return nil, fmt.Errorf("module: %s: unexpected signature", symbolInit)
	}

	dirSym, err := p.Lookup(symbolDir)
	if err != nil {
		return nil, fmt.Errorf("module: %s: %w", symbolDir, err)
	}
	dir, ok := dirSym.(func(string) string)
	if !ok {
		return nil, fmt.Errorf("module: %s: unexpected signature", symbolDir)
	}

	doWorkSym, err := p.Lookup(symbolDoWork)
	if err != nil {
		return nil, fmt.Errorf("module: %s: %w", symbolDoWork, err)
	}
	doWork, ok := doWorkSym.(func(string, string) (string, bool))
	if !ok {
		return nil, fmt.Errorf("module: %s: unexpected signature", symbolDoWork)
	}

	cleanupSym, err := p.Lookup(symbolCleanup)
	if err != nil {
		return nil, fmt.Errorf("module: %s: %w", symbolCleanup, err)
	}
	cleanup, ok := cleanupSym.(func())
	if !ok {
		return nil, fmt.Errorf("module: %s: unexpected signature", symbolCleanup)
	}

	name, protocol, ok := init(subopt, autofsPath)
	if !ok {
		return nil, fmt.Errorf("module: %s: initialization failed", path)
	}
	if protocol != protocolSupported {
		return nil, fmt.Errorf("module: %s: required protocol %d, module protocol %d not supported",
			path, protocolSupported, protocol)
	}
	if name == "" {
		return nil, fmt.Errorf("module: %s: missing module name", path)
	}

	return &pluginModule{name: name, dir: dir, doWork: doWork, cleanup: cleanup}, nil
}

// checkModuleFile mirrors module_check exactly: the file must exist,
// be a regular file, not world-writable, and owned by uid 0.
func checkModuleFile(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("module: could not find module at %s", path)
		}
		return fmt.Errorf("module: stat %s: %w", path, err)
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("module: %s is not a regular file", path)
	}
	if st.Mode()&0002 != 0 {
		return fmt.Errorf("module: %s has world write permissions", path)
	}
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("module: %s: could not determine owner", path)
	}
	if sys.Uid != 0 {
		return fmt.Errorf("module: %s is not owned by root", path)
	}
	return nil
}

func (m *pluginModule) Name() string { return m.name }

func (m *pluginModule) DoWork(name, autofsPath string) (string, bool) {
	return m.doWork(name, autofsPath)
}

func (m *pluginModule) RealDir(_ string, name string) string {
	return m.dir(name)
}

func (m *pluginModule) Close() {
	if m.cleanup != nil {
		m.cleanup()
	}
}
