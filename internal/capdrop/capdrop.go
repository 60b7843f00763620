// Package capdrop gives up every root capability autodird does not
// need, during startup before the autofs mountpoint is mounted
// (C14): the Go analogue of dropcap.c's dropcap_drop, ported onto
// github.com/moby/sys/capability instead of libcap since the daemon
// no longer links against a C capability library.
package capdrop

import (
	"fmt"

	"github.com/moby/sys/capability"

	"github.com/fpl/autodird/internal/logging"
)

// kept lists exactly the capabilities dropcap_drop leaves in the
// effective and permitted sets: CAP_CHOWN/CAP_DAC_OVERRIDE/CAP_FOWNER/
// CAP_FSETID for repairing ownership and mode on materialized
// directories, CAP_SYS_ADMIN for mount(2)/umount(2) and the autofs
// root ioctls.
var kept = []capability.Cap{
	capability.CAP_CHOWN,
	capability.CAP_DAC_OVERRIDE,
	capability.CAP_FOWNER,
	capability.CAP_FSETID,
	capability.CAP_SYS_ADMIN,
}

// inheritable adds CAP_DAC_READ_SEARCH on top of kept, inheritable
// only: backup child processes forked off argvtemplate's command line
// need it to read arbitrary files regardless of ownership, but none
// of the rest of root's power.
const inheritable = capability.CAP_DAC_READ_SEARCH

// Drop gives up every capability but the ones autodird still needs,
// logging and returning an error rather than the original's
// MSG_FATAL|LOG_ERRNO exit on failure. Callers that cannot tolerate
// running with full root (the common case) should treat a non-nil
// error as fatal themselves.
func Drop() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("capdrop: load process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("capdrop: load process capabilities: %w", err)
	}

	caps.Clear(capability.EFFECTIVE | capability.PERMITTED | capability.INHERITABLE)
	caps.Set(capability.EFFECTIVE|capability.PERMITTED, kept...)
	caps.Set(capability.INHERITABLE, append(append([]capability.Cap{}, kept...), inheritable)...)

	logging.Info("giving up unnecessary root privileges")
	if err := caps.Apply(capability.CAPS); err != nil {
		logging.Warning("could not drop root privileges: %v", err)
		return err
	}
	return nil
}
