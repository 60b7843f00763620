package capdrop

import (
	"testing"

	"github.com/moby/sys/capability"
)

// TestKeptCapabilitiesMatchDropcap guards against accidentally
// widening or narrowing the capability set carried over from
// dropcap_drop; it does not call Drop itself since that would
// permanently narrow the test binary's own capabilities.
func TestKeptCapabilitiesMatchDropcap(t *testing.T) {
	want := map[capability.Cap]bool{
		capability.CAP_CHOWN:       true,
		capability.CAP_DAC_OVERRIDE: true,
		capability.CAP_FOWNER:      true,
		capability.CAP_FSETID:      true,
		capability.CAP_SYS_ADMIN:   true,
	}
	if len(kept) != len(want) {
		t.Fatalf("len(kept) = %d, want %d", len(kept), len(want))
	}
	for _, c := range kept {
		if !want[c] {
			t.Fatalf("unexpected capability %v kept", c)
		}
		delete(want, c)
	}
	if len(want) != 0 {
		t.Fatalf("kept is missing capabilities: %v", want)
	}
	if inheritable != capability.CAP_DAC_READ_SEARCH {
		t.Fatalf("inheritable = %v, want CAP_DAC_READ_SEARCH", inheritable)
	}
}
