package lifecycle

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fpl/autodird/internal/dispatcher"
	"github.com/fpl/autodird/internal/expire"
	"github.com/fpl/autodird/internal/lockfile"
	"github.com/fpl/autodird/internal/protocol"
	"github.com/fpl/autodird/internal/workon"
)

type fakeKernel struct {
	mu     sync.Mutex
	closed bool
}

func (k *fakeKernel) Ready(uint32) error      { return nil }
func (k *fakeKernel) Fail(uint32) error       { return nil }
func (k *fakeKernel) ExpireMulti() error      { return expire.ErrNoMore }
func (k *fakeKernel) Dev() uint64             { return 1 }
func (k *fakeKernel) PollRead(_ []byte, _ time.Duration) error {
	return dispatcher.ErrPollTimeout
}
func (k *fakeKernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	return nil
}
func (k *fakeKernel) wasClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

type fakeModule struct {
	mu     sync.Mutex
	closed bool
}

func (m *fakeModule) Name() string                              { return "fake" }
func (m *fakeModule) DoWork(string, string) (string, bool)       { return "", false }
func (m *fakeModule) RealDir(string, string) string              { return "" }
func (m *fakeModule) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
func (m *fakeModule) wasClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func TestRunShutsDownClosesKernelAndModule(t *testing.T) {
	root := t.TempDir()
	locks, err := lockfile.New(filepath.Join(root, "locks"), os.Getpid())
	if err != nil {
		t.Fatalf("lockfile.New: %v", err)
	}

	kernel := &fakeKernel{}
	mod := &fakeModule{}
	disp := dispatcher.New(dispatcher.Config{Path: root}, kernel, mod, nil,
		workon.New(), locks, nil, nil, nil, protocol.NewPool(0))

	var drained = make(chan struct{})
	ex := expire.New(kernel, func() {
		disp.MarkExpireDrained()
		close(drained)
	})
	ex.Start(time.Minute)

	pidFile := filepath.Join(root, "autodird.pid")
	if err := os.WriteFile(pidFile, []byte("123"), 0644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{
		Dispatcher: disp,
		Expire:     ex,
		Locks:      locks,
		Kernel:     kernel,
		Module:     mod,
		PidFile:    pidFile,
	}

	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	// Give Serve a moment to enter its poll loop, then request a
	// graceful stop the way the signal watcher would.
	time.Sleep(20 * time.Millisecond)
	m.beginStop()

	select {
	case <-drained:
	case <-time.After(3 * time.Second):
		t.Fatal("expire driver never drained after StopSet")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("Run() did not return after shutdown")
	}

	if !kernel.wasClosed() {
		t.Fatal("expected the kernel to be closed during shutdown")
	}
	if !mod.wasClosed() {
		t.Fatal("expected the module to be closed during shutdown")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatal("expected the pidfile to be removed during shutdown")
	}
}
