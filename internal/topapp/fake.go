package topapp

import "sync"

// Fake is an in-process Watcher/PackageResolver for tests and for running
// the daemon without a real window-manager dump parser. Safe for
// concurrent use since the Looper and test goroutines may touch it from
// different sides.
type Fake struct {
	mu       sync.Mutex
	pids     map[int32]struct{}
	packages map[int32]string
	freeform bool
	err      error
}

// NewFake creates an empty Fake: no topapp pids, no freeform window.
func NewFake() *Fake {
	return &Fake{
		pids:     make(map[int32]struct{}),
		packages: make(map[int32]string),
	}
}

// SetTopapp replaces the current foreground pid set and their packages.
func (f *Fake) SetTopapp(pkgByPID map[int32]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pids = make(map[int32]struct{}, len(pkgByPID))
	f.packages = make(map[int32]string, len(pkgByPID))
	for pid, pkg := range pkgByPID {
		f.pids[pid] = struct{}{}
		f.packages[pid] = pkg
	}
}

// SetFreeform toggles the visible-freeform-window signal.
func (f *Fake) SetFreeform(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeform = v
}

// SetErr makes the next TopappPIDs calls fail, simulating spec §7's
// TopappDumpError.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *Fake) TopappPIDs() (map[int32]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	out := make(map[int32]struct{}, len(f.pids))
	for pid := range f.pids {
		out[pid] = struct{}{}
	}
	return out, nil
}

func (f *Fake) VisibleFreeformWindow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freeform
}

func (f *Fake) PackageForPID(pid int32) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkg, ok := f.packages[pid]
	return pkg, ok
}
