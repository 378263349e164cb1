package cleaner

import (
	"os"
	"sync"
)

// fakeMounter simulates bind-mount semantics in-process: Mount copies the
// source file's content over target (a real temp file in tests) and
// records the mount so Unmount can be asserted against; it never touches
// the real mount namespace, so tests need no CAP_SYS_ADMIN.
type fakeMounter struct {
	mu      sync.Mutex
	mounted map[string]string // target -> source
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{mounted: make(map[string]string)}
}

func (f *fakeMounter) Mount(source, target string) error {
	raw, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	if err := os.WriteFile(target, raw, 0o644); err != nil {
		return err
	}
	f.mu.Lock()
	f.mounted[target] = source
	f.mu.Unlock()
	return nil
}

func (f *fakeMounter) Unmount(target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mounted, target)
	return nil
}

func (f *fakeMounter) isMounted(target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.mounted[target]
	return ok
}
