// Package cleaner implements the Cleaner of spec §4.6: on Working entry
// it snapshots and bind-mounts a fixed value over each file in the closed
// governor-toggle set of spec §6, and on exit it unmounts and restores
// the snapshot. Grounded on
// original_source/src/framework/scheduler/looper/clean.rs's Cleaner
// (lock_value's unmount-then-bind-mount-a-forced-value shape,
// HashMap<path, snapshot> restore), adapted from libc's raw mount/umount2
// calls to golang.org/x/sys/unix.
package cleaner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/framepacer/fasd/internal/platform"
)

// toggle is one governor-control file and the value it is bind-mounted
// to: "0" for an enable toggle, "1" for a disable toggle, per spec §6.
type toggle struct {
	path  string
	value string
}

// defaultToggles is the closed governor-suppression list of spec §6.
// Implementations must not extend it at runtime.
var defaultToggles = []toggle{
	{path: "/sys/module/mtk_fpsgo/parameters/perfmgr_enable", value: "0"},
	{path: "/sys/module/perfmgr/parameters/perfmgr_enable", value: "0"},
	{path: "/sys/module/perfmgr_policy/parameters/perfmgr_enable", value: "0"},
	{path: "/sys/module/perfmgr_mtk/parameters/perfmgr_enable", value: "0"},
	{path: "/sys/module/migt/parameters/glk_fbreak_enable", value: "0"},
	{path: "/sys/module/migt/parameters/glk_disable", value: "1"},
	{path: "/proc/game_opt/disable_cpufreq_limit", value: "1"},
}

// mounter abstracts the two raw syscalls Cleanup/UndoCleanup need, so
// tests can exercise the snapshot/restore logic without CAP_SYS_ADMIN.
// unixMounter (the production implementation) wraps golang.org/x/sys/unix.
type mounter interface {
	Mount(source, target string) error
	Unmount(target string) error
}

type unixMounter struct{}

func (unixMounter) Mount(source, target string) error {
	return unix.Mount(source, target, "", unix.MS_BIND|unix.MS_REC, "")
}

func (unixMounter) Unmount(target string) error {
	return unix.Unmount(target, unix.MNT_DETACH)
}

// Cleaner owns the bind-mount suppression of spec §4.6. Scoped to the
// Working state: Cleanup is called on entry, UndoCleanup on exit through
// any path, per spec §3's FasState lifecycle note.
type Cleaner struct {
	// toggles is overridable for tests; production callers use
	// defaultToggles via New.
	toggles []toggle
	mounter mounter
	// maskDir holds the bind-mount source files (the forced-value
	// payload), analogous to the original's "/cache/mount_mask_<value>".
	maskDir string
	logger  zerolog.Logger

	mu        sync.Mutex
	snapshots map[string]string
	active    bool
}

// New creates a Cleaner over the fixed governor-toggle set, writing its
// bind-mount source files under maskDir (created if absent).
func New(maskDir string, logger zerolog.Logger) (*Cleaner, error) {
	if err := os.MkdirAll(maskDir, 0o755); err != nil {
		return nil, fmt.Errorf("cleaner: create mask dir: %w", err)
	}
	if caps := platform.Detect(); !caps.CanBindMount() {
		logger.Warn().
			Bool("linux", caps.Linux).
			Bool("cap_sys_admin", caps.CapSysAdmin).
			Msg("process lacks CAP_SYS_ADMIN: governor suppression bind mounts will likely fail")
	}
	return newWithMounter(maskDir, defaultToggles, unixMounter{}, logger)
}

func newWithMounter(maskDir string, toggles []toggle, m mounter, logger zerolog.Logger) (*Cleaner, error) {
	return &Cleaner{
		toggles:   toggles,
		mounter:   m,
		maskDir:   maskDir,
		logger:    logger.With().Str("component", "cleaner").Logger(),
		snapshots: make(map[string]string),
	}, nil
}

// Cleanup snapshots each toggle file's current content, then bind-mounts
// a file holding the forced value over it, detaching any prior mount
// first. Idempotent: a second Cleanup call while already active is a
// no-op per spec T6, since a toggle already snapshotted is left alone.
func (c *Cleaner) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return
	}
	c.active = true

	for _, t := range c.toggles {
		if _, already := c.snapshots[t.path]; !already {
			if raw, err := os.ReadFile(t.path); err == nil {
				c.snapshots[t.path] = string(raw)
			}
		}

		if err := c.lockValue(t); err != nil {
			c.logger.Warn().Err(err).Str("path", t.path).Msg("governor suppression mount failed, skipping")
		}
	}
}

// lockValue mirrors the original's lock_value: detach any existing mount
// over path, write the forced value both to the real path (best-effort,
// in case the bind mount itself fails) and to a dedicated mask file, then
// bind-mount the mask file over path.
func (c *Cleaner) lockValue(t toggle) error {
	_ = c.mounter.Unmount(t.path)

	maskPath := filepath.Join(c.maskDir, "mount_mask_"+sanitizeFileName(t.path)+"_"+t.value)
	if err := os.WriteFile(maskPath, []byte(t.value), 0o644); err != nil {
		return fmt.Errorf("write mask file: %w", err)
	}
	_ = os.WriteFile(t.path, []byte(t.value), 0o644) // best-effort; the bind mount is authoritative

	if err := c.mounter.Mount(maskPath, t.path); err != nil {
		return fmt.Errorf("bind mount: %w", err)
	}
	return nil
}

// UndoCleanup unmounts every toggle and restores its pre-Cleanup
// snapshot. Idempotent: once a path's mount is detached and its value
// restored, a second UndoCleanup call finds nothing left to do for it.
func (c *Cleaner) UndoCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}
	c.active = false

	for _, t := range c.toggles {
		snapshot, ok := c.snapshots[t.path]
		if !ok {
			continue
		}

		if err := c.mounter.Unmount(t.path); err != nil {
			c.logger.Warn().Err(err).Str("path", t.path).Msg("governor suppression unmount failed")
		}
		if err := os.WriteFile(t.path, []byte(snapshot), 0o644); err != nil {
			c.logger.Warn().Err(err).Str("path", t.path).Msg("governor suppression snapshot restore failed")
		}
		delete(c.snapshots, t.path)
	}
}

// Active reports whether Cleanup has run without a matching UndoCleanup.
func (c *Cleaner) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func sanitizeFileName(path string) string {
	out := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			out[i] = '_'
		} else {
			out[i] = path[i]
		}
	}
	return string(out)
}
