// Package topapp defines the out-of-scope top-application watcher
// collaborator from spec §1/§4.4: a source of the current foreground-app
// pid set and whether a freeform window is visible, derived from a system
// window-manager dump. The core only consumes the Watcher interface;
// DumpsysWatcher (dumpsys.go) is the dump-parsing implementation and Fake
// is the in-process one for tests.
package topapp

// Watcher exposes the foreground-app membership the Looper needs each
// iteration: the current topapp pid set and whether any visible freeform
// window is present (spec §4.4 step 4, `disable_fas()` trigger).
type Watcher interface {
	// TopappPIDs returns the current foreground-app pid set. An error
	// indicates spec §7's TopappDumpError: the Looper retains the
	// last-known set for up to the refresh window, then treats the set
	// as empty on persistent failure.
	TopappPIDs() (map[int32]struct{}, error)

	// VisibleFreeformWindow reports whether a freeform window is
	// currently visible, per spec §4.4 step 4.
	VisibleFreeformWindow() bool
}

// PackageResolver maps a topapp pid to its package name, needed to key
// FrameBuffers and consult game_list. CmdlinePackageResolver (dumpsys.go)
// reads it from /proc/<pid>/cmdline.
type PackageResolver interface {
	PackageForPID(pid int32) (string, bool)
}
