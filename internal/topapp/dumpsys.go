package topapp

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const refreshWindow = time.Second

// freeformMarkers are substrings whose presence in a window dump indicates
// a floating/freeform task window, grounded on
// original_source/src/framework/scheduler/topapp.rs's WindowsInfo::new.
var freeformMarkers = []string{"freeform", "FlexibleTaskCaptionView", "FlexibleTaskIndicatorView"}

// DumpsysWatcher is the real Watcher: it shells out to `dumpsys window
// visible-apps`, caching the parsed result for refreshWindow. Grounded on
// fas-rs-fw/src/scheduler/topapp.rs's TimedWatcher (dumpsys invocation,
// "Session{" line parsing) and
// original_source/src/framework/scheduler/topapp.rs's freeform-marker scan.
type DumpsysWatcher struct {
	mu          sync.Mutex
	cachedAt    time.Time
	cachedPIDs  map[int32]struct{}
	cachedFree  bool
	cachedErr   error
	dumpCommand func() (string, error)
}

// NewDumpsysWatcher creates a DumpsysWatcher that invokes the real
// `dumpsys` binary on first use.
func NewDumpsysWatcher() *DumpsysWatcher {
	return &DumpsysWatcher{dumpCommand: runDumpsysVisibleApps}
}

func runDumpsysVisibleApps() (string, error) {
	out, err := exec.Command("dumpsys", "window", "visible-apps").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (w *DumpsysWatcher) refresh() {
	if time.Since(w.cachedAt) <= refreshWindow && w.cachedPIDs != nil {
		return
	}

	dump, err := w.dumpCommand()
	if err != nil {
		w.cachedErr = err
		return
	}

	w.cachedPIDs = parseSessionPIDs(dump)
	w.cachedFree = containsFreeformMarker(dump)
	w.cachedErr = nil
	w.cachedAt = time.Now()
}

// TopappPIDs implements Watcher.
func (w *DumpsysWatcher) TopappPIDs() (map[int32]struct{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refresh()
	if w.cachedErr != nil {
		return nil, w.cachedErr
	}

	out := make(map[int32]struct{}, len(w.cachedPIDs))
	for pid := range w.cachedPIDs {
		out[pid] = struct{}{}
	}
	return out, nil
}

// VisibleFreeformWindow implements Watcher.
func (w *DumpsysWatcher) VisibleFreeformWindow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refresh()
	return w.cachedFree
}

// parseSessionPIDs scans dumpsys output for "Session{...}" lines and
// extracts the pid, the 4th whitespace-separated token up to the first
// colon, per the original's parse_top_app.
func parseSessionPIDs(dump string) map[int32]struct{} {
	pids := make(map[int32]struct{})
	for _, line := range strings.Split(dump, "\n") {
		if !strings.Contains(line, "Session{") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		tok := strings.Split(fields[3], ":")[0]
		pid, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			continue
		}
		pids[int32(pid)] = struct{}{}
	}
	return pids
}

func containsFreeformMarker(dump string) bool {
	for _, marker := range freeformMarkers {
		if strings.Contains(dump, marker) {
			return true
		}
	}
	return false
}

// CmdlinePackageResolver implements PackageResolver by reading
// /proc/<pid>/cmdline, grounded on
// original_source/src/framework/pid_utils.rs's get_process_name: take the
// text up to the first ':' (isolating the base package from a named
// process variant like "pkg:service") and trim NUL padding.
type CmdlinePackageResolver struct{}

func (CmdlinePackageResolver) PackageForPID(pid int32) (string, bool) {
	raw, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(int(pid)), "cmdline"))
	if err != nil {
		return "", false
	}

	s := strings.Trim(string(raw), "\x00")
	s = strings.SplitN(s, ":", 2)[0]
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}
