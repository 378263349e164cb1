// Package frameanalyzer defines the out-of-scope frame analyzer
// collaborator from spec §1/§5: an external source of (pid,
// frame_duration) events. How it observes real frames (graphics-stack
// hooks, binder IPC, eBPF, ...) is not part of this spec; the core only
// depends on the bounded-channel Source interface below.
package frameanalyzer

import (
	"github.com/framepacer/fasd/internal/fastype"
)

// Source is the frame-analyzer collaborator. Events delivers
// fastype.FrameEvent in producer order on a bounded channel per spec §5;
// the Looper reads it with a 100ms timeout to drive stall detection.
//
// Attach/Detach tell the analyzer which pids currently need frame data
// (spec §4.4 step 2: "for each topapp pid whose package needs FAS,
// attach it"); a real implementation uses this to scope its
// instrumentation to exactly the tracked processes. Restart
// re-establishes the event source after a disconnect (spec §7's
// FrameSourceDisconnect), debounced by the Looper per spec §4.4.
type Source interface {
	Events() <-chan fastype.FrameEvent
	Attach(pid int32) error
	Detach(pid int32)
	Restart() error
}
