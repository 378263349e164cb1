// Package fastype holds the small shared data types that flow between the
// frame-pacing components: frame events, package identity, operating mode,
// and the target-FPS configuration shape. Kept in their own package so
// internal/buffer, internal/modeconfig, internal/controller, and
// internal/looper can all depend on them without an import cycle.
package fastype

import (
	"fmt"
	"time"
)

// FrameEvent is a single (pid, frame_duration) sample from the frame
// analyzer collaborator. A zero FrameDuration is discarded by the Looper.
type FrameEvent struct {
	PID           int32
	FrameDuration time.Duration
}

// PackageInfo identifies a tracked foreground application.
type PackageInfo struct {
	PID     int32
	Package string
}

// Mode is the daemon's current operating mode, read from the mode node.
type Mode int

const (
	ModePowersave Mode = iota
	ModeBalance
	ModePerformance
	ModeFast
)

// String renders the mode the way it appears in the mode node and the TOML
// config section names.
func (m Mode) String() string {
	switch m {
	case ModePowersave:
		return "powersave"
	case ModeBalance:
		return "balance"
	case ModePerformance:
		return "performance"
	case ModeFast:
		return "fast"
	default:
		return "balance"
	}
}

// ParseMode parses a mode node's contents. An unrecognized value is treated
// as NodeParse by the caller, which per spec defaults the mode to Balance.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "powersave":
		return ModePowersave, nil
	case "balance":
		return ModeBalance, nil
	case "performance":
		return ModePerformance, nil
	case "fast":
		return ModeFast, nil
	default:
		return ModeBalance, fmt.Errorf("unrecognized mode %q", s)
	}
}

// TargetFPSKind distinguishes the two TargetFPSConfig shapes.
type TargetFPSKind int

const (
	TargetFPSExact TargetFPSKind = iota
	TargetFPSCandidates
)

// TargetFPSConfig is the sum type described in spec §3: either a fixed FPS
// target, or a sorted list of candidate FPS values the buffer infers from.
type TargetFPSConfig struct {
	Kind       TargetFPSKind
	Exact      uint32
	Candidates []uint32 // must be sorted ascending when Kind == TargetFPSCandidates
}

// NewExactTargetFPS builds a TargetFPSConfig with a fixed target.
func NewExactTargetFPS(fps uint32) TargetFPSConfig {
	return TargetFPSConfig{Kind: TargetFPSExact, Exact: fps}
}

// NewCandidateTargetFPS builds a TargetFPSConfig from candidate FPS values.
// The slice is copied and sorted ascending.
func NewCandidateTargetFPS(candidates []uint32) TargetFPSConfig {
	cs := make([]uint32, len(candidates))
	copy(cs, candidates)
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j-1] > cs[j]; j-- {
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
	return TargetFPSConfig{Kind: TargetFPSCandidates, Candidates: cs}
}

// WorkingState is the FrameBuffer's own usability state, distinct from the
// Looper-level FasState.
type WorkingState int

const (
	Unusable WorkingState = iota
	Usable
)
