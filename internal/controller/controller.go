// Package controller implements the Controller Core from spec §4.2: the
// proportional law mapping last-frame latency to a signed CPU-frequency
// delta, plus the usage offset integrator that feeds it (kept as a
// separate accumulator from the thermal offset per spec §9's "three
// distinct integrators" note).
package controller

import (
	"math"
	"time"

	"github.com/framepacer/fasd/internal/buffer"
)

// Params are the tunable constants of the proportional law.
type Params struct {
	KP float64
}

// DefaultParams mirrors the upstream governor's default gain.
func DefaultParams() Params {
	return Params{KP: 0.0003}
}

// UsageSource exposes the single CPU-usage sample the controller needs.
// Implemented by internal/cpucontrol.Controller.
type UsageSource interface {
	UsageMax() float64
}

// State is the ControllerState from spec §3/§9: the controller's own
// usage-offset integrator and its 1s sampling timer. It is distinct from
// thermal.State and must never be merged with it.
type State struct {
	TargetFPSOffsetUsage float64
	usageSampledAt       time.Time
}

const (
	usageSampleInterval = time.Second
	usageLow            = 55.0
	usageHigh           = 80.0
	usageOffsetStep     = 0.1
	usageOffsetMin      = -5.0
	usageOffsetMax      = 0.0

	minFrametimeSamples = 60
	scaleNumerator      = 120.0
)

// Compute runs the full 11-step algorithm of spec §4.2 and returns the
// signed frequency delta in kHz. Returns 0 when the buffer does not yet
// have enough samples or no target FPS has been inferred, matching the
// spec's literal "return 0" (not an absence marker): a zero delta is a
// valid, actionable control value meaning "no change".
func Compute(buf *buffer.FrameBuffer, params Params, marginMS float64, thermalOffset float64, usage UsageSource, state *State, now time.Time) int64 {
	if buf.Len() < minFrametimeSamples {
		return 0
	}

	tf0, ok := buf.TargetFPS()
	if !ok {
		return 0
	}

	tfThermal := clamp(float64(tf0)+thermalOffset, 0, float64(tf0))
	if tfThermal <= 0 {
		return 0
	}

	sampleUsageOffset(state, usage, now)
	tfAdj := tfThermal + state.TargetFPSOffsetUsage

	lastFrame := lastFrameDuration(buf)
	if lastFrame == 0 {
		return 0
	}

	normalized := time.Duration(float64(lastFrame) * tfThermal)
	adjusted := time.Duration(float64(lastFrame) * tfAdj)
	target := time.Second + time.Duration(marginMS*float64(time.Millisecond))

	var errP float64
	if normalized > target {
		errP = (float64(adjusted) - float64(target)) * params.KP
		if errP < 0 {
			errP = 0
		}
	} else {
		errP = (float64(normalized) - float64(target)) * params.KP
	}
	errP = errP * scaleNumerator / tfThermal

	return int64(math.Floor(errP))
}

// sampleUsageOffset implements step 4: once per second, sample CPU usage
// and nudge the offset down when idle, up when busy, clamped to [-5, 0].
func sampleUsageOffset(state *State, usage UsageSource, now time.Time) {
	if state.usageSampledAt.IsZero() || now.Sub(state.usageSampledAt) >= usageSampleInterval {
		state.usageSampledAt = now
		u := usage.UsageMax()
		if u <= usageLow {
			state.TargetFPSOffsetUsage -= usageOffsetStep
		} else if u >= usageHigh {
			state.TargetFPSOffsetUsage += usageOffsetStep
		}
	}
	state.TargetFPSOffsetUsage = clamp(state.TargetFPSOffsetUsage, usageOffsetMin, usageOffsetMax)
}

// lastFrameDuration is step 6: the stall accumulator when nonzero,
// otherwise the most recent real frametime.
func lastFrameDuration(buf *buffer.FrameBuffer) time.Duration {
	if add := buf.AdditionalFrametime(); add != 0 {
		return add
	}
	ft := buf.Frametimes()
	if len(ft) == 0 {
		return 0
	}
	return ft[0]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
