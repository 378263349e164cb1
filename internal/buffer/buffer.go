// Package buffer implements the per-process Frame Buffer described in
// spec §3/§4.1: a ring of recent frame durations used to infer the
// application's current FPS, its target FPS, and whether the controller
// should be allowed to act on it yet.
package buffer

import (
	"time"

	"github.com/framepacer/fasd/internal/extension"
	"github.com/framepacer/fasd/internal/fastype"
)

const (
	// defaultCapacity is the frame-time ring capacity used while the
	// target FPS has not yet been inferred (5 * 144fps).
	defaultCapacity = 720

	// recomputeInterval bounds how often moving averages and the target
	// FPS inference run.
	recomputeInterval = 100 * time.Millisecond

	// usabilityWindow is how long after a target-fps change the buffer
	// stays Unusable.
	usabilityWindow = 1 * time.Second

	// minUsableSamples is the minimum frame count required, alongside
	// the usability window, before the buffer reports Usable.
	minUsableSamples = 60

	// defaultShortWindow sizes the short moving average before a target
	// FPS has ever been established.
	defaultShortWindow = 60
)

// FrameBuffer is exclusively owned by the Looper goroutine; nothing in
// this package synchronizes access, matching spec §5's single-owner
// concurrency model.
type FrameBuffer struct {
	pid int32
	pkg string

	targetFPSConfig fastype.TargetFPSConfig
	targetFPS       *uint32

	frametimes          []time.Duration // newest-first
	additionalFrametime time.Duration

	currentFPSLong  float64
	currentFPSShort float64
	avgTimeLong     time.Duration
	avgTimeShort    time.Duration

	workingState      fastype.WorkingState
	workingStateSince time.Time

	lastUpdate    time.Time
	lastRecompute time.Time

	dispatcher *extension.Dispatcher
}

// New creates a FrameBuffer for pid/pkg with the given target-FPS
// configuration. dispatcher may be nil (extension delivery becomes a
// no-op), matching the bus's best-effort contract.
func New(pid int32, pkg string, cfg fastype.TargetFPSConfig, dispatcher *extension.Dispatcher) *FrameBuffer {
	return &FrameBuffer{
		pid:             pid,
		pkg:             pkg,
		targetFPSConfig: cfg,
		workingState:    fastype.Unusable,
		dispatcher:      dispatcher,
	}
}

// PID returns the owning process id.
func (b *FrameBuffer) PID() int32 { return b.pid }

// Package returns the owning package name.
func (b *FrameBuffer) Package() string { return b.pkg }

// TargetFPS returns the currently inferred target FPS, if any.
func (b *FrameBuffer) TargetFPS() (uint32, bool) {
	if b.targetFPS == nil {
		return 0, false
	}
	return *b.targetFPS, true
}

// WorkingState returns Usable/Unusable per spec invariant I2.
func (b *FrameBuffer) WorkingState() fastype.WorkingState { return b.workingState }

// IsUsable is a convenience wrapper around WorkingState.
func (b *FrameBuffer) IsUsable() bool { return b.workingState == fastype.Usable }

// Frametimes returns a copy of the buffer, newest-first.
func (b *FrameBuffer) Frametimes() []time.Duration {
	out := make([]time.Duration, len(b.frametimes))
	copy(out, b.frametimes)
	return out
}

// Len returns the number of buffered frame durations.
func (b *FrameBuffer) Len() int { return len(b.frametimes) }

// AdditionalFrametime returns the stall accumulator.
func (b *FrameBuffer) AdditionalFrametime() time.Duration { return b.additionalFrametime }

// LastUpdate returns the instant of the most recent real (non-stall) frame.
func (b *FrameBuffer) LastUpdate() time.Time { return b.lastUpdate }

// CurrentFPSLong returns the full-buffer moving-average FPS.
func (b *FrameBuffer) CurrentFPSLong() float64 { return b.currentFPSLong }

// CurrentFPSShort returns the short-window moving-average FPS.
func (b *FrameBuffer) CurrentFPSShort() float64 { return b.currentFPSShort }

// AvgTimeLong returns the full-buffer moving-average frame time.
func (b *FrameBuffer) AvgTimeLong() time.Duration { return b.avgTimeLong }

// AvgTimeShort returns the short-window moving-average frame time.
func (b *FrameBuffer) AvgTimeShort() time.Duration { return b.avgTimeShort }

// capacity returns the current frame-time ring capacity: 5x the inferred
// target FPS, or defaultCapacity while no target FPS is known.
func (b *FrameBuffer) capacity() int {
	if b.targetFPS != nil {
		return 5 * int(*b.targetFPS)
	}
	return defaultCapacity
}

// Push records a real frame of the given duration, observed at now.
func (b *FrameBuffer) Push(d time.Duration, now time.Time) {
	b.additionalFrametime = 0
	b.lastUpdate = now

	cap := b.capacity()
	b.frametimes = append([]time.Duration{d}, b.frametimes...)
	if len(b.frametimes) > cap {
		b.frametimes = b.frametimes[:cap]
	}

	b.tryCalculate(now)
}

// StallTick is invoked when no frame event arrives within the Looper's
// event timeout: it accounts for the elapsed time without pretending a
// real frame occurred.
func (b *FrameBuffer) StallTick(now time.Time) {
	if b.lastUpdate.IsZero() {
		b.additionalFrametime = 0
	} else {
		b.additionalFrametime = now.Sub(b.lastUpdate)
	}
	b.tryCalculate(now)
}

// tryCalculate recomputes moving averages and re-infers the target FPS at
// most once per recomputeInterval, then reevaluates usability.
func (b *FrameBuffer) tryCalculate(now time.Time) {
	if b.lastRecompute.IsZero() || now.Sub(b.lastRecompute) >= recomputeInterval {
		b.lastRecompute = now

		shortWindow := defaultShortWindow
		if b.targetFPS != nil {
			shortWindow = int(*b.targetFPS)
		}

		b.avgTimeLong = b.avgTime(len(b.frametimes))
		b.avgTimeShort = b.avgTime(shortWindow)
		b.currentFPSLong = fpsFromAvgTime(b.avgTimeLong)
		b.currentFPSShort = fpsFromAvgTime(b.avgTimeShort)

		b.inferTargetFPS(now)
	}

	b.tryUsable(now)
}

// avgTime is the average of the first min(itTakes, len) frametimes plus
// the stall accumulator, divided by that count (zero if the buffer is
// empty), per spec §4.1.
func (b *FrameBuffer) avgTime(itTakes int) time.Duration {
	n := itTakes
	if n > len(b.frametimes) {
		n = len(b.frametimes)
	}
	if n == 0 {
		return 0
	}

	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += b.frametimes[i]
	}
	sum += b.additionalFrametime

	return sum / time.Duration(n)
}

func fpsFromAvgTime(avg time.Duration) float64 {
	if avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(avg)
}

// inferTargetFPS implements spec §4.1's infer_target_fps rule and the
// target-fps-change cleanup (clear buffer, go Unusable, reset timer, emit
// TargetFpsChange).
func (b *FrameBuffer) inferTargetFPS(now time.Time) {
	var newTarget *uint32

	switch b.targetFPSConfig.Kind {
	case fastype.TargetFPSExact:
		v := b.targetFPSConfig.Exact
		newTarget = &v
	case fastype.TargetFPSCandidates:
		newTarget = matchCandidate(b.targetFPSConfig.Candidates, b.currentFPSLong)
	}

	changed := !sameTarget(b.targetFPS, newTarget)
	if changed {
		b.frametimes = nil
		b.workingState = fastype.Unusable
		b.workingStateSince = now

		if newTarget != nil && b.dispatcher != nil {
			b.dispatcher.TrySend(extension.Event{
				Kind:    extension.TargetFPSChange,
				Package: b.pkg,
				FPS:     *newTarget,
			})
		}
	}

	b.targetFPS = newTarget
}

// matchCandidate implements the Candidates branch of infer_target_fps:
// None below the low floor, else the smallest candidate within +3 of the
// observed long-window FPS, falling back to the largest candidate.
func matchCandidate(candidates []uint32, currentFPSLong float64) *uint32 {
	if len(candidates) == 0 {
		return nil
	}

	floor := int64(candidates[0]) - 10
	if floor < 10 {
		floor = 10
	}
	if currentFPSLong < float64(floor) {
		return nil
	}

	for i := range candidates {
		c := candidates[i]
		if currentFPSLong <= float64(c)+3 {
			return &c
		}
	}

	last := candidates[len(candidates)-1]
	return &last
}

func sameTarget(a, b *uint32) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}

// tryUsable promotes Unusable -> Usable once the usability window has
// elapsed since the last target-fps change and the buffer holds enough
// samples, per invariant I2.
func (b *FrameBuffer) tryUsable(now time.Time) {
	if b.workingState != fastype.Unusable {
		return
	}
	if b.workingStateSince.IsZero() {
		return
	}
	if now.Sub(b.workingStateSince) < usabilityWindow {
		return
	}
	if len(b.frametimes) < minUsableSamples {
		return
	}
	b.workingState = fastype.Usable
}
