package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framepacer/fasd/internal/buffer"
	"github.com/framepacer/fasd/internal/fastype"
)

type fakeUsage struct{ max float64 }

func (f fakeUsage) UsageMax() float64 { return f.max }

func warmedBuffer(t *testing.T, targetFPS uint32, frame time.Duration, samples int) (*buffer.FrameBuffer, time.Time) {
	t.Helper()
	buf := buffer.New(1, "com.example.game", fastype.NewExactTargetFPS(targetFPS), nil)
	now := time.Now()
	for i := 0; i < samples; i++ {
		now = now.Add(frame)
		buf.Push(frame, now)
	}
	return buf, now
}

func TestCompute_InsufficientSamplesReturnsZero(t *testing.T) {
	buf := buffer.New(1, "com.example.game", fastype.NewExactTargetFPS(60), nil)
	now := time.Now()
	buf.Push(16*time.Millisecond, now)

	state := &State{}
	khz := Compute(buf, DefaultParams(), 0, 0, fakeUsage{max: 50}, state, now)
	assert.Equal(t, int64(0), khz)
}

func TestCompute_Scenario2_FrameSpikeYieldsPositiveControl(t *testing.T) {
	buf, now := warmedBuffer(t, 60, 16600*time.Microsecond, 70)

	spike := 50 * time.Millisecond
	now = now.Add(spike)
	buf.Push(spike, now)

	state := &State{}
	khz := Compute(buf, DefaultParams(), 0, 0, fakeUsage{max: 50}, state, now)
	assert.Positive(t, khz)
}

func TestCompute_Scenario3_UsageOffsetPushesUpwardAndClampsAtZero(t *testing.T) {
	buf, now := warmedBuffer(t, 60, 14*time.Millisecond, 70)

	state := &State{}
	usage := fakeUsage{max: 90}

	// First sample establishes the timer; step the clock past 1s boundaries
	// repeatedly so each Compute call re-samples usage.
	for i := 0; i < 5; i++ {
		now = now.Add(1100 * time.Millisecond)
		buf.Push(14*time.Millisecond, now)
		Compute(buf, DefaultParams(), 0, 0, usage, state, now)
	}

	assert.InDelta(t, 0.0, state.TargetFPSOffsetUsage, 1e-9)
	assert.LessOrEqual(t, state.TargetFPSOffsetUsage, 0.0)
}

func TestCompute_UsageOffsetNeverExceedsZero(t *testing.T) {
	state := &State{TargetFPSOffsetUsage: 0}
	now := time.Now()
	for i := 0; i < 10; i++ {
		now = now.Add(1100 * time.Millisecond)
		sampleUsageOffset(state, fakeUsage{max: 95}, now)
	}
	assert.LessOrEqual(t, state.TargetFPSOffsetUsage, 0.0)
}

func TestCompute_UsageOffsetClampsAtMinusFive(t *testing.T) {
	state := &State{}
	now := time.Now()
	for i := 0; i < 100; i++ {
		now = now.Add(1100 * time.Millisecond)
		sampleUsageOffset(state, fakeUsage{max: 10}, now)
	}
	assert.InDelta(t, -5.0, state.TargetFPSOffsetUsage, 1e-9)
}

func TestCompute_ZeroThermalTargetReturnsZero(t *testing.T) {
	buf, now := warmedBuffer(t, 60, 16*time.Millisecond, 70)

	state := &State{}
	khz := Compute(buf, DefaultParams(), 0, -60, fakeUsage{max: 50}, state, now)
	require.Equal(t, int64(0), khz)
}
