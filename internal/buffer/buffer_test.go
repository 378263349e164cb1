package buffer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framepacer/fasd/internal/extension"
	"github.com/framepacer/fasd/internal/fastype"
	"github.com/rs/zerolog"
)

func TestFrameBuffer_ExactTarget_BecomesUsableAfterWindow(t *testing.T) {
	buf := New(1, "com.example.app", fastype.NewExactTargetFPS(60), nil)
	now := time.Now()

	// Enough pushes to clear the 60-sample floor, but kept inside the 1s
	// settling window so the buffer must still read Unusable.
	frame := 5 * time.Millisecond
	for i := 0; i < 65; i++ {
		now = now.Add(frame)
		buf.Push(frame, now)
	}

	fps, ok := buf.TargetFPS()
	require.True(t, ok)
	assert.Equal(t, uint32(60), fps)
	assert.False(t, buf.IsUsable(), "must stay Unusable inside the 1s settling window")

	now = now.Add(1100 * time.Millisecond)
	buf.Push(frame, now)

	assert.True(t, buf.IsUsable())
}

func TestFrameBuffer_CapacityIsFiveTimesTargetFPS(t *testing.T) {
	buf := New(1, "com.example.app", fastype.NewExactTargetFPS(30), nil)
	now := time.Now()
	frame := 33 * time.Millisecond

	for i := 0; i < 500; i++ {
		now = now.Add(frame)
		buf.Push(frame, now)
	}

	assert.LessOrEqual(t, buf.Len(), 150)
}

func TestFrameBuffer_DefaultCapacityBeforeTargetKnown(t *testing.T) {
	buf := New(1, "com.example.app", fastype.NewCandidateTargetFPS(nil), nil)
	now := time.Now()
	frame := 16 * time.Millisecond

	for i := 0; i < 1000; i++ {
		now = now.Add(frame)
		buf.Push(frame, now)
	}

	assert.LessOrEqual(t, buf.Len(), defaultCapacity)
}

func TestFrameBuffer_StallTickAccumulatesAdditionalFrametime(t *testing.T) {
	buf := New(1, "com.example.app", fastype.NewExactTargetFPS(60), nil)
	now := time.Now()
	buf.Push(16*time.Millisecond, now)

	now = now.Add(500 * time.Millisecond)
	buf.StallTick(now)

	assert.Equal(t, 500*time.Millisecond, buf.AdditionalFrametime())
}

func TestFrameBuffer_StallTickBeforeAnyPush(t *testing.T) {
	buf := New(1, "com.example.app", fastype.NewExactTargetFPS(60), nil)
	buf.StallTick(time.Now())
	assert.Equal(t, time.Duration(0), buf.AdditionalFrametime())
}

func TestFrameBuffer_AvgTime(t *testing.T) {
	buf := New(1, "com.example.app", fastype.NewExactTargetFPS(60), nil)
	assert.Equal(t, time.Duration(0), buf.avgTime(10), "empty buffer averages to zero")

	now := time.Now()
	// The first push establishes the target FPS, and that change clears
	// the buffer; push a priming frame so the three below are all retained.
	buf.Push(10*time.Millisecond, now)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	for _, d := range durations {
		now = now.Add(d)
		buf.Push(d, now)
	}

	// newest-first: [30, 20, 10]ms, avg of first 2 = 25ms.
	assert.Equal(t, 25*time.Millisecond, buf.avgTime(2))
	assert.Equal(t, 20*time.Millisecond, buf.avgTime(3))
	// itTakes beyond len clamps to len.
	assert.Equal(t, 20*time.Millisecond, buf.avgTime(100))
}

func TestFrameBuffer_TargetFPSChange_ResetsBufferAndEmits(t *testing.T) {
	dispatcher := extension.NewDispatcher(zerolog.Nop())
	candidates := fastype.NewCandidateTargetFPS([]uint32{30, 60, 90, 120})
	buf := New(7, "com.example.game", candidates, dispatcher)

	now := time.Now()
	// Fast frames imply ~120fps; feed enough samples to clear the 100ms
	// recompute gate repeatedly and converge on a candidate.
	frame := 8 * time.Millisecond
	for i := 0; i < 50; i++ {
		now = now.Add(frame)
		buf.Push(frame, now)
	}

	fps, ok := buf.TargetFPS()
	require.True(t, ok)
	assert.Equal(t, uint32(120), fps)

	select {
	case e := <-drainOne(dispatcher):
		assert.Equal(t, extension.TargetFPSChange, e.Kind)
		assert.Equal(t, uint32(120), e.FPS)
	default:
		t.Fatal("expected a TargetFPSChange event")
	}
}

func TestFrameBuffer_CandidateBelowFloorYieldsNoTarget(t *testing.T) {
	buf := New(1, "com.example.app", fastype.NewCandidateTargetFPS([]uint32{60}), nil)
	now := time.Now()

	// ~6fps frames: far below the 50fps floor (60-10).
	frame := 160 * time.Millisecond
	for i := 0; i < 10; i++ {
		now = now.Add(frame)
		buf.Push(frame, now)
	}

	_, ok := buf.TargetFPS()
	assert.False(t, ok)
}

func TestBuffers_RetainDropsUntrackedPIDs(t *testing.T) {
	bufs := NewBuffers()
	bufs.Put(1, New(1, "a", fastype.NewExactTargetFPS(60), nil))
	bufs.Put(2, New(2, "b", fastype.NewExactTargetFPS(60), nil))

	bufs.Retain(map[int32]struct{}{1: {}})

	_, ok := bufs.Get(2)
	assert.False(t, ok)
	_, ok = bufs.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 1, bufs.Len())
}

// drainOne exposes the dispatcher's internal channel for the single test
// above that needs to observe an emitted event synchronously rather than
// starting a Run goroutine.
func drainOne(d *extension.Dispatcher) <-chan extension.Event {
	return d.Events()
}
