// Package extension implements the bounded, best-effort side-effect bus
// described in spec §6: a fixed set of named callback points that the core
// emits to, with no scripting engine behind them. Delivery is unordered and
// never allowed to block the Looper.
package extension

import (
	"context"

	"github.com/rs/zerolog"
)

// Kind identifies one of the seven named extension callback points.
type Kind int

const (
	InitCpuFreq Kind = iota
	ResetCpuFreq
	LoadFas
	UnloadFas
	StartFas
	StopFas
	TargetFPSChange
)

func (k Kind) String() string {
	switch k {
	case InitCpuFreq:
		return "init_cpu_freq"
	case ResetCpuFreq:
		return "reset_cpu_freq"
	case LoadFas:
		return "load_fas"
	case UnloadFas:
		return "unload_fas"
	case StartFas:
		return "start_fas"
	case StopFas:
		return "stop_fas"
	case TargetFPSChange:
		return "target_fps_change"
	default:
		return "unknown"
	}
}

// Event is a single extension callback invocation. Not every field is set
// for every Kind: LoadFas/UnloadFas carry PID+Package, TargetFPSChange
// carries Package+FPS, the others carry neither.
type Event struct {
	Kind    Kind
	PID     int32
	Package string
	FPS     uint32
}

// queueCapacity is the bounded channel size from spec §5.
const queueCapacity = 16

// Handler processes a dispatched event. Implementers must not block; the
// dispatcher runs handlers on its single worker goroutine and a slow
// handler delays every subsequent event.
type Handler func(Event)

// Dispatcher delivers Events to a Handler on a single background worker,
// off a bounded channel. Producers use TrySend, which never blocks: a full
// queue silently drops the event, matching spec §5's "best-effort,
// unordered" delivery guarantee.
type Dispatcher struct {
	events chan Event
	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher. Call Run to start its worker.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		events: make(chan Event, queueCapacity),
		logger: logger.With().Str("component", "extension_dispatcher").Logger(),
	}
}

// TrySend enqueues an event without blocking. Returns false if the queue is
// full, in which case the event is dropped.
func (d *Dispatcher) TrySend(e Event) bool {
	select {
	case d.events <- e:
		return true
	default:
		d.logger.Warn().Str("kind", e.Kind.String()).Msg("extension event dropped, queue full")
		return false
	}
}

// Events exposes the underlying channel for tests that want to observe a
// dispatched event without starting a Run worker.
func (d *Dispatcher) Events() <-chan Event {
	return d.events
}

// Run drains the event queue, calling handle for each event, until ctx is
// canceled. If handle is nil, events are merely logged at debug level —
// the default behavior when no extension implementation is loaded.
func (d *Dispatcher) Run(ctx context.Context, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.events:
			if handle != nil {
				handle(e)
				continue
			}
			d.logger.Debug().
				Str("kind", e.Kind.String()).
				Int32("pid", e.PID).
				Str("package", e.Package).
				Uint32("fps", e.FPS).
				Msg("extension event")
		}
	}
}
