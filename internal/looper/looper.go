// Package looper implements the Looper of spec §4.4: the single
// event-driven core loop that multiplexes frame events, topapp changes,
// and mode/config changes, driving the NotWorking/Waiting/Working state
// machine and its collaborators (Controller Core, Thermal Offset,
// Cleaner, CPU Controller). Grounded on
// original_source/src/framework/scheduler/looper/mod.rs's Looper
// (enter_loop, switch_mode, recv_message, do_policy, retain_topapp,
// disable_fas, enable_fas, buffer_update), generalized from a single
// hand-rolled recv_timeout to a select over a channel plus time.After.
package looper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/framepacer/fasd/internal/buffer"
	"github.com/framepacer/fasd/internal/cleaner"
	"github.com/framepacer/fasd/internal/controller"
	"github.com/framepacer/fasd/internal/cpucontrol"
	"github.com/framepacer/fasd/internal/extension"
	"github.com/framepacer/fasd/internal/fastype"
	"github.com/framepacer/fasd/internal/frameanalyzer"
	"github.com/framepacer/fasd/internal/modeconfig"
	"github.com/framepacer/fasd/internal/sysnode"
	"github.com/framepacer/fasd/internal/thermal"
	"github.com/framepacer/fasd/internal/topapp"
)

// workingState is the Working/Waiting/NotWorking state of spec §4.4.
type workingState int

const (
	notWorking workingState = iota
	waiting
	working
)

func (s workingState) String() string {
	switch s {
	case waiting:
		return "waiting"
	case working:
		return "working"
	default:
		return "not_working"
	}
}

const (
	frameEventTimeout = 100 * time.Millisecond
	workingDelay      = 3 * time.Second
	restartDebounce   = time.Second
	topappRetryWindow = time.Second
)

// Config collects the Looper's fixed tuning constants, overridable for
// tests; production callers get the spec's defaults from DefaultConfig.
type Config struct {
	FrameEventTimeout time.Duration
	WorkingDelay      time.Duration
	RestartDebounce   time.Duration
	TopappRetryWindow time.Duration
	ControllerParams  controller.Params
}

// DefaultConfig returns the spec's literal constants (100ms event
// timeout, 3s Waiting->Working delay, 1s restart debounce and topapp
// retry window).
func DefaultConfig() Config {
	return Config{
		FrameEventTimeout: frameEventTimeout,
		WorkingDelay:      workingDelay,
		RestartDebounce:   restartDebounce,
		TopappRetryWindow: topappRetryWindow,
		ControllerParams:  controller.DefaultParams(),
	}
}

// Looper owns every collaborator and runs the core decision loop.
type Looper struct {
	cfg Config

	analyzer    frameanalyzer.Source
	topappWatch topapp.Watcher
	resolver    topapp.PackageResolver
	node        *sysnode.Node
	cleaner     *cleaner.Cleaner
	cpu         *cpucontrol.Controller
	thermal     *thermal.State
	dispatcher  *extension.Dispatcher
	updates     <-chan *modeconfig.Config
	logger      zerolog.Logger

	config *modeconfig.Config

	mode         fastype.Mode
	state        workingState
	delaySince   time.Time
	buf          *buffer.FrameBuffer
	controllerSt controller.State

	restartCounter int
	restartSince   time.Time

	// lastTopapp/lastTopappOK implement spec §7's TopappDumpError
	// handling: a dump failure retains the last known set for up to
	// topappRetryWindow before falling back to an empty set.
	lastTopapp   map[int32]struct{}
	lastTopappOK time.Time
}

// New constructs a Looper ready to Run. initialConfig is the first
// resolved configuration snapshot (typically from modeconfig.Load);
// updates delivers subsequent reloads (typically modeconfig.Watcher's
// channel).
func New(
	cfg Config,
	analyzer frameanalyzer.Source,
	topappWatch topapp.Watcher,
	resolver topapp.PackageResolver,
	node *sysnode.Node,
	cl *cleaner.Cleaner,
	cpu *cpucontrol.Controller,
	th *thermal.State,
	dispatcher *extension.Dispatcher,
	initialConfig *modeconfig.Config,
	updates <-chan *modeconfig.Config,
	logger zerolog.Logger,
) *Looper {
	return &Looper{
		cfg:         cfg,
		analyzer:    analyzer,
		topappWatch: topappWatch,
		resolver:    resolver,
		node:        node,
		cleaner:     cl,
		cpu:         cpu,
		thermal:     th,
		dispatcher:  dispatcher,
		updates:     updates,
		logger:      logger.With().Str("component", "looper").Logger(),
		config:      initialConfig,
		mode:        fastype.ModeBalance,
		state:       notWorking,
		lastTopapp:  map[int32]struct{}{},
	}
}

// Run executes the core loop until ctx is canceled. Each iteration
// performs, in order: config drain, mode switch, analyzer attachment
// refresh, topapp retention, freeform-window check, and a single
// frame-event receive with a bounded timeout.
func (l *Looper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.drainConfig()
		l.switchMode(time.Now())

		pids, ok := l.topappPIDs()
		if ok {
			l.updateAnalyzer(pids)
		}

		l.retainTopapp(pids, l.topappWatch.VisibleFreeformWindow())

		l.tick(ctx)
	}
}

// drainConfig applies the most recent pending config snapshot, if any,
// without blocking.
func (l *Looper) drainConfig() {
	select {
	case cfg, ok := <-l.updates:
		if ok && cfg != nil {
			l.config = cfg
		}
	default:
	}
}

// switchMode re-reads the mode node and, on change, re-invokes
// controller.init_game if currently Working (spec §4.4 step 1).
func (l *Looper) switchMode(now time.Time) {
	newMode := l.node.ReadMode(now)
	if newMode == l.mode {
		return
	}

	l.logger.Info().Str("from", l.mode.String()).Str("to", newMode.String()).Msg("mode switch")
	l.mode = newMode

	if l.state == working {
		l.cpu.InitGame()
	}
}

// topappPIDs fetches the current topapp set, retaining the last-known
// set for up to TopappRetryWindow on failure and falling back to empty
// past that, per spec §7's TopappDumpError handling. The bool result
// reports whether the dump itself succeeded (used to gate attachment
// refresh, which needs package resolution to be meaningful).
func (l *Looper) topappPIDs() (map[int32]struct{}, bool) {
	pids, err := l.topappWatch.TopappPIDs()
	if err == nil {
		l.lastTopapp = pids
		l.lastTopappOK = time.Now()
		return pids, true
	}

	l.logger.Warn().Err(err).Msg("topapp dump failed")
	if time.Since(l.lastTopappOK) < l.cfg.TopappRetryWindow {
		return l.lastTopapp, false
	}
	l.lastTopapp = map[int32]struct{}{}
	return l.lastTopapp, false
}

// updateAnalyzer attaches the frame analyzer to every topapp pid whose
// package needs FAS (spec §4.4 step 2).
func (l *Looper) updateAnalyzer(pids map[int32]struct{}) {
	for pid := range pids {
		pkg, ok := l.resolver.PackageForPID(pid)
		if !ok {
			continue
		}
		if !l.config.NeedsFAS(pkg) {
			continue
		}
		if err := l.analyzer.Attach(pid); err != nil {
			l.logger.Warn().Err(err).Int32("pid", pid).Msg("analyzer attach failed")
		}
	}
}

// retainTopapp drops the active buffer if its pid left the topapp set,
// emitting UnloadFas, then drives enable/disable based on whether a
// buffer remains (spec §4.4 step 3). enableFas is gated on freeform
// being absent: while a freeform window is visible, disable_fas must
// stay "invoked once and remain effective" (spec §8 scenario 6), not be
// fought every iteration by a buffer that is still present.
func (l *Looper) retainTopapp(pids map[int32]struct{}, freeform bool) {
	if l.buf != nil {
		if _, stillTop := pids[l.buf.PID()]; !stillTop {
			l.analyzer.Detach(l.buf.PID())
			l.dispatcher.TrySend(extension.Event{Kind: extension.UnloadFas, PID: l.buf.PID(), Package: l.buf.Package()})
			l.buf = nil
		}
	}

	if l.buf == nil || freeform {
		l.disableFas()
	} else {
		l.enableFas()
	}
}

// disableFas implements spec §4.4's "* -> NotWorking" transition.
// Idempotent per T6: repeated calls while already NotWorking do nothing.
func (l *Looper) disableFas() {
	switch l.state {
	case working:
		l.state = notWorking
		l.cleaner.UndoCleanup()
		l.cpu.InitDefault()
		l.dispatcher.TrySend(extension.Event{Kind: extension.StopFas})
	case waiting:
		l.state = notWorking
	case notWorking:
	}
}

// enableFas implements the NotWorking->Waiting->Working progression of
// spec §4.4.
func (l *Looper) enableFas() {
	switch l.state {
	case notWorking:
		l.state = waiting
		l.delaySince = time.Now()
		l.dispatcher.TrySend(extension.Event{Kind: extension.StartFas})
	case waiting:
		if time.Since(l.delaySince) > l.cfg.WorkingDelay {
			l.state = working
			l.cleaner.Cleanup()
			l.controllerSt = controller.State{}
			l.cpu.InitGame()
		}
	case working:
	}
}

// tick receives a single frame event with a bounded timeout, matching
// spec §4.4 step 5, and drives buffer update / stall handling.
func (l *Looper) tick(ctx context.Context) {
	timer := time.NewTimer(l.cfg.FrameEventTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case evt := <-l.analyzer.Events():
		l.onFrameEvent(evt)
	case <-timer.C:
		l.onStall()
	}
}

func (l *Looper) onFrameEvent(evt fastype.FrameEvent) {
	state, ok := l.bufferUpdate(evt)
	if !ok {
		return
	}
	switch state {
	case fastype.Usable:
		l.doPolicy()
	case fastype.Unusable:
		l.disableFas()
	}
}

func (l *Looper) onStall() {
	if l.buf == nil {
		return
	}
	l.buf.StallTick(time.Now())

	if l.buf.IsUsable() {
		l.doPolicy()
		return
	}
	l.restartAnalyzerDebounced()
	l.disableFas()
}

// restartAnalyzerDebounced requires two consecutive stall ticks at least
// RestartDebounce apart before issuing a hard restart, per spec §4.4
// step 5's "debounced: require two consecutive ticks separated by >= 1s".
func (l *Looper) restartAnalyzerDebounced() {
	if l.restartCounter == 1 {
		if time.Since(l.restartSince) >= l.cfg.RestartDebounce {
			l.restartSince = time.Now()
			l.restartCounter = 0
			if err := l.analyzer.Restart(); err != nil {
				l.logger.Warn().Err(err).Msg("analyzer restart failed")
			}
		}
	} else {
		l.restartCounter++
		if l.restartSince.IsZero() {
			l.restartSince = time.Now()
		}
	}
}

// bufferUpdate implements spec §4.4 step 5's frame-event branch: ignores
// events for a pid not in topapp or with a zero duration, else
// creates-or-updates the single active buffer.
func (l *Looper) bufferUpdate(evt fastype.FrameEvent) (fastype.WorkingState, bool) {
	pids, _ := l.topappPIDs()
	if _, top := pids[evt.PID]; !top || evt.FrameDuration == 0 {
		return 0, false
	}

	if l.buf != nil && l.buf.PID() == evt.PID {
		l.buf.Push(evt.FrameDuration, time.Now())
		return l.buf.WorkingState(), true
	}

	pkg, ok := l.resolver.PackageForPID(evt.PID)
	if !ok {
		return 0, false
	}
	tfc, ok := l.config.TargetFPS(pkg)
	if !ok {
		return 0, false
	}

	l.logger.Info().Str("pkg", pkg).Msg("new fas buffer")
	l.dispatcher.TrySend(extension.Event{Kind: extension.LoadFas, PID: evt.PID, Package: pkg})

	buf := buffer.New(evt.PID, pkg, tfc, l.dispatcher)
	buf.Push(evt.FrameDuration, time.Now())
	l.buf = buf

	return fastype.Unusable, true
}

// doPolicy implements spec §4.4's do_policy: refresh usage, compute the
// control delta via the Controller Core (folding in the thermal offset),
// and write it through the CPU Controller. A no-op unless Working.
func (l *Looper) doPolicy() {
	if l.state != working || l.buf == nil {
		return
	}

	l.cpu.RefreshUsage()
	thermalOffset := l.thermal.Tick(l.mode, l.config)
	margin := l.config.MarginFPS(l.mode, l.buf.Package())

	control := controller.Compute(l.buf, l.cfg.ControllerParams, margin, thermalOffset, l.cpu, &l.controllerSt, time.Now())
	l.cpu.FasUpdateFreq(control)
}
