package modeconfig

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/framepacer/fasd/internal/safeclose"
)

// Watcher reloads the config file on every fsnotify Write or Create event
// for it and emits the new snapshot to the Looper, per spec §4.5. It does
// not wait for the writer to close the file, so a write still in progress
// can trigger a reload of partial content. It watches the containing
// directory rather than the file itself so atomic replace-on-write
// (write to a temp file, rename over the target) is still observed.
type Watcher struct {
	path    string
	logger  zerolog.Logger
	updates chan *Config
}

// NewWatcher creates a Watcher for path. Call Run to start it.
func NewWatcher(path string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:    path,
		logger:  logger.With().Str("component", "modeconfig_watcher").Logger(),
		updates: make(chan *Config, 1),
	}
}

// Updates returns the channel of reloaded snapshots. Capacity 1,
// latest-wins: the Looper only ever needs the most recent config.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Run watches the config file's directory until ctx is canceled,
// reloading and publishing a new Config on every write/create event that
// targets the watched path.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer safeclose.DeferClose(w.logger, watcher, "closing config watcher")

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reloadAndPublish()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reloadAndPublish() {
	cfg, err := Load(w.path, w.logger)
	if err != nil {
		w.logger.Warn().Err(err).Msg("config reload failed")
		return
	}

	select {
	case <-w.updates:
	default:
	}
	w.updates <- cfg
}
