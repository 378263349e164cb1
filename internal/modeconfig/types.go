// Package modeconfig implements the Mode & Config collaborator of spec
// §4.5: a reloadable TOML configuration plus the per-mode settings
// (margin, thermal threshold) and per-package target-FPS table it
// resolves to.
package modeconfig

import (
	"github.com/framepacer/fasd/internal/fastype"
	"github.com/framepacer/fasd/internal/thermal"
)

// MarginFPS is the dual-shape margin_fps value: either a single base
// margin for every package, or a base plus per-package overrides.
type MarginFPS struct {
	Base      float64
	Overrides map[string]float64
}

// ForPackage resolves the margin, in milliseconds, for pkg.
func (m MarginFPS) ForPackage(pkg string) float64 {
	if v, ok := m.Overrides[pkg]; ok {
		return v
	}
	return m.Base
}

// ModeSettings is the per-mode slice of a ModeConfig table: margin_fps
// and core_temp_thresh.
type ModeSettings struct {
	MarginFPS      MarginFPS
	CoreTempThresh thermal.CoreTempThresh
}

// Config is a fully resolved, immutable configuration snapshot. The
// Looper replaces its reference wholesale on reload rather than mutating
// one in place, so no internal locking is required.
type Config struct {
	keepStd       bool
	sceneGameList bool
	loggerLevel   string
	gameList      map[string]fastype.TargetFPSConfig
	modes         map[fastype.Mode]ModeSettings
}

// TargetFPS resolves pkg's TargetFpsConfig from game_list, if present.
func (c *Config) TargetFPS(pkg string) (fastype.TargetFPSConfig, bool) {
	tfc, ok := c.gameList[pkg]
	return tfc, ok
}

// NeedsFAS reports whether pkg is listed in game_list at all.
func (c *Config) NeedsFAS(pkg string) bool {
	_, ok := c.gameList[pkg]
	return ok
}

// MarginFPS resolves mode_config.margin_fps(pkg) from spec §4.2 step 9.
func (c *Config) MarginFPS(mode fastype.Mode, pkg string) float64 {
	return c.modes[mode].MarginFPS.ForPackage(pkg)
}

// CoreTempThresh implements thermal.ThresholdSource.
func (c *Config) CoreTempThresh(mode fastype.Mode) thermal.CoreTempThresh {
	return c.modes[mode].CoreTempThresh
}

// KeepStd reports the config.keep_std flag.
func (c *Config) KeepStd() bool { return c.keepStd }

// SceneGameList reports the config.scene_game_list flag.
func (c *Config) SceneGameList() bool { return c.sceneGameList }

// LoggerLevel reports the config.logger_level string.
func (c *Config) LoggerLevel() string { return c.loggerLevel }
