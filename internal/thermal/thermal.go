// Package thermal implements the Thermal Offset collaborator from spec
// §4.3: a slow integrator that reduces the effective target FPS under
// sustained heat, driven by the maximum reading across a discovered set
// of CPU-adjacent thermal zones.
package thermal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/framepacer/fasd/internal/fastype"
	"github.com/framepacer/fasd/internal/safe"
)

const (
	thermalClassDir = "/sys/devices/virtual/thermal"

	offsetStep = 0.1
	offsetMin  = -5.0
	offsetMax  = 0.0

	// maxNodeFileSize bounds safe.ReadFile's trust in thermal sysfs
	// nodes, which hold a handful of bytes at most.
	maxNodeFileSize = 4096
)

// cpuTypeMarkers identifies thermal zones relevant to CPU throttling by
// substring match against their "type" node, per spec §6.
var cpuTypeMarkers = []string{"cpu-", "soc_max", "mtktscpu"}

// ThresholdSource resolves the current mode's temperature threshold.
// Implemented by internal/modeconfig.Config; kept as a narrow interface
// here so this package never imports modeconfig.
type ThresholdSource interface {
	CoreTempThresh(mode fastype.Mode) CoreTempThresh
}

// CoreTempThresh is the per-mode thermal threshold. A Disabled threshold
// switches the offset integrator off entirely (Tick always returns 0).
type CoreTempThresh struct {
	Disabled bool
	MilliC   int64
}

// State is the ThermalState described in spec §3: the integrated offset,
// the last sampled temperature, and the discovered node set.
type State struct {
	TargetFPSOffsetThermal float64
	LastCoreTemp           int64
	TempNodes              []string

	logger zerolog.Logger
}

// New discovers thermal zones under classDir (pass "" for the default
// /sys/devices/virtual/thermal) whose type matches one of the CPU
// markers. It is not an error for none to be found: every Tick sample
// then fails, and Tick logs a warning and holds the current offset,
// matching the "thermal inputs are best-effort" stance of spec §7.
func New(classDir string, logger zerolog.Logger) *State {
	if classDir == "" {
		classDir = thermalClassDir
	}

	var nodes []string
	entries, err := os.ReadDir(classDir)
	if err != nil {
		logger.Warn().Err(err).Str("dir", classDir).Msg("thermal class directory unreadable")
		return &State{logger: logger}
	}

	for _, entry := range entries {
		zoneDir := filepath.Join(classDir, entry.Name())
		typeBytes, err := safe.ReadFile(filepath.Join(zoneDir, "type"), &safe.ReadFileOptions{MaxSize: maxNodeFileSize})
		if err != nil {
			continue
		}
		zoneType := strings.TrimSpace(string(typeBytes))
		if !matchesCPUMarker(zoneType) {
			continue
		}
		tempPath := filepath.Join(zoneDir, "temp")
		if _, err := os.Stat(tempPath); err != nil {
			continue
		}
		nodes = append(nodes, tempPath)
	}

	return &State{TempNodes: nodes, logger: logger}
}

func matchesCPUMarker(zoneType string) bool {
	for _, marker := range cpuTypeMarkers {
		if strings.Contains(zoneType, marker) {
			return true
		}
	}
	return false
}

// sample reads every discovered node and returns the maximum temperature,
// in the node's native units (typically millidegree Celsius).
func (s *State) sample() (int64, error) {
	if len(s.TempNodes) == 0 {
		return 0, fmt.Errorf("thermal: no CPU thermal nodes discovered")
	}

	var max int64
	var found bool
	for _, path := range s.TempNodes {
		raw, err := safe.ReadFile(path, &safe.ReadFileOptions{MaxSize: maxNodeFileSize})
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("thermal node unreadable")
			continue
		}
		temp, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("thermal node unparseable")
			continue
		}
		if !found || temp > max {
			max = temp
			found = true
		}
	}

	if !found {
		return 0, fmt.Errorf("thermal: all discovered nodes failed to read")
	}
	return max, nil
}

// Tick implements one loop iteration of the thermal integrator: sample
// the maximum temperature, compare against the mode's threshold, and
// step the offset by ±0.1, clamped to [-5, 0]. A Disabled threshold
// returns 0; a sample failure is logged and returns the current offset
// unchanged. Neither moves the integrator.
func (s *State) Tick(mode fastype.Mode, thresholds ThresholdSource) float64 {
	thresh := thresholds.CoreTempThresh(mode)
	if thresh.Disabled {
		return 0
	}

	temp, err := s.sample()
	if err != nil {
		s.logger.Warn().Err(err).Msg("thermal sample failed, holding offset")
		return s.TargetFPSOffsetThermal
	}
	s.LastCoreTemp = temp

	if temp > thresh.MilliC {
		s.TargetFPSOffsetThermal -= offsetStep
	} else {
		s.TargetFPSOffsetThermal += offsetStep
	}
	s.TargetFPSOffsetThermal = clamp(s.TargetFPSOffsetThermal, offsetMin, offsetMax)

	return s.TargetFPSOffsetThermal
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
