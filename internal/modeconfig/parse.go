package modeconfig

import (
	"fmt"

	"github.com/framepacer/fasd/internal/fastype"
	"github.com/framepacer/fasd/internal/thermal"
)

// autoCandidates is target_fps(pkg) == "auto" per spec §4.5.
var autoCandidates = []uint32{30, 45, 60, 90, 120, 144}

// resolve builds a typed Config from a merged rawDocument. Any
// unresolvable shape anywhere in game_list or the four mode tables
// surfaces as ErrConfigParse, matching spec §7's ConfigParse error kind.
func resolve(doc rawDocument) (*Config, error) {
	cfg := &Config{
		keepStd:       toBool(doc.Config["keep_std"]),
		sceneGameList: toBool(doc.Config["scene_game_list"]),
		loggerLevel:   toStringOr(doc.Config["logger_level"], "info"),
		gameList:      make(map[string]fastype.TargetFPSConfig, len(doc.GameList)),
		modes:         make(map[fastype.Mode]ModeSettings, 4),
	}

	for pkg, raw := range doc.GameList {
		tfc, err := parseTargetFPS(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: game_list[%s]: %v", ErrConfigParse, pkg, err)
		}
		cfg.gameList[pkg] = tfc
	}

	modeTables := map[fastype.Mode]rawTable{
		fastype.ModePowersave:   doc.Powersave,
		fastype.ModeBalance:     doc.Balance,
		fastype.ModePerformance: doc.Performance,
		fastype.ModeFast:        doc.Fast,
	}
	for mode, table := range modeTables {
		settings, err := parseModeSettings(table)
		if err != nil {
			return nil, fmt.Errorf("%w: mode %s: %v", ErrConfigParse, mode, err)
		}
		cfg.modes[mode] = settings
	}

	return cfg, nil
}

// parseTargetFPS implements target_fps(pkg)'s shape resolution: an
// integer is Exact, an array of integers is Candidates, "auto" expands
// to the fixed candidate ladder, anything else is a parse error.
func parseTargetFPS(raw interface{}) (fastype.TargetFPSConfig, error) {
	switch v := raw.(type) {
	case string:
		if v == "auto" {
			return fastype.NewCandidateTargetFPS(autoCandidates), nil
		}
		return fastype.TargetFPSConfig{}, fmt.Errorf("unrecognized target_fps string %q", v)
	case int64:
		return fastype.NewExactTargetFPS(uint32(v)), nil
	case []interface{}:
		candidates := make([]uint32, 0, len(v))
		for _, item := range v {
			n, ok := item.(int64)
			if !ok {
				return fastype.TargetFPSConfig{}, fmt.Errorf("target_fps candidate %v is not an integer", item)
			}
			candidates = append(candidates, uint32(n))
		}
		return fastype.NewCandidateTargetFPS(candidates), nil
	default:
		return fastype.TargetFPSConfig{}, fmt.Errorf("target_fps has unsupported shape %T", raw)
	}
}

func parseModeSettings(table rawTable) (ModeSettings, error) {
	margin, err := parseMarginFPS(table["margin_fps"])
	if err != nil {
		return ModeSettings{}, fmt.Errorf("margin_fps: %w", err)
	}
	thresh, err := parseCoreTempThresh(table["core_temp_thresh"])
	if err != nil {
		return ModeSettings{}, fmt.Errorf("core_temp_thresh: %w", err)
	}
	return ModeSettings{MarginFPS: margin, CoreTempThresh: thresh}, nil
}

func parseMarginFPS(raw interface{}) (MarginFPS, error) {
	switch v := raw.(type) {
	case int64:
		return MarginFPS{Base: float64(v)}, nil
	case float64:
		return MarginFPS{Base: v}, nil
	case map[string]interface{}:
		baseRaw, ok := v["base"]
		if !ok {
			return MarginFPS{}, fmt.Errorf("advanced margin_fps table missing \"base\"")
		}
		base, err := toFloat(baseRaw)
		if err != nil {
			return MarginFPS{}, fmt.Errorf("base: %w", err)
		}
		overrides := make(map[string]float64, len(v)-1)
		for k, val := range v {
			if k == "base" {
				continue
			}
			f, err := toFloat(val)
			if err != nil {
				return MarginFPS{}, fmt.Errorf("override %s: %w", k, err)
			}
			overrides[k] = f
		}
		return MarginFPS{Base: base, Overrides: overrides}, nil
	default:
		return MarginFPS{}, fmt.Errorf("margin_fps has unsupported shape %T", raw)
	}
}

func parseCoreTempThresh(raw interface{}) (thermal.CoreTempThresh, error) {
	switch v := raw.(type) {
	case string:
		if v == "disabled" {
			return thermal.CoreTempThresh{Disabled: true}, nil
		}
		return thermal.CoreTempThresh{}, fmt.Errorf("unrecognized core_temp_thresh string %q", v)
	case int64:
		return thermal.CoreTempThresh{MilliC: v}, nil
	default:
		return thermal.CoreTempThresh{}, fmt.Errorf("core_temp_thresh has unsupported shape %T", raw)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toStringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}
