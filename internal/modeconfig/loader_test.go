package modeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framepacer/fasd/internal/fastype"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fas.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_OverlaysUserKeysOntoStandardProfile(t *testing.T) {
	path := writeConfig(t, `
[config]
keep_std = false

[game_list]
"com.example.game" = 60

[balance]
margin_fps = 12
`)

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	tfc, ok := cfg.TargetFPS("com.example.game")
	require.True(t, ok)
	assert.Equal(t, fastype.TargetFPSExact, tfc.Kind)
	assert.Equal(t, uint32(60), tfc.Exact)

	// balance.margin_fps was overridden, but powersave's was left at the
	// bundled standard profile's value since the user config never set it.
	assert.Equal(t, 12.0, cfg.MarginFPS(fastype.ModeBalance, "anything"))
	assert.Equal(t, 8.0, cfg.MarginFPS(fastype.ModePowersave, "anything"))
}

func TestLoad_KeepStdIgnoresEveryUserSectionExceptGameList(t *testing.T) {
	path := writeConfig(t, `
[config]
keep_std = true

[game_list]
"com.example.game" = 60

[balance]
margin_fps = 999
`)

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	// keep_std discards the user's balance override wholesale.
	assert.Equal(t, 0.0, cfg.MarginFPS(fastype.ModeBalance, "anything"))

	_, ok := cfg.TargetFPS("com.example.game")
	assert.True(t, ok)
}

func TestLoad_UnknownKeysAreNotAdoptedFromUserOverlay(t *testing.T) {
	path := writeConfig(t, `
[config]
keep_std = false

[balance]
margin_fps = 5
made_up_key = "ignored"
`)

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.MarginFPS(fastype.ModeBalance, "anything"))
}

func TestLoad_TargetFPSAutoExpandsToCandidateLadder(t *testing.T) {
	path := writeConfig(t, `
[config]
keep_std = false

[game_list]
"com.example.game" = "auto"
`)

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	tfc, ok := cfg.TargetFPS("com.example.game")
	require.True(t, ok)
	assert.Equal(t, fastype.TargetFPSCandidates, tfc.Kind)
	assert.Equal(t, []uint32{30, 45, 60, 90, 120, 144}, tfc.Candidates)
}

func TestLoad_TargetFPSArrayOfCandidates(t *testing.T) {
	path := writeConfig(t, `
[config]
keep_std = false

[game_list]
"com.example.game" = [30, 60, 90]
`)

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	tfc, ok := cfg.TargetFPS("com.example.game")
	require.True(t, ok)
	assert.Equal(t, fastype.TargetFPSCandidates, tfc.Kind)
	assert.Equal(t, []uint32{30, 60, 90}, tfc.Candidates)
}

func TestLoad_MissingUserFileFallsBackToBundledStandard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.toml")

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)

	assert.False(t, cfg.KeepStd())
	assert.False(t, cfg.NeedsFAS("com.example.game"))
	assert.Equal(t, 0.0, cfg.MarginFPS(fastype.ModeBalance, "anything"))
}

func TestLoad_UnparseableUserFileFallsBackToBundledStandard(t *testing.T) {
	path := writeConfig(t, "this is not valid toml [[[")

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LoggerLevel())
}

func TestResolve_RejectsUnrecognizedTargetFPSShape(t *testing.T) {
	path := writeConfig(t, `
[config]
keep_std = false

[game_list]
"com.example.game" = true
`)

	_, err := Load(path, zerolog.Nop())
	// An invalid game_list shape in the merged document is not a file
	// read/parse failure the retry loop can fix, so Load surfaces it
	// directly rather than silently falling back.
	require.Error(t, err)
}
