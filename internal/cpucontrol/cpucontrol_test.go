package cpucontrol

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framepacer/fasd/internal/extension"
)

func writePolicy(t *testing.T, root string, num int, freqs []int64, governor string) string {
	t.Helper()
	dir := filepath.Join(root, "policy"+strconv.Itoa(num))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	toks := make([]string, len(freqs))
	for i, f := range freqs {
		toks[i] = strconv.FormatInt(f, 10)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaling_available_frequencies"), []byte(strings.Join(toks, " ")), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaling_governor"), []byte(governor), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaling_max_freq"), []byte("0"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaling_min_freq"), []byte("0"), 0o644))
	return dir
}

func newTestController(t *testing.T) (*Controller, string) {
	t.Helper()
	root := t.TempDir()
	writePolicy(t, root, 0, []int64{1_000_000, 2_000_000, 3_000_000}, "schedutil")
	writePolicy(t, root, 1, []int64{1_000_000, 1_800_000, 2_400_000}, "schedutil")

	c := New(Config{CPUFreqRoot: root}, extension.NewDispatcher(zerolog.Nop()), zerolog.Nop())
	return c, root
}

func TestNew_DiscoversPoliciesAndFreqBounds(t *testing.T) {
	c, _ := newTestController(t)
	assert.Equal(t, int64(3_000_000), c.MaxFreq())
	assert.Equal(t, int64(1_000_000), c.MinFreq())
}

func TestInitGame_SnapshotsGovernorAndSetsPerformance(t *testing.T) {
	c, root := newTestController(t)
	c.InitGame()

	gov, err := os.ReadFile(filepath.Join(root, "policy0", "scaling_governor"))
	require.NoError(t, err)
	assert.Equal(t, "performance\n", string(gov))
}

func TestInitGame_TwiceIsIdempotentSnapshot(t *testing.T) {
	c, root := newTestController(t)
	c.InitGame()
	c.InitGame()

	gov, err := os.ReadFile(filepath.Join(root, "policy0", "scaling_governor"))
	require.NoError(t, err)
	assert.Equal(t, "performance\n", string(gov), "second InitGame must not snapshot its own performance write")

	c.InitDefault()
	gov, err = os.ReadFile(filepath.Join(root, "policy0", "scaling_governor"))
	require.NoError(t, err)
	assert.Equal(t, "schedutil\n", string(gov), "InitDefault restores the original pre-InitGame governor")
}

func TestFasUpdateFreq_ClampsToMinMaxAndSkipsMinFreqOnPolicyZero(t *testing.T) {
	c, root := newTestController(t)
	c.InitGame() // establishes curFreq at MaxFreq == 3_000_000

	c.FasUpdateFreq(-100_000_000) // huge negative delta, must clamp at MinFreq

	maxRaw, err := os.ReadFile(filepath.Join(root, "policy0", "scaling_max_freq"))
	require.NoError(t, err)
	assert.Equal(t, "1000000", string(maxRaw))

	// Policy 0's scaling_min_freq must remain untouched by FasUpdateFreq
	// (spec §4.7: "except policy 0"), i.e. still the "0" the fixture wrote;
	// InitGame does not write scaling_min_freq either.
	minRaw, err := os.ReadFile(filepath.Join(root, "policy0", "scaling_min_freq"))
	require.NoError(t, err)
	assert.Equal(t, "0", string(minRaw), "policy 0 scaling_min_freq is never written by fas_update_freq")

	minRaw1, err := os.ReadFile(filepath.Join(root, "policy1", "scaling_min_freq"))
	require.NoError(t, err)
	assert.Equal(t, "1000000", string(minRaw1))
}

func TestUsageMax_ReturnsCachedValue(t *testing.T) {
	c, _ := newTestController(t)
	c.usageMax = 42.5
	c.lastRefErr = nil

	assert.Equal(t, 42.5, c.UsageMax())
}
