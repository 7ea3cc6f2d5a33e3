package conf

import (
	"bytes"
	"io/fs"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// The defaults must describe a configuration that passes validation, so a
// fresh install starts without a config file.
func TestDefaultConfigIsValid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaultConfig()

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		t.Fatalf("unmarshal defaults: %v", err)
	}

	assert.NoError(t, ValidateSettings(settings))
}

func TestDefaultValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaultConfig()

	assert.Equal(t, DefaultSampleRate, viper.GetInt("audio.samplerate"))
	assert.Equal(t, DefaultBufferSize, viper.GetInt("audio.buffersize"))
	assert.Equal(t, TierBalanced, viper.GetString("audio.quality"))
	assert.Equal(t, 2, viper.GetInt("queue.workers"))
	assert.Equal(t, 0.5, viper.GetFloat64("scheduler.breakerratio"))
	assert.Equal(t, uint64(8192), viper.GetUint64("scheduler.memorylimitmb"))
	assert.Equal(t, 32768, viper.GetInt("gateway.maxpayloadbytes"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("scheduler.probeinterval"))
	assert.False(t, viper.GetBool("sentry.enabled"), "telemetry must be opt-in")
}

// The embedded config.yaml is what a fresh install writes to disk, so it
// has to agree with the code defaults. Otherwise first boot behaves
// differently depending on whether the file already existed.
func TestEmbeddedConfigMatchesDefaults(t *testing.T) {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))

	audio, ok := raw["audio"].(map[string]any)
	require.True(t, ok, "audio section missing from embedded config")
	assert.EqualValues(t, DefaultSampleRate, audio["samplerate"])
	assert.EqualValues(t, DefaultBufferSize, audio["buffersize"])
	assert.Equal(t, TierBalanced, audio["quality"])

	sched, ok := raw["scheduler"].(map[string]any)
	require.True(t, ok, "scheduler section missing from embedded config")
	assert.EqualValues(t, 0.5, sched["breakerratio"])

	sentry, ok := raw["sentry"].(map[string]any)
	require.True(t, ok, "sentry section missing from embedded config")
	assert.Equal(t, false, sentry["enabled"], "telemetry must ship disabled")

	// Durations like probeinterval need viper's decode hooks, plain yaml
	// cannot parse them into time.Duration.
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(data)))
	settings := &Settings{}
	require.NoError(t, v.Unmarshal(settings))
	assert.NoError(t, ValidateSettings(settings), "the shipped config must pass validation")
}
