package conf

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"true", "true", false},
		{"false", "false", false},
		{"1", "1", false},
		{"0", "0", false},
		{"uppercase", "TRUE", false},
		{"yes", "yes", true}, // strconv.ParseBool doesn't accept yes/no
		{"maybe", "maybe", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvBool(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid boolean value")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvSampleRate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"cd rate", "44100", false},
		{"default rate", "48000", false},
		{"highest rate", "192000", false},
		{"unsupported rate", "22050", true},
		{"not a number", "fast", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvSampleRate(tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvBitDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"16 bit", "16", false},
		{"24 bit", "24", false},
		{"32 bit", "32", false},
		{"8 bit", "8", true},
		{"not a number", "deep", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvBitDepth(tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvChannels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"mono", "1", false},
		{"stereo", "2", false},
		{"channel ceiling", "8", false},
		{"zero", "0", true},
		{"over ceiling", "9", true},
		{"not a number", "surround", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvChannels(tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvBufferSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"smallest", "64", false},
		{"default", "256", false},
		{"largest", "8192", false},
		{"under minimum", "32", true},
		{"over maximum", "16384", true},
		{"not a number", "big", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvBufferSize(tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvQuality(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"maximum", "maximum", false},
		{"balanced", "balanced", false},
		{"powersaver", "powersaver", false},
		{"uppercase", "BALANCED", false}, // case insensitive
		{"unknown tier", "ultra", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvQuality(tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvThreads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"zero picks automatically", "0", false},
		{"explicit count", "4", false},
		{"negative", "-1", true},
		{"decimal", "4.5", true},
		{"not a number", "many", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvThreads(tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEnvPath(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"absolute path", filepath.Join(tmpDir, "model.tflite"), false},
		// The model may not be installed yet when the variable is set.
		{"absolute path missing file", filepath.Join(tmpDir, "later.tflite"), false},
		{"relative path", filepath.Join("models", "model.tflite"), true},
		{"relative with dots", filepath.Join("..", "etc", "passwd"), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateEnvPath(tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigureEnvironmentVariables(t *testing.T) {
	t.Run("invalid sample rate", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		t.Setenv("AURALIS_SAMPLERATE", "22050")

		err := configureEnvironmentVariables()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AURALIS_SAMPLERATE")
	})

	t.Run("multiple invalid values reported together", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		t.Setenv("AURALIS_DEBUG", "maybe")
		t.Setenv("AURALIS_BITDEPTH", "12")

		err := configureEnvironmentVariables()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AURALIS_DEBUG")
		assert.Contains(t, err.Error(), "AURALIS_BITDEPTH")
	})

	t.Run("valid values bind through viper", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		t.Setenv("AURALIS_SAMPLERATE", "96000")
		t.Setenv("AURALIS_QUALITY", "maximum")
		t.Setenv("AURALIS_DEBUG", "true")

		require.NoError(t, configureEnvironmentVariables())
		assert.Equal(t, 96000, viper.GetInt("audio.samplerate"))
		assert.Equal(t, "maximum", viper.GetString("audio.quality"))
		assert.True(t, viper.GetBool("debug"))
	})
}
