package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAudioSettings() AudioSettings {
	return AudioSettings{
		SampleRate: 48000,
		BitDepth:   32,
		Channels:   2,
		BufferSize: 256,
		Quality:    TierBalanced,
	}
}

func TestValidateAudioSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AudioSettings)
		wantErr bool
	}{
		{
			name:    "defaults pass",
			mutate:  func(s *AudioSettings) {},
			wantErr: false,
		},
		{
			name:    "unsupported sample rate",
			mutate:  func(s *AudioSettings) { s.SampleRate = 22050 },
			wantErr: true,
		},
		{
			name:    "unsupported bit depth",
			mutate:  func(s *AudioSettings) { s.BitDepth = 8 },
			wantErr: true,
		},
		{
			name:    "zero channels",
			mutate:  func(s *AudioSettings) { s.Channels = 0 },
			wantErr: true,
		},
		{
			name:    "too many channels",
			mutate:  func(s *AudioSettings) { s.Channels = MaxChannels + 1 },
			wantErr: true,
		},
		{
			name:    "buffer below minimum",
			mutate:  func(s *AudioSettings) { s.BufferSize = MinBufferSize - 1 },
			wantErr: true,
		},
		{
			name:    "buffer above maximum",
			mutate:  func(s *AudioSettings) { s.BufferSize = MaxBufferSize + 1 },
			wantErr: true,
		},
		{
			name:    "unknown quality tier",
			mutate:  func(s *AudioSettings) { s.Quality = "ludicrous" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := validAudioSettings()
			tt.mutate(&settings)

			err := ValidateAudioSettings(&settings)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// The buffer duration alone must stay inside the 10 ms latency budget.
func TestValidateAudioSettingsLatencyBudget(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		bufferSize int
		wantErr    bool
	}{
		// 1024/44100 is roughly 23 ms, far over budget
		{"large buffer at low rate rejected", 44100, 1024, true},
		// 256/192000 is roughly 1.3 ms
		{"small buffer at high rate accepted", 192000, 256, false},
		// 480/48000 is exactly 10 ms, still within budget
		{"exact budget accepted", 48000, 480, false},
		// 512/48000 is 10.67 ms, just over
		{"just over budget rejected", 48000, 512, true},
		{"minimum buffer always fits", 44100, 64, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := validAudioSettings()
			settings.SampleRate = tt.sampleRate
			settings.BufferSize = tt.bufferSize

			err := ValidateAudioSettings(&settings)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "budget")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSchedulerSettings(t *testing.T) {
	valid := SchedulerSettings{
		MinBatch:        64,
		MaxBatch:        1024,
		LatencyTargetMs: 10,
		LatencyFloorMs:  5,
		BreakerRatio:    0.5,
		ProbeInterval:   1,
	}

	t.Run("valid passes", func(t *testing.T) {
		s := valid
		assert.NoError(t, validateSchedulerSettings(&s))
	})

	t.Run("max below min rejected", func(t *testing.T) {
		s := valid
		s.MaxBatch = 32
		assert.Error(t, validateSchedulerSettings(&s))
	})

	t.Run("breaker ratio bounds", func(t *testing.T) {
		for _, ratio := range []float64{0, 1, -0.5, 1.5} {
			s := valid
			s.BreakerRatio = ratio
			assert.Error(t, validateSchedulerSettings(&s), "ratio %v should be rejected", ratio)
		}
	})

	t.Run("floor above target rejected", func(t *testing.T) {
		s := valid
		s.LatencyFloorMs = 12
		assert.Error(t, validateSchedulerSettings(&s))
	})
}

func TestValidateGatewaySettings(t *testing.T) {
	t.Run("disabled gateway skips checks", func(t *testing.T) {
		s := GatewaySettings{Enabled: false}
		assert.NoError(t, validateGatewaySettings(&s))
	})

	t.Run("bad listen address rejected", func(t *testing.T) {
		s := GatewaySettings{Enabled: true, Listen: "not-an-address", MaxConnections: 4, MaxPayloadBytes: 1024}
		assert.Error(t, validateGatewaySettings(&s))
	})

	t.Run("valid listen address accepted", func(t *testing.T) {
		s := GatewaySettings{Enabled: true, Listen: "0.0.0.0:8080", MaxConnections: 4, MaxPayloadBytes: 1024}
		assert.NoError(t, validateGatewaySettings(&s))
	})
}

func TestValidateSettingsCollectsAllErrors(t *testing.T) {
	settings := &Settings{}
	settings.Audio = validAudioSettings()
	settings.Audio.SampleRate = 12345 // invalid
	settings.Pool.Capacity = 0        // invalid
	settings.DSP.LimiterCeiling = 0   // invalid
	settings.Scheduler = SchedulerSettings{MinBatch: 64, MaxBatch: 1024, LatencyTargetMs: 10, LatencyFloorMs: 5, BreakerRatio: 0.5, ProbeInterval: 1}
	settings.Queue = QueueSettings{Workers: 2, MaxSize: 64, Retry: RetrySettings{Multiplier: 2.0}}
	settings.Gateway.Enabled = false

	err := ValidateSettings(settings)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.GreaterOrEqual(t, len(ve.Errors), 3, "each failing section should contribute an error")
}
