package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRMS(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		assert.Zero(t, RMS(nil))
	})

	t.Run("dc", func(t *testing.T) {
		t.Parallel()
		samples := make([]float32, 128)
		for i := range samples {
			samples[i] = 0.5
		}
		assert.InDelta(t, 0.5, RMS(samples), 1e-9)
	})

	t.Run("full scale sine", func(t *testing.T) {
		t.Parallel()
		samples := make([]float32, 4800)
		fillSine(samples, 1000, 48000, 1, 1.0)
		assert.InDelta(t, 1/math.Sqrt2, RMS(samples), 1e-3)
	})
}

func TestDistortionRatio(t *testing.T) {
	t.Parallel()

	t.Run("identical signals", func(t *testing.T) {
		t.Parallel()
		a := []float32{0.1, -0.2, 0.3, -0.4}
		assert.Zero(t, distortionRatio(a, a))
	})

	t.Run("silence", func(t *testing.T) {
		t.Parallel()
		assert.Zero(t, distortionRatio(make([]float32, 8), make([]float32, 8)))
	})

	t.Run("scaled residual", func(t *testing.T) {
		t.Parallel()
		ref := []float32{0.5, 0.5, 0.5, 0.5}
		out := []float32{0.55, 0.55, 0.55, 0.55}
		// residual is 10% of the reference everywhere
		assert.InDelta(t, 0.1, distortionRatio(ref, out), 1e-6)
	})
}

func TestEstimateSNR(t *testing.T) {
	t.Parallel()

	t.Run("silence", func(t *testing.T) {
		t.Parallel()
		assert.Zero(t, estimateSNR(make([]float32, 64), 32))
	})

	t.Run("full scale at 16 bit", func(t *testing.T) {
		t.Parallel()
		samples := make([]float32, 128)
		for i := range samples {
			samples[i] = 1.0
		}
		assert.InDelta(t, 6.02*16+1.76, estimateSNR(samples, 16), 0.1)
	})

	t.Run("headroom reduces snr", func(t *testing.T) {
		t.Parallel()
		loud := make([]float32, 128)
		quiet := make([]float32, 128)
		for i := range loud {
			loud[i] = 0.8
			quiet[i] = 0.08
		}
		drop := estimateSNR(loud, 24) - estimateSNR(quiet, 24)
		assert.InDelta(t, 20.0, drop, 0.1, "20 dB less signal costs 20 dB of SNR")
	})
}
