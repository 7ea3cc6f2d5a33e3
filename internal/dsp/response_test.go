package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeakingResponse(t *testing.T) {
	t.Parallel()

	const sampleRate = 48000.0

	t.Run("gain at center", func(t *testing.T) {
		t.Parallel()
		f := newPeaking(sampleRate, 1000, 1.0, 6.0)
		w0 := 2 * math.Pi * 1000 / sampleRate
		assert.InDelta(t, math.Pow(10, 6.0/20), f.magnitudeAt(w0), 1e-6)
	})

	t.Run("cut at center", func(t *testing.T) {
		t.Parallel()
		f := newPeaking(sampleRate, 1000, 1.0, -6.0)
		w0 := 2 * math.Pi * 1000 / sampleRate
		assert.InDelta(t, math.Pow(10, -6.0/20), f.magnitudeAt(w0), 1e-6)
	})

	t.Run("unity far from center", func(t *testing.T) {
		t.Parallel()
		f := newPeaking(sampleRate, 1000, 2.0, 6.0)
		assert.InDelta(t, 1.0, f.magnitudeAt(2*math.Pi*20/sampleRate), 0.01)
		assert.InDelta(t, 1.0, f.magnitudeAt(2*math.Pi*20000/sampleRate), 0.01)
	})

	t.Run("unity at dc", func(t *testing.T) {
		t.Parallel()
		f := newPeaking(sampleRate, 1000, 1.0, 12.0)
		assert.InDelta(t, 1.0, f.magnitudeAt(0), 1e-6)
	})

	t.Run("zero gain band is transparent", func(t *testing.T) {
		t.Parallel()
		f := newPeaking(sampleRate, 1000, 1.0, 0)
		for _, freq := range []float64{100, 500, 1000, 5000, 20000} {
			assert.InDelta(t, 1.0, f.magnitudeAt(2*math.Pi*freq/sampleRate), 1e-9, "%.0f Hz", freq)
		}
	})
}
