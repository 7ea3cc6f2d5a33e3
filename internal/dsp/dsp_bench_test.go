package dsp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/conf"
)

// benchBuffer fills a pool buffer with a 1 kHz tone at half scale.
func benchBuffer(b *testing.B, size int) *audio.Buffer {
	b.Helper()
	pool, err := audio.NewPool(1, size)
	require.NoError(b, err)
	buf, err := pool.Acquire()
	require.NoError(b, err)
	fillSine(buf.Samples(), 1000, 48000, 2, 0.5)
	return buf
}

func BenchmarkChainProcessFlat(b *testing.B) {
	chain, err := NewChain(flatSettings(), testAudioConfig(2))
	require.NoError(b, err)
	buf := benchBuffer(b, 2048)

	b.ReportAllocs()
	for b.Loop() {
		if err := chain.Process(buf); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkChainProcessFull(b *testing.B) {
	settings := flatSettings()
	settings.Equalizer.Enabled = true
	settings.Equalizer.Bands = []conf.EqualizerBand{
		{Frequency: 100, Q: 0.7, Gain: 2.0},
		{Frequency: 1000, Q: 1.0, Gain: -1.5},
		{Frequency: 8000, Q: 0.9, Gain: 1.0},
	}
	settings.Compressor = conf.CompressorSettings{Enabled: true, Threshold: -18, Ratio: 4, AttackMs: 5, ReleaseMs: 50}
	settings.THD.Enabled = true
	settings.THD.SecondHarmonic = 0.0002
	settings.THD.ThirdHarmonic = 0.0001

	chain, err := NewChain(settings, testAudioConfig(2))
	require.NoError(b, err)
	buf := benchBuffer(b, 2048)

	b.ReportAllocs()
	for b.Loop() {
		if err := chain.Process(buf); err != nil {
			b.Fatal(err)
		}
	}
}
