// consts.go: device-level constants shared across the pipeline
package conf

// Buffer geometry limits. These mirror the DSP kernel limits of the
// playback hardware and bound every buffer the pipeline will accept.
const (
	MinBufferSize     = 64   // samples, smallest processable buffer
	MaxBufferSize     = 8192 // samples, largest processable buffer
	MaxFramesPerSlice = 4096 // hardware render slice ceiling
	MaxChannels       = 8    // interleaved channel ceiling
)

// Sample format defaults.
const (
	DefaultSampleRate = 48000
	DefaultBitDepth   = 32
	DefaultChannels   = 2
	DefaultBufferSize = 256
)

// LatencyBudgetMs is the end-to-end processing budget. A hardware
// configuration whose buffer duration alone exceeds this is rejected.
const LatencyBudgetMs = 10.0

// FFTSize is the fixed block size for frequency-domain processing.
const FFTSize = 2048

// Quality tier names accepted in configuration.
const (
	TierMaximum    = "maximum"
	TierBalanced   = "balanced"
	TierPowerSaver = "powersaver"
)

// SupportedSampleRates lists the DAC clock family rates the device accepts.
var SupportedSampleRates = []int{44100, 48000, 88200, 96000, 176400, 192000}

// SupportedBitDepths lists accepted sample bit depths.
var SupportedBitDepths = []int{16, 24, 32}
