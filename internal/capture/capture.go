// Package capture keeps a rolling tail of the processed output stream and
// renders it to WAV on demand. The tail makes quality complaints
// reproducible: when something sounds wrong, the last seconds of exactly
// what the pipeline shipped can be pulled off the device and inspected
// offline.
//
// The recorder sits off the hot path. Processed samples are offered through
// a bounded feed channel and dropped when it is full, so the audio path
// never waits on the ring or on disk.
package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/logging"
)

const (
	// captureBitDepth is the PCM depth clips are stored and exported at.
	// 16 bits is plenty for listening checks and keeps the ring small.
	captureBitDepth = 16
	bytesPerSample  = captureBitDepth / 8

	// wavFormatPCM is the RIFF audio format tag for uncompressed PCM.
	wavFormatPCM = 1

	defaultWindowSeconds = 30
	feedQueueSize        = 32
	discardChunkSize     = 8192
)

// Stats is a point-in-time snapshot of recorder counters.
type Stats struct {
	// CapturedSamples counts samples written into the ring since start.
	CapturedSamples uint64
	// DroppedChunks counts sample chunks discarded because the feed
	// channel was full.
	DroppedChunks uint64
	// SavedClips counts WAV files written.
	SavedClips uint64
}

// Recorder buffers the most recent window of processed audio as 16-bit PCM.
// A disabled recorder is inert: Offer and Start are no-ops and SaveClip
// fails. All methods are safe for concurrent use.
type Recorder struct {
	enabled bool
	dir     string
	cfg     audio.Config
	window  int // seconds retained

	mu      sync.Mutex
	ring    *ringbuffer.RingBuffer
	scratch []byte
	discard []byte

	feed     chan []float32
	captured atomic.Uint64
	dropped  atomic.Uint64
	saved    atomic.Uint64

	logger *slog.Logger

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRecorder builds a recorder for the configured capture window. When
// capture is disabled in the settings the returned recorder allocates no
// ring and ignores offered audio.
func NewRecorder(settings *conf.CaptureSettings, cfg audio.Config) (*Recorder, error) {
	logger := logging.ForService("capture")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "capture")

	if settings == nil || !settings.Enabled {
		return &Recorder{logger: logger}, nil
	}

	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, errors.Newf("capture requires a valid audio format, got %d Hz with %d channels", cfg.SampleRate, cfg.Channels).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}

	window := settings.Seconds
	if window <= 0 {
		window = defaultWindowSeconds
	}

	capacity := window * cfg.SampleRate * cfg.Channels * bytesPerSample
	return &Recorder{
		enabled: true,
		dir:     settings.Path,
		cfg:     cfg,
		window:  window,
		ring:    ringbuffer.New(capacity),
		discard: make([]byte, discardChunkSize),
		feed:    make(chan []float32, feedQueueSize),
		logger:  logger,
	}, nil
}

// Enabled reports whether the recorder retains audio.
func (r *Recorder) Enabled() bool {
	return r != nil && r.enabled
}

// Start launches the feed worker that moves offered chunks into the ring.
func (r *Recorder) Start(ctx context.Context) {
	if !r.Enabled() {
		return
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.run(runCtx)

	r.logger.Info("capture recorder started",
		"window_seconds", r.window,
		"ring_bytes", r.ring.Capacity())
}

// Stop halts the feed worker. Chunks still queued on the feed channel are
// discarded; the ring keeps what was already written.
func (r *Recorder) Stop() {
	if !r.Enabled() {
		return
	}

	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.runMu.Unlock()

	cancel()
	r.wg.Wait()
}

// Offer hands a chunk of processed samples to the recorder. The slice is
// copied, so the caller may reuse its buffer immediately. Chunks are
// dropped without blocking when the feed channel is full.
func (r *Recorder) Offer(samples []float32) {
	if !r.Enabled() || len(samples) == 0 {
		return
	}

	chunk := slices.Clone(samples)

	select {
	case r.feed <- chunk:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk := <-r.feed:
			r.append(chunk)
		}
	}
}

// append converts a chunk to 16-bit PCM and writes it into the ring,
// evicting the oldest audio first when the ring is short on space.
func (r *Recorder) append(samples []float32) {
	need := len(samples) * bytesPerSample

	r.mu.Lock()
	defer r.mu.Unlock()

	if need > r.ring.Capacity() {
		// A chunk longer than the whole window keeps only its newest tail.
		drop := (need - r.ring.Capacity()) / bytesPerSample
		samples = samples[drop:]
		need = len(samples) * bytesPerSample
	}

	if r.ring.Free() < need {
		r.evict(need - r.ring.Free())
	}

	if _, err := r.ring.Write(r.encode(samples)); err != nil {
		r.dropped.Add(1)
		r.logger.Warn("capture ring write failed", "error", err, "chunk_bytes", need)
		return
	}
	r.captured.Add(uint64(len(samples)))
}

// encode converts float samples to little-endian 16-bit PCM in the reused
// scratch buffer. Caller holds r.mu.
func (r *Recorder) encode(samples []float32) []byte {
	need := len(samples) * bytesPerSample
	if cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	}
	out := r.scratch[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(pcm16(s)))
	}
	return out
}

// evict discards at least n of the oldest bytes, rounded up to whole
// frames so channel interleaving stays intact. Caller holds r.mu.
func (r *Recorder) evict(n int) {
	frame := r.cfg.Channels * bytesPerSample
	if rem := n % frame; rem != 0 {
		n += frame - rem
	}
	for n > 0 {
		want := n
		if want > len(r.discard) {
			want = len(r.discard)
		}
		read, err := r.ring.Read(r.discard[:want])
		if read > 0 {
			n -= read
		}
		if err != nil || read == 0 {
			return
		}
	}
}

// SaveClip drains the newest d of buffered audio and writes it to a WAV
// file under dir, falling back to the configured capture path when dir is
// empty. A non-positive duration exports everything buffered. Saving
// empties the ring: audio older than the requested window is discarded,
// and the window itself is consumed by the export.
func (r *Recorder) SaveClip(dir string, d time.Duration) (string, error) {
	if !r.Enabled() {
		return "", errors.Newf("capture is disabled").
			Component("capture").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if dir == "" {
		dir = r.dir
	}
	if dir == "" {
		return "", errors.Newf("no capture directory configured").
			Component("capture").
			Category(errors.CategoryConfiguration).
			Build()
	}

	data := r.drain(d)
	if len(data) == 0 {
		return "", errors.Newf("no captured audio to save").
			Component("capture").
			Category(errors.CategoryNotFound).
			Build()
	}

	name := fmt.Sprintf("capture_%s.wav", time.Now().UTC().Format("20060102T150405.000Z"))
	path := filepath.Join(dir, name)
	if err := r.writeWAV(path, data); err != nil {
		return "", err
	}

	frame := r.cfg.Channels * bytesPerSample
	r.saved.Add(1)
	r.logger.Info("capture clip saved",
		"path", path,
		"bytes", len(data),
		"duration_ms", float64(len(data)/frame)/float64(r.cfg.SampleRate)*1000.0)
	return path, nil
}

// drain removes and returns the newest d of audio from the ring, or all of
// it when d is non-positive. Audio older than the window is evicted.
func (r *Recorder) drain(d time.Duration) []byte {
	frame := r.cfg.Channels * bytesPerSample

	r.mu.Lock()
	defer r.mu.Unlock()

	keep := r.ring.Length()
	keep -= keep % frame
	if d > 0 {
		want := int(d.Seconds()*float64(r.cfg.SampleRate)) * frame
		if want < keep {
			r.evict(keep - want)
			keep = want
		}
	}
	if keep <= 0 {
		return nil
	}

	data := make([]byte, keep)
	got := 0
	for got < keep {
		n, err := r.ring.Read(data[got:])
		if n > 0 {
			got += n
		}
		if err != nil || n == 0 {
			break
		}
	}
	return data[:got]
}

// writeWAV renders 16-bit PCM bytes to a WAV file, creating the directory
// tree as needed.
func (r *Recorder) writeWAV(path string, pcm []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	outFile, err := os.Create(path)
	if err != nil {
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer outFile.Close()

	enc := wav.NewEncoder(outFile, r.cfg.SampleRate, captureBitDepth, r.cfg.Channels, wavFormatPCM)
	buf := &gaudio.IntBuffer{
		Data:   pcmToInts(pcm),
		Format: &gaudio.Format{SampleRate: r.cfg.SampleRate, NumChannels: r.cfg.Channels},
	}
	if err := enc.Write(buf); err != nil {
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := enc.Close(); err != nil {
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return nil
}

// BufferedSeconds returns how much audio the ring currently holds.
func (r *Recorder) BufferedSeconds() float64 {
	if !r.Enabled() {
		return 0
	}
	r.mu.Lock()
	n := r.ring.Length()
	r.mu.Unlock()
	return float64(n/bytesPerSample) / float64(r.cfg.SampleRate*r.cfg.Channels)
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	return Stats{
		CapturedSamples: r.captured.Load(),
		DroppedChunks:   r.dropped.Load(),
		SavedClips:      r.saved.Load(),
	}
}

// pcm16 converts a float sample in [-1, 1] to a 16-bit PCM value,
// clamping anything outside the range.
func pcm16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * 32767)
}

// pcmToInts widens little-endian 16-bit PCM bytes into the int samples the
// WAV encoder consumes.
func pcmToInts(pcm []byte) []int {
	samples := make([]int, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
	}
	return samples
}
