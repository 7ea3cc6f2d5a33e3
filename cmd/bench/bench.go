package bench

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/jobqueue"
	"github.com/auralis/auralis-go/internal/pipeline"
)

// benchSeconds holds the duration flag value
var benchSeconds int

// maxLatencySamples bounds the per-chunk timing log a pass keeps for the
// percentile report.
const maxLatencySamples = 1 << 20

func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run processing throughput benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Validate duration
			if benchSeconds < 1 || benchSeconds > 300 {
				return fmt.Errorf("duration must be between 1 and 300 seconds, got %d", benchSeconds)
			}
			return runBenchmark(settings, time.Duration(benchSeconds)*time.Second)
		},
	}

	cmd.Flags().IntVar(&benchSeconds, "duration", 10, "seconds to run each benchmark pass (1-300)")

	return cmd
}

func runBenchmark(settings *conf.Settings, duration time.Duration) error {
	// A benchmark run must not push into production sinks or record
	// clips; the engine runs cold on synthetic buffers.
	settings.Gateway.Enabled = false
	settings.Sinks.MQTT.Enabled = false
	settings.Sinks.HTTP.Enabled = false
	settings.Alerts.Enabled = false
	settings.Capture.Enabled = false

	var enhancedResults, transformResults benchResults

	if settings.Enhancer.Enabled && settings.Enhancer.ModelPath != "" {
		fmt.Println("🚀 Testing enhanced path:")
		if err := runPass(settings, &enhancedResults, duration); err != nil {
			fmt.Printf("❌ enhanced benchmark failed: %v\n", err)
		}
		fmt.Println()
	}

	fmt.Println("🐌 Testing transform chain only:")
	settings.Enhancer.Enabled = false
	if err := runPass(settings, &transformResults, duration); err != nil {
		return fmt.Errorf("❌ transform chain benchmark failed: %w", err)
	}

	printResults(&transformResults, &enhancedResults)

	return nil
}

// benchResults stores benchmark metrics
type benchResults struct {
	enhancedPass    bool          // pass ran with the enhancement stage on
	totalChunks     int           // buffers processed
	totalAudio      time.Duration // audio time represented by those buffers
	avgChunkTime    time.Duration // average wall time per buffer
	chunksPerSecond float64       // throughput in buffers per second
	realtimeFactor  float64       // audio seconds processed per wall second
	degraded        int           // chunks that fell back to the transform chain
	latencies       []float64     // per-chunk wall times in ms, capped
}

// percentiles returns the p50, p95 and p99 chunk times in ms.
func (r *benchResults) percentiles() (p50, p95, p99 float64) {
	if len(r.latencies) == 0 {
		return 0, 0, 0
	}
	sorted := slices.Clone(r.latencies)
	slices.Sort(sorted)

	p50 = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	p95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	p99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	return p50, p95, p99
}

func runPass(settings *conf.Settings, results *benchResults, duration time.Duration) error {
	results.enhancedPass = settings.Enhancer.Enabled

	p, err := pipeline.New(settings)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer p.Stop()

	cfg := p.Config()
	chunkAudio := time.Duration(float64(cfg.BufferSize) / float64(cfg.SampleRate) * float64(time.Second))

	// A -12 dBFS test tone; silence would make the quality math degenerate.
	chunk := make([]float32, cfg.BufferSize)
	for i := range chunk {
		frame := i / cfg.Channels
		chunk[i] = float32(0.25 * math.Sin(2*math.Pi*440*float64(frame)/float64(cfg.SampleRate)))
	}

	fmt.Printf("⏳ Running benchmark for %s...\n", duration)

	startTime := time.Now()
	var totalChunks int
	var totalProcessing time.Duration

	for time.Since(startTime) < duration {
		chunkStart := time.Now()

		buf, err := p.Acquire()
		if err != nil {
			return fmt.Errorf("buffer acquisition failed: %w", err)
		}
		if err := buf.CopyFrom(chunk); err != nil {
			return fmt.Errorf("buffer fill failed: %w", err)
		}

		res, err := p.Process(ctx, buf, jobqueue.PriorityNormal)
		if err != nil {
			return fmt.Errorf("processing failed: %w", err)
		}
		if results.enhancedPass && !res.Enhanced {
			results.degraded++
		}
		_ = res.Buffer.Release()

		chunkTime := time.Since(chunkStart)
		totalProcessing += chunkTime
		if len(results.latencies) < maxLatencySamples {
			results.latencies = append(results.latencies, float64(chunkTime.Microseconds())/1000.0)
		}
		totalChunks++

		// Update progress display
		if totalChunks%2000 == 0 {
			avgTime := totalProcessing / time.Duration(totalChunks)
			fmt.Printf("\r🔄 Chunks: \033[1;36m%d\033[0m, Average time: \033[1;33m%.3fms\033[0m",
				totalChunks, float64(avgTime.Microseconds())/1000.0)
		}
	}
	fmt.Println() // Add newline after progress display

	if totalChunks == 0 {
		return fmt.Errorf("no chunks processed within %s", duration)
	}

	// Calculate and store results
	elapsed := time.Since(startTime)
	results.totalChunks = totalChunks
	results.totalAudio = time.Duration(totalChunks) * chunkAudio
	results.avgChunkTime = totalProcessing / time.Duration(totalChunks)
	results.chunksPerSecond = float64(totalChunks) / elapsed.Seconds()
	results.realtimeFactor = results.totalAudio.Seconds() / elapsed.Seconds()

	return nil
}

func printResults(transform, enhanced *benchResults) {
	fmt.Printf("\nResults:\n")
	fmt.Printf("Path        Chunk Time    Throughput          Realtime\n")
	fmt.Printf("──────────  ────────────  ──────────────────  ──────────\n")

	if transform.totalChunks > 0 {
		fmt.Printf("Transform   %8.3f ms  %10.0f chunks/s  %7.1fx\n",
			float64(transform.avgChunkTime.Microseconds())/1000.0,
			transform.chunksPerSecond,
			transform.realtimeFactor)
	} else {
		fmt.Printf("Transform   ❌ Failed\n")
	}

	if enhanced.enhancedPass {
		if enhanced.totalChunks > 0 {
			fmt.Printf("Enhanced    %8.3f ms  %10.0f chunks/s  %7.1fx\n",
				float64(enhanced.avgChunkTime.Microseconds())/1000.0,
				enhanced.chunksPerSecond,
				enhanced.realtimeFactor)
		} else {
			fmt.Printf("Enhanced    ❌ Failed\n")
		}
	}
	fmt.Printf("──────────  ────────────  ──────────────────  ──────────\n")

	fmt.Printf("\nLatency percentiles:\n")
	fmt.Printf("Path        p50           p95           p99\n")
	fmt.Printf("──────────  ────────────  ────────────  ────────────\n")
	if transform.totalChunks > 0 {
		p50, p95, p99 := transform.percentiles()
		fmt.Printf("Transform   %9.3f ms  %9.3f ms  %9.3f ms\n", p50, p95, p99)
	}
	if enhanced.totalChunks > 0 {
		p50, p95, p99 := enhanced.percentiles()
		fmt.Printf("Enhanced    %9.3f ms  %9.3f ms  %9.3f ms\n", p50, p95, p99)
	}
	fmt.Printf("──────────  ────────────  ────────────  ────────────\n")

	if enhanced.totalChunks > 0 && transform.totalChunks > 0 {
		fmt.Printf("\n🔬 Enhancement overhead: %.1fx the transform chain\n",
			float64(enhanced.avgChunkTime)/float64(transform.avgChunkTime))
	}
	if enhanced.degraded > 0 {
		fmt.Printf("⚠️ %d chunks degraded to the transform chain during the enhanced pass\n", enhanced.degraded)
	}

	// Rate the path a production deployment would run
	rated := enhanced
	if rated.totalChunks == 0 {
		rated = transform
	}
	if rated.totalChunks > 0 {
		rating, description := getPerformanceRating(rated.realtimeFactor)
		fmt.Printf("System Rating: %s, %s\n", rating, description)
	}
}

func getPerformanceRating(realtimeFactor float64) (rating, description string) {
	switch {
	case realtimeFactor < 1:
		return "❌ Failed", "System cannot keep up with realtime playback"
	case realtimeFactor < 2:
		return "⚠️ Poor", "System will miss the latency budget under load"
	case realtimeFactor < 5:
		return "👍 Decent", "System should sustain a single stream"
	case realtimeFactor < 20:
		return "✨ Good", "System will perform well"
	case realtimeFactor < 100:
		return "🌟 Very Good", "System has headroom for concurrent streams"
	default:
		return "🏆 Excellent", "System will perform excellently"
	}
}
