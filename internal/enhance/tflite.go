// tflite.go enhancement model specific code
package enhance

import (
	"context"
	"os"
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/cpuspec"
	"github.com/auralis/auralis-go/internal/errors"
)

// TFLiteEnhancer runs a waveform-to-waveform TensorFlow Lite model. The
// model has a fixed input window; buffers are processed window by window
// with zero padding on the final partial window.
type TFLiteEnhancer struct {
	settings conf.EnhancerSettings

	mu          sync.Mutex
	interpreter *tflite.Interpreter
	windowSize  int
}

// NewTFLiteEnhancer loads the model and prepares the interpreter.
func NewTFLiteEnhancer(settings *conf.EnhancerSettings) (*TFLiteEnhancer, error) {
	if settings.ModelPath == "" {
		return nil, errors.Newf("enhancement model path not configured").
			Component("enhance").
			Category(errors.CategoryConfiguration).
			Build()
	}

	e := &TFLiteEnhancer{settings: *settings}

	interpreter, windowSize, err := e.buildInterpreter()
	if err != nil {
		return nil, err
	}
	e.interpreter = interpreter
	e.windowSize = windowSize

	return e, nil
}

// buildInterpreter loads the model file and creates a ready-to-invoke
// interpreter. It is used both at construction and when the scheduler asks
// for a model reload.
func (e *TFLiteEnhancer) buildInterpreter() (*tflite.Interpreter, int, error) {
	modelData, err := os.ReadFile(e.settings.ModelPath)
	if err != nil {
		return nil, 0, errors.New(err).
			Component("enhance").
			Category(errors.CategoryModelLoad).
			ModelContext(e.settings.ModelPath, "enhancer").
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, 0, errors.Newf("cannot load TensorFlow Lite model").
			Component("enhance").
			Category(errors.CategoryModelInit).
			ModelContext(e.settings.ModelPath, "enhancer").
			Context("model_size_mb", len(modelData)/1024/1024).
			Context("use_xnnpack", e.settings.UseXNNPACK).
			Build()
	}

	threads := determineThreadCount(e.settings.Threads)
	log := serviceLogger()

	options := tflite.NewInterpreterOptions()
	if e.settings.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: thread count bounded by CPU count, safe conversion
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}

	options.SetErrorReporter(func(msg string, userData any) {
		serviceLogger().Error("TFLite error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, 0, errors.Newf("cannot create interpreter").
			Component("enhance").
			Category(errors.CategoryModelInit).
			ModelContext(e.settings.ModelPath, "enhancer").
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		return nil, 0, errors.Newf("tensor allocation failed").
			Component("enhance").
			Category(errors.CategoryModelInit).
			ModelContext(e.settings.ModelPath, "enhancer").
			Build()
	}

	inputTensor := interpreter.GetInputTensor(0)
	outputTensor := interpreter.GetOutputTensor(0)
	if inputTensor == nil || outputTensor == nil {
		interpreter.Delete()
		return nil, 0, errors.Newf("model exposes no audio tensors").
			Component("enhance").
			Category(errors.CategoryModelInit).
			ModelContext(e.settings.ModelPath, "enhancer").
			Build()
	}

	windowSize := len(inputTensor.Float32s())
	if windowSize == 0 || len(outputTensor.Float32s()) != windowSize {
		interpreter.Delete()
		return nil, 0, errors.Newf("model window mismatch: input %d samples, output %d samples",
			windowSize, len(outputTensor.Float32s())).
			Component("enhance").
			Category(errors.CategoryModelInit).
			ModelContext(e.settings.ModelPath, "enhancer").
			Build()
	}

	// The model data is no longer needed, TFLite keeps its own copy
	runtime.GC()

	spec := cpuspec.GetCPUSpec()
	log.Info("enhancement model initialized",
		"model", e.settings.ModelPath,
		"window_size", windowSize,
		"threads", threads,
		"performance_cores", spec.PerformanceCores,
		"total_cpus", runtime.NumCPU())

	return interpreter, windowSize, nil
}

// Enhance runs the model over the input, window by window. The interpreter
// is not reentrant, so calls serialize on the enhancer mutex.
func (e *TFLiteEnhancer) Enhance(ctx context.Context, in, out []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interpreter == nil {
		return errors.Newf("enhancer is closed").
			Component("enhance").
			Category(errors.CategoryState).
			Build()
	}

	for start := 0; start < len(in); start += e.windowSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		inputTensor := e.interpreter.GetInputTensor(0)
		if inputTensor == nil {
			return errors.Newf("cannot get input tensor").
				Component("enhance").
				Category(errors.CategoryEnhancement).
				Build()
		}

		count := min(e.windowSize, len(in)-start)
		window := inputTensor.Float32s()
		copy(window, in[start:start+count])
		for i := count; i < e.windowSize; i++ {
			window[i] = 0
		}

		if status := e.interpreter.Invoke(); status != tflite.OK {
			return errors.Newf("tensor invoke failed: %v", status).
				Component("enhance").
				Category(errors.CategoryEnhancement).
				Build()
		}

		outputTensor := e.interpreter.GetOutputTensor(0)
		if outputTensor == nil {
			return errors.Newf("cannot get output tensor").
				Component("enhance").
				Category(errors.CategoryEnhancement).
				Build()
		}
		copy(out[start:start+count], outputTensor.Float32s()[:count])
	}

	return nil
}

// Optimize rebuilds the interpreter to release accumulated native memory.
// The replacement is built before the live interpreter is touched, so a
// failed rebuild leaves the current model serving.
func (e *TFLiteEnhancer) Optimize() error {
	interpreter, windowSize, err := e.buildInterpreter()
	if err != nil {
		return err
	}

	e.mu.Lock()
	old := e.interpreter
	e.interpreter = interpreter
	e.windowSize = windowSize
	e.mu.Unlock()

	if old != nil {
		old.Delete()
	}
	runtime.GC()
	return nil
}

// Close releases the interpreter. The enhancer cannot be used afterwards.
func (e *TFLiteEnhancer) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interpreter != nil {
		e.interpreter.Delete()
		e.interpreter = nil
	}
	return nil
}

// determineThreadCount picks the inference thread count: configuration wins,
// otherwise the CPU topology decides.
func determineThreadCount(configuredThreads int) int {
	systemCPUCount := runtime.NumCPU()

	if configuredThreads == 0 {
		spec := cpuspec.GetCPUSpec()
		optimalThreads := spec.GetOptimalThreadCount()
		if optimalThreads > 0 {
			return min(optimalThreads, systemCPUCount)
		}
		return systemCPUCount
	}

	if configuredThreads > systemCPUCount {
		return systemCPUCount
	}
	return configuredThreads
}
