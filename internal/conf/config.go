// config.go: This file contains the configuration for the Auralis engine. It defines the settings struct and functions to load the settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled    bool   // true to enable this log
	Path       string // path to log file
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // days to keep rotated files
}

// MainSettings contains general application settings
type MainSettings struct {
	Name string    // name of this node, used in log and status messages
	Log  LogConfig // main log file settings
}

// AudioSettings describes the hardware audio format the pipeline runs at.
// A change to any of these fields requires re-initializing the pipeline.
type AudioSettings struct {
	SampleRate int    // sample rate in Hz
	BitDepth   int    // sample bit depth
	Channels   int    // interleaved channel count
	BufferSize int    // samples per processing buffer
	Quality    string // quality tier: maximum, balanced or powersaver
}

// EqualizerBand is a single parametric EQ band
type EqualizerBand struct {
	Frequency float64 // center frequency in Hz
	Q         float64 // filter quality factor
	Gain      float64 // band gain in dB
}

// EqualizerSettings is a struct for audio EQ settings
type EqualizerSettings struct {
	Enabled bool            // global flag to enable/disable equalizer bands
	Bands   []EqualizerBand // parametric band configuration
}

// RoomCorrectionSettings carries the measured room response corrections
type RoomCorrectionSettings struct {
	Enabled bool            // true to apply room correction
	Bands   []EqualizerBand // correction bands from room measurement
}

// CompressorSettings contains dynamic range compression settings
type CompressorSettings struct {
	Enabled   bool    // true to enable compression
	Threshold float64 // threshold in dBFS
	Ratio     float64 // compression ratio, e.g. 4 for 4:1
	AttackMs  float64 // attack time in milliseconds
	ReleaseMs float64 // release time in milliseconds
	MakeupDB  float64 // makeup gain in dB
}

// THDSettings contains harmonic distortion compensation settings
type THDSettings struct {
	Enabled        bool    // true to enable THD compensation
	SecondHarmonic float64 // second harmonic predistortion coefficient
	ThirdHarmonic  float64 // third harmonic predistortion coefficient
}

// DSPSettings groups the transform chain configuration
type DSPSettings struct {
	Equalizer      EqualizerSettings      // parametric EQ
	RoomCorrection RoomCorrectionSettings // room correction filter
	Compressor     CompressorSettings     // dynamic range compression
	THD            THDSettings            // harmonic compensation
	LimiterCeiling float64                // output limiter ceiling, linear (0..1]
}

// EnhancerSettings contains settings for the AI enhancement model
type EnhancerSettings struct {
	Enabled    bool   // true to run the enhancement stage
	ModelPath  string // path to enhancement model, empty disables enhancement
	UseXNNPACK bool   // true to use XNNPACK delegate
	Threads    int    // CPU threads for inference, 0 for automatic
}

// SchedulerSettings tunes adaptive inference scheduling
type SchedulerSettings struct {
	MinBatch            int           // lower bound of the batch size hint
	MaxBatch            int           // upper bound of the batch size hint
	LatencyTargetMs     float64       // halve the batch hint above this latency
	LatencyFloorMs      float64       // double the batch hint below this latency
	BreakerRatio        float64       // open the circuit above this failure ratio
	ProbeInterval       time.Duration // interval between recovery probes
	MemoryLimitMB       uint64        // trigger model cleanup above this usage
	MemoryCheckInterval time.Duration // interval between memory checks
}

// RetrySettings defines retry behavior for failed jobs
type RetrySettings struct {
	MaxRetries   int           // retries after the first attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // ceiling for backoff delays
	Multiplier   float64       // backoff multiplier per attempt
}

// QueueSettings contains processing queue settings
type QueueSettings struct {
	Workers int           // concurrent processing workers
	MaxSize int           // pending job capacity before rejection
	Timeout time.Duration // per job processing timeout
	Retry   RetrySettings // retry behavior
}

// PoolSettings sizes the pre-allocated buffer pool
type PoolSettings struct {
	Capacity int // number of pre-allocated buffers
}

// QualitySettings holds quality monitor thresholds
type QualitySettings struct {
	THDThreshold    float64 // alert above this THD ratio
	SNRFloorDB      float64 // alert below this SNR
	LatencyBudgetMs float64 // alert above this processing latency
	WindowSize      int     // samples in the rolling averages
}

// GatewaySettings contains streaming gateway settings
type GatewaySettings struct {
	Enabled         bool          // true to start the gateway
	Listen          string        // listen address, host:port
	MaxConnections  int           // concurrent stream connection limit
	MaxPayloadBytes int           // inbound frame payload ceiling
	WriteTimeout    time.Duration // websocket write deadline
	StatusInterval  time.Duration // periodic status frame interval
	InboundRate     float64       // per connection inbound frames per second, 0 to disable
	InboundBurst    int           // inbound rate limiter burst
}

// MQTTSinkSettings contains settings for the MQTT metrics sink
type MQTTSinkSettings struct {
	Enabled  bool   // true to enable MQTT publishing
	Broker   string // MQTT broker (tcp://host:port)
	Topic    string // MQTT topic
	Username string // MQTT username
	Password string // MQTT password
}

// HTTPSinkSettings contains settings for the HTTP metrics sink
type HTTPSinkSettings struct {
	Enabled  bool          // true to enable HTTP publishing
	Endpoint string        // endpoint URL for quality samples
	Timeout  time.Duration // request timeout
}

// SinkSettings groups external metrics sink settings
type SinkSettings struct {
	MQTT MQTTSinkSettings // MQTT sink
	HTTP HTTPSinkSettings // HTTP sink
}

// AlertSettings contains quality alert push settings
type AlertSettings struct {
	Enabled     bool          // true to push quality alerts
	URLs        []string      // shoutrrr notification URLs
	MinInterval time.Duration // minimum interval between pushed alerts
}

// CaptureSettings contains processed audio capture settings
type CaptureSettings struct {
	Enabled bool   // true to keep a rolling capture of processed audio
	Path    string // directory for exported clips
	Seconds int    // seconds of audio retained
}

// SentrySettings contains settings for error telemetry, disabled by default
type SentrySettings struct {
	Enabled bool   // true to enable Sentry error telemetry, opt-in
	DSN     string // Sentry DSN, empty uses the built-in project
}

// Settings is the root configuration for an Auralis node
type Settings struct {
	Debug bool // true to enable debug mode

	Main      MainSettings      // general settings
	Audio     AudioSettings     // hardware audio format
	Pool      PoolSettings      // buffer pool sizing
	DSP       DSPSettings       // transform chain
	Enhancer  EnhancerSettings  // AI enhancement stage
	Scheduler SchedulerSettings // adaptive inference scheduling
	Queue     QueueSettings     // processing queue
	Quality   QualitySettings   // quality monitor thresholds
	Gateway   GatewaySettings   // streaming gateway
	Sinks     SinkSettings      // external metrics sinks
	Alerts    AlertSettings     // quality alert push
	Capture   CaptureSettings   // processed audio capture
	Sentry    SentrySettings    // error telemetry
}

// Load reads the configuration into a fresh Settings instance. There is no
// package-level settings singleton; callers own the returned snapshot and
// pass it to the components that need it.
func Load() (*Settings, error) {
	settings, err := LoadRaw()
	if err != nil {
		return nil, err
	}

	// Validate settings
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// LoadRaw reads the configuration without validating it. The validate
// command uses it so a broken configuration can be reported instead of
// aborting the load.
func LoadRaw() (*Settings, error) {
	settings := &Settings{}

	// Initialize viper and read config
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	// Unmarshal the config into settings
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Get OS specific config paths
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	// Assign config paths to Viper
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	// Bind environment variables, function defined in env.go
	if err := configureEnvironmentVariables(); err != nil {
		log.Printf("Environment variable configuration: %v", err)
	}

	// Read configuration file
	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	// Create directories for config file
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	// Write default config file
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetDefaultConfigPaths returns the config search paths in priority order:
// working directory first, then the user config directory, then the system one.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "auralis"))
	}

	paths = append(paths, "/etc/auralis")
	return paths, nil
}
