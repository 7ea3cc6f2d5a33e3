// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "Auralis")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "auralis.log")
	viper.SetDefault("main.log.maxsizemb", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxagedays", 28)

	viper.SetDefault("audio.samplerate", DefaultSampleRate)
	viper.SetDefault("audio.bitdepth", DefaultBitDepth)
	viper.SetDefault("audio.channels", DefaultChannels)
	viper.SetDefault("audio.buffersize", DefaultBufferSize)
	viper.SetDefault("audio.quality", TierBalanced)

	viper.SetDefault("pool.capacity", 32)

	viper.SetDefault("dsp.equalizer.enabled", false)
	viper.SetDefault("dsp.roomcorrection.enabled", false)
	viper.SetDefault("dsp.compressor.enabled", false)
	viper.SetDefault("dsp.compressor.threshold", -18.0)
	viper.SetDefault("dsp.compressor.ratio", 4.0)
	viper.SetDefault("dsp.compressor.attackms", 5.0)
	viper.SetDefault("dsp.compressor.releasems", 50.0)
	viper.SetDefault("dsp.compressor.makeupdb", 0.0)
	viper.SetDefault("dsp.thd.enabled", false)
	viper.SetDefault("dsp.thd.secondharmonic", 0.0)
	viper.SetDefault("dsp.thd.thirdharmonic", 0.0)
	viper.SetDefault("dsp.limiterceiling", 0.98)

	viper.SetDefault("enhancer.enabled", false)
	viper.SetDefault("enhancer.modelpath", "")
	viper.SetDefault("enhancer.usexnnpack", true)
	viper.SetDefault("enhancer.threads", 0)

	viper.SetDefault("scheduler.minbatch", 64)
	viper.SetDefault("scheduler.maxbatch", 1024)
	viper.SetDefault("scheduler.latencytargetms", 10.0)
	viper.SetDefault("scheduler.latencyfloorms", 5.0)
	viper.SetDefault("scheduler.breakerratio", 0.5)
	viper.SetDefault("scheduler.probeinterval", 5*time.Second)
	viper.SetDefault("scheduler.memorylimitmb", 8192)
	viper.SetDefault("scheduler.memorycheckinterval", 30*time.Second)

	viper.SetDefault("queue.workers", 2)
	viper.SetDefault("queue.maxsize", 64)
	viper.SetDefault("queue.timeout", 30*time.Second)
	viper.SetDefault("queue.retry.maxretries", 2)
	viper.SetDefault("queue.retry.initialdelay", 2*time.Millisecond)
	viper.SetDefault("queue.retry.maxdelay", 100*time.Millisecond)
	viper.SetDefault("queue.retry.multiplier", 2.0)

	viper.SetDefault("quality.thdthreshold", 0.000005)
	viper.SetDefault("quality.snrfloordb", 120.0)
	viper.SetDefault("quality.latencybudgetms", LatencyBudgetMs)
	viper.SetDefault("quality.windowsize", 100)

	viper.SetDefault("gateway.enabled", true)
	viper.SetDefault("gateway.listen", "0.0.0.0:8080")
	viper.SetDefault("gateway.maxconnections", 16)
	viper.SetDefault("gateway.maxpayloadbytes", 32768)
	viper.SetDefault("gateway.writetimeout", 2*time.Second)
	viper.SetDefault("gateway.statusinterval", 1*time.Second)
	viper.SetDefault("gateway.inboundrate", 0.0)
	viper.SetDefault("gateway.inboundburst", 32)

	viper.SetDefault("sinks.mqtt.enabled", false)
	viper.SetDefault("sinks.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("sinks.mqtt.topic", "auralis/quality")
	viper.SetDefault("sinks.mqtt.username", "")
	viper.SetDefault("sinks.mqtt.password", "")
	viper.SetDefault("sinks.http.enabled", false)
	viper.SetDefault("sinks.http.endpoint", "")
	viper.SetDefault("sinks.http.timeout", 5*time.Second)

	viper.SetDefault("alerts.enabled", false)
	viper.SetDefault("alerts.urls", []string{})
	viper.SetDefault("alerts.mininterval", 1*time.Minute)

	viper.SetDefault("capture.enabled", false)
	viper.SetDefault("capture.path", "clips/")
	viper.SetDefault("capture.seconds", 15)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
