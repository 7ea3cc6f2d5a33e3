package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/auralis/auralis-go/internal/buildinfo"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/gateway"
	"github.com/auralis/auralis-go/internal/logging"
	"github.com/auralis/auralis-go/internal/observability"
	"github.com/auralis/auralis-go/internal/pipeline"
)

// shutdownTimeout bounds how long draining gateway connections may hold
// up process exit.
const shutdownTimeout = 10 * time.Second

// Command creates the serve command, which runs the enhancement engine
// and the streaming gateway until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the enhancement engine and streaming gateway",
		Long:  "Start the processing pipeline and serve enhancement streams over WebSocket until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}

	// Set up flags specific to the 'serve' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Gateway.Listen, "listen", viper.GetString("gateway.listen"), "Address and port the streaming gateway binds to")
	cmd.Flags().BoolVar(&settings.Gateway.Enabled, "gateway", viper.GetBool("gateway.enabled"), "Serve the streaming gateway")
	cmd.Flags().IntVar(&settings.Queue.Workers, "workers", viper.GetInt("queue.workers"), "Number of processing workers")
	cmd.Flags().StringVar(&settings.Audio.Quality, "tier", viper.GetString("audio.quality"), "Quality tier (maximum, balanced or powersaver)")
	cmd.Flags().StringVar(&settings.Enhancer.ModelPath, "model", viper.GetString("enhancer.modelpath"), "Path to the enhancement model file")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

func run(settings *conf.Settings) error {
	logging.Info("starting auralis",
		"version", buildinfo.Version(),
		"build_date", buildinfo.BuildDate())

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	p, err := pipeline.New(settings, pipeline.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer p.Stop()

	if !settings.Gateway.Enabled {
		logging.Info("gateway is disabled, processing runs headless")
		<-ctx.Done()
		return nil
	}

	srv, err := gateway.New(settings.Gateway, p,
		gateway.WithMetrics(metrics),
		gateway.WithVersion(buildinfo.Version()),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	// Serve blocks until Shutdown; the second goroutine turns the signal
	// into a bounded drain.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
