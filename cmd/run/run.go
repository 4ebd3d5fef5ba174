package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jetassist/wsmux/config"
	"github.com/jetassist/wsmux/tools"
	"github.com/jetassist/wsmux/tunnel"
)

var (
	configFile = tools.GetenvDefault(config.EnvPrefix+"CONFIG", "config.yaml")

	Cmd = &cobra.Command{
		Use:   "run",
		Short: "Run the tunnel client",
		Args:  cobra.NoArgs,
		RunE:  runTunnel,
	}
)

func init() {
	Cmd.Flags().StringVarP(&configFile, "config", "c", configFile, "path of config file")
}

func runTunnel(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "run-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadClientConfig(configFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sup := tunnel.New(cfg, log.Logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Run retries forever with backoff; it only returns once ctx ends.
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("tunnel stopped unexpectedly")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	sup.Stop()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("timeout waiting for tunnel to stop")
	}

	logger.Info().Msg("client stopped")
	return nil
}
