package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/omarluq/plangate/internal/di"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the plangate gateway",
	Long: `Start the gateway. Plans and seeded keys are reloaded when the config
file changes; the API key header and parameter names need a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath := resolveConfigPath()

	container, err := di.NewContainer(configPath)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	serverSvc, err := di.Invoke[*di.ServerService](container)
	if err != nil {
		_ = container.Shutdown()
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	di.MustInvoke[*di.ConfigService](container).StartWatching(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", serverSvc.Server.Addr()).Msg("starting plangate")
		errCh <- serverSvc.Server.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := container.ShutdownWithContext(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("shutdown error")
	}

	log.Info().Msg("server stopped")
	return err
}

// resolveConfigPath returns --config or the first default location that exists.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return findConfigInWithHome(wd, home)
}

// findConfigIn looks for the default config file in dir only.
func findConfigIn(dir string) string {
	return findConfigInWithHome(dir, "")
}

// findConfigInWithHome checks dir, then ~/.config/plangate. Both YAML and
// TOML names are accepted. Falls back to the default file name.
func findConfigInWithHome(dir, home string) string {
	names := []string{defaultConfigFile, "plangate.yml", "plangate.toml"}

	dirs := []string{dir}
	if home != "" {
		dirs = append(dirs, filepath.Join(home, ".config", appName))
	}

	for _, d := range dirs {
		for _, name := range names {
			p := filepath.Join(d, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return defaultConfigFile
}
