// Command robotmwd runs the robot command middleware core, the process a
// supervisor launches and speaks the APP_TOKEN/health handshake of
// spec §6 with.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobmcallan/robotmw/internal/app"
	"github.com/bobmcallan/robotmw/internal/common"
)

func main() {
	configPath := os.Getenv("ROBOTMW_CONFIG")

	config, err := common.LoadConfig(configPath)
	if err != nil {
		if errors.Is(err, common.ErrMissingToken) || errors.Is(err, common.ErrTokenTooShort) {
			fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(config, os.Getenv("ROBOTMW_MQTT_BROKER"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(config, a.Logger)
	a.Start()

	go func() {
		if err := a.Server.Start(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error().Err(err).Msg("HTTP server failed")
			os.Exit(1)
		}
	}()

	// Legacy consumers of this process poll stdout for readiness.
	fmt.Printf("Running on %s\n", a.Server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("shutdown signal received")
	common.PrintShutdownBanner(a.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace())
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := a.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("app shutdown failed")
	}
	a.Logger.Info().Msg("server stopped")
}
