// Command regsync-server runs the regsync HTTP service and topic deliverer.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kilupskalvis/regsync/internal/app"
	"github.com/kilupskalvis/regsync/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfig), "Config file")
	listen := flag.String("listen", "", "Listen address (default from config or $PORT)")
	tlsCert := flag.String("tls-cert", os.Getenv("REGSYNC_TLS_CERT"), "TLS certificate file")
	tlsKey := flag.String("tls-key", os.Getenv("REGSYNC_TLS_KEY"), "TLS key file")
	deliver := flag.Bool("deliver", envOrDefault("REGSYNC_DELIVER", "true") == "true", "Run the topic deliverer")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet; fall back to the defaults for this one line.
		config.Default().Logger(os.Stderr).Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := cfg.Logger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	err = a.Serve(ctx, app.ServeOptions{
		Listen:  *listen,
		TLSCert: *tlsCert,
		TLSKey:  *tlsKey,
		Deliver: *deliver,
	})
	if cerr := a.Close(); cerr != nil {
		logger.Error("close error", "error", cerr)
	}
	if err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
