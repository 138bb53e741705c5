package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/regsync/internal/app"
	"github.com/kilupskalvis/regsync/internal/config"
)

var (
	serverListen    string
	serverLogLevel  string
	serverLogFormat string
	serverTLSCert   string
	serverTLSKey    string
	serverNoDeliver bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the regsync HTTP service",
	Long:  "Commands for running the regsync HTTP service.",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the regsync HTTP service",
	Long: `Start the regsync HTTP service.

The service exposes the index, details, producer and subscriber triggers
plus health and metrics endpoints. Unless --no-deliver is given it also
runs the topic deliverer, which pushes published changes to the configured
endpoint or straight to the in-process consumer.

Examples:
  regsync server start
  regsync server start --listen 0.0.0.0:8080 --log-format text
  regsync server start --tls-cert server.crt --tls-key server.key`,
	Run: runServerStart,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)

	f := serverStartCmd.Flags()
	f.StringVar(&serverListen, "listen", "", "Listen address (host:port, default from config)")
	f.StringVar(&serverLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	f.StringVar(&serverLogFormat, "log-format", "", "Log format (json|text)")
	f.StringVar(&serverTLSCert, "tls-cert", os.Getenv("REGSYNC_TLS_CERT"), "TLS certificate file")
	f.StringVar(&serverTLSKey, "tls-key", os.Getenv("REGSYNC_TLS_KEY"), "TLS key file")
	f.BoolVar(&serverNoDeliver, "no-deliver", false, "Do not run the topic deliverer")
}

func runServerStart(_ *cobra.Command, _ []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}
	if serverLogLevel != "" {
		cfg.Server.LogLevel = serverLogLevel
	}
	if serverLogFormat != "" {
		cfg.Server.LogFormat = serverLogFormat
	}
	if err := cfg.Validate(); err != nil {
		exitError("%v", err)
	}
	logger := cfg.Logger(os.Stdout)

	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	err = a.Serve(ctx, app.ServeOptions{
		Listen:  serverListen,
		TLSCert: serverTLSCert,
		TLSKey:  serverTLSKey,
		Deliver: !serverNoDeliver,
	})
	if err != nil {
		logger.Error("server error", "error", err)
		a.Close()
		os.Exit(1)
	}
}
