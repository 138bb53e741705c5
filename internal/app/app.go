// Package app builds every long-lived handle once from configuration and
// wires the pipeline components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilupskalvis/regsync/internal/channel"
	"github.com/kilupskalvis/regsync/internal/config"
	"github.com/kilupskalvis/regsync/internal/core"
	"github.com/kilupskalvis/regsync/internal/metrics"
	"github.com/kilupskalvis/regsync/internal/normalize"
	"github.com/kilupskalvis/regsync/internal/registry"
	"github.com/kilupskalvis/regsync/internal/secrets"
	"github.com/kilupskalvis/regsync/internal/server"
	"github.com/kilupskalvis/regsync/internal/store"
	"github.com/kilupskalvis/regsync/internal/store/pgstore"
	"github.com/kilupskalvis/regsync/internal/weaviate"
)

// App holds the wired pipeline.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Clock    clock.Clock
	Metrics  *metrics.Collector
	Registry *prometheus.Registry

	Warehouse store.Warehouse
	Topic     *channel.Topic
	Client    *registry.Client

	Writer      *core.Writer
	Detector    *core.Detector
	Publisher   *core.Publisher
	Consumer    *core.Consumer
	IndexSweep  *core.IndexSweep
	DetailSweep *core.DetailSweep
}

// New opens the warehouse and the topic and builds the pipeline. Close
// releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Clock:   clock.WallClock,
		Metrics: metrics.NewCollector(),
	}
	a.Registry = metrics.NewRegistry(a.Metrics)

	wh, err := OpenWarehouse(ctx, cfg.Warehouse)
	if err != nil {
		return nil, err
	}
	a.Warehouse = wh

	topic, err := channel.Open(cfg.Channel.Path, cfg.Channel.Topic, a.Clock)
	if err != nil {
		wh.Close()
		return nil, err
	}
	a.Topic = topic

	creds, err := SecretSource(ctx, cfg.Secrets)
	if err != nil {
		a.Close()
		return nil, err
	}

	rc := cfg.Registry
	a.Client = registry.NewClient(registry.Options{
		BaseURL:           rc.BaseURL,
		Credentials:       creds,
		SecretName:        cfg.Secrets.Name,
		Timeout:           rc.Timeout.Std(),
		RequestsPerSecond: rc.RequestsPerSecond,
		Retry: &registry.RetryConfig{
			MaxRetries:     rc.Retry.MaxRetries,
			InitialBackoff: rc.Retry.InitialBackoff.Std(),
			MaxBackoff:     rc.Retry.MaxBackoff.Std(),
		},
		Clock:  a.Clock,
		Logger: logger.With("component", "registry"),
	})

	norm := normalize.New(a.Clock)
	a.Writer = core.NewWriter(wh, a.Metrics, logger.With("component", "writer"))
	a.Detector = core.NewDetector(wh)
	a.Publisher = core.NewPublisher(a.Detector, topic, a.Metrics, logger.With("component", "publisher"))
	a.Consumer = core.NewConsumer(wh, a.Client, norm, a.Writer, a.Metrics, logger.With("component", "consumer"))
	a.IndexSweep = core.NewIndexSweep(a.Client, norm, a.Writer, a.Metrics, logger.With("component", "index"))
	a.IndexSweep.PageSize = rc.PageSize
	a.IndexSweep.Politeness = rc.PolitenessDelay.Std()
	a.DetailSweep = core.NewDetailSweep(wh, a.Client, norm, a.Writer, a.Clock, a.Metrics, logger.With("component", "details"))
	return a, nil
}

// Close releases the warehouse and the topic.
func (a *App) Close() error {
	var errs []error
	if a.Topic != nil {
		errs = append(errs, a.Topic.Close())
	}
	if a.Warehouse != nil {
		errs = append(errs, a.Warehouse.Close())
	}
	return errors.Join(errs...)
}

// OpenWarehouse opens the configured warehouse backend.
func OpenWarehouse(ctx context.Context, cfg config.WarehouseConfig) (store.Warehouse, error) {
	var (
		wh  store.Warehouse
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		wh, err = store.New(cfg.Path)
	case "postgres":
		wh, err = pgstore.Open(ctx, pgstore.Options{DSN: cfg.DSN, Schema: cfg.Schema})
	case "weaviate":
		var client *weaviate.Client
		client, err = weaviate.NewClient(cfg.URL)
		if err == nil {
			wh, err = weaviate.NewWarehouse(ctx, client)
		}
	default:
		err = fmt.Errorf("unknown warehouse driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s warehouse: %w", cfg.Driver, err)
	}
	return wh, nil
}

// SecretSource returns the configured credential source.
func SecretSource(ctx context.Context, cfg config.SecretsConfig) (secrets.Source, error) {
	switch cfg.Provider {
	case "", "env":
		return secrets.EnvSource{Var: cfg.EnvVar}, nil
	case "file":
		return secrets.FileSource{Path: cfg.File}, nil
	case "static":
		return secrets.StaticSource(cfg.Value), nil
	case "gcp":
		src, err := secrets.NewGCPSource(ctx, cfg.Project)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Provider)
	}
}

// Sink returns where the deliverer sends messages: the configured push
// endpoint, or the in-process consumer when none is set.
func (a *App) Sink() channel.Sink {
	if ep := a.Config.Channel.PushEndpoint; ep != "" {
		return channel.NewHTTPSink(ep, a.Config.Channel.Subscription, 0)
	}
	return channel.HandlerSink{Handler: a.Consumer}
}

// Deliverer returns a deliverer for the topic.
func (a *App) Deliverer() *channel.Deliverer {
	cc := a.Config.Channel
	return channel.NewDeliverer(a.Topic, a.Sink(), channel.DeliverConfig{
		MaxAttempts:    cc.MaxAttempts,
		InitialBackoff: cc.InitialBackoff.Std(),
		MaxBackoff:     cc.MaxBackoff.Std(),
		PollInterval:   cc.PollInterval.Std(),
		BatchSize:      channel.DefaultDeliverConfig().BatchSize,
	}, a.Clock, a.Metrics, a.Logger.With("component", "deliverer"))
}

// Handler returns the HTTP surface. The cleanup function must be called on
// shutdown.
func (a *App) Handler() (http.Handler, func()) {
	sc := a.Config.Server
	return server.Handler(server.Deps{
		Index:     a.IndexSweep,
		Details:   a.DetailSweep,
		Publisher: a.Publisher,
		Consumer:  a.Consumer,
		Warehouse: a.Warehouse,
		Metrics:   a.Metrics,
		Registry:  a.Registry,
	}, &server.Config{
		MaxRequestBody:    sc.MaxRequestBody,
		RequestsPerMinute: sc.RequestsPerMinute,
		DefaultQuery:      a.Config.Registry.Query,
		DetailPoliteness:  a.Config.Details.PolitenessDelay.Std(),
		DetailLimit:       a.Config.Details.Limit,
	}, a.Logger.With("component", "server"))
}
