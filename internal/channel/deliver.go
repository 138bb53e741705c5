package channel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/kilupskalvis/regsync/internal/metrics"
)

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	// Delivered means the subscriber accepted the message.
	Delivered Outcome = iota
	// Rejected means the subscriber will never accept the message.
	Rejected
	// Failed means the attempt should be repeated later.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Sink receives messages from a Deliverer.
type Sink interface {
	Deliver(ctx context.Context, msg Message) (Outcome, error)
}

// DeliverConfig tunes redelivery.
type DeliverConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PollInterval   time.Duration
	// BatchSize caps the messages taken per round. Zero means all due.
	BatchSize int
}

// DefaultDeliverConfig returns the redelivery defaults.
func DefaultDeliverConfig() DeliverConfig {
	return DeliverConfig{
		MaxAttempts:    5,
		InitialBackoff: 10 * time.Second,
		MaxBackoff:     10 * time.Minute,
		PollInterval:   5 * time.Second,
		BatchSize:      100,
	}
}

// Deliverer pushes pending messages of a topic to a sink. A message may be
// delivered more than once.
type Deliverer struct {
	topic   *Topic
	sink    Sink
	cfg     DeliverConfig
	clock   clock.Clock
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewDeliverer(topic *Topic, sink Sink, cfg DeliverConfig, clk clock.Clock, m *metrics.Collector, logger *slog.Logger) *Deliverer {
	def := DefaultDeliverConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{topic: topic, sink: sink, cfg: cfg, clock: clk, metrics: m, logger: logger}
}

// backoff returns the delay before retry number attempts.
func (d *Deliverer) backoff(attempts int) time.Duration {
	delay := d.cfg.InitialBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return min(delay, d.cfg.MaxBackoff)
}

// RunOnce attempts every due message once and returns how many were
// delivered.
func (d *Deliverer) RunOnce(ctx context.Context) (int, error) {
	msgs, err := d.topic.Due(d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		log := d.logger.With("message_id", msg.ID, "attempt", msg.Attempts+1)

		outcome, cause := d.sink.Deliver(ctx, msg)
		d.metrics.Delivery(outcome.String())

		switch {
		case outcome == Delivered:
			err = d.topic.Ack(msg.Seq)
			delivered++
		case outcome == Rejected:
			log.Warn("message rejected, dead-lettering", "error", cause)
			err = d.topic.DeadLetter(msg, cause)
		case msg.Attempts+1 >= d.cfg.MaxAttempts:
			log.Error("delivery attempts exhausted, dead-lettering", "error", cause)
			err = d.topic.DeadLetter(msg, cause)
		default:
			delay := d.backoff(msg.Attempts + 1)
			log.Info("delivery failed, will retry", "delay", delay, "error", cause)
			err = d.topic.Nack(msg, d.clock.Now().Add(delay), cause)
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return delivered, err
		}
	}

	if s, err := d.topic.Stats(); err == nil {
		d.metrics.Backlog(s.Pending)
	}
	return delivered, nil
}

// Run delivers messages until ctx is cancelled.
func (d *Deliverer) Run(ctx context.Context) error {
	d.logger.Info("deliverer started", "topic", d.topic.Name(), "poll_interval", d.cfg.PollInterval)
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("delivery round failed", "error", err)
		}
		select {
		case <-ctx.Done():
			d.logger.Info("deliverer stopped")
			return nil
		case <-d.clock.After(d.cfg.PollInterval):
		}
	}
}
