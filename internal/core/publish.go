package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/regsync/internal/metrics"
)

// Topic accepts change events for delivery. Publish returns once the
// message is durably accepted.
type Topic interface {
	Publish(ctx context.Context, data []byte) (string, error)
}

// Publisher sends detected changes to a topic, one at a time.
type Publisher struct {
	detector *Detector
	topic    Topic
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func NewPublisher(d *Detector, topic Topic, m *metrics.Collector, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{detector: d, topic: topic, metrics: m, logger: logger}
}

// Publish publishes up to limit change events (all of them when limit <= 0)
// and returns how many were accepted. The first failure ends the run.
func (p *Publisher) Publish(ctx context.Context, limit int) (int, error) {
	published := 0
	for ev, err := range p.detector.Changes(ctx) {
		if err != nil {
			return published, fmt.Errorf("detect changes: %w", err)
		}
		data, err := ev.Encode()
		if err != nil {
			return published, err
		}
		id, err := p.topic.Publish(ctx, data)
		if err != nil {
			return published, fmt.Errorf("publish %s: %w", ev.Identifier(), err)
		}
		published++
		p.metrics.EventPublished()
		p.logger.Debug("published change", "company_number", ev.CompanyNumber, "message_id", id)

		if limit > 0 && published >= limit {
			break
		}
	}
	p.logger.Info("publish finished", "published", published)
	return published, nil
}
