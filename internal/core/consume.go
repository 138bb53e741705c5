package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/regsync/internal/metrics"
	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/normalize"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/store"
)

// DetailFetcher retrieves a company profile. A profile the registry does
// not know is reported with found == false and a nil error.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, identifier string) (rec models.SourceRecord, found bool, err error)
}

// MalformedMessageError reports a push delivery that cannot be decoded.
// Redelivering it will not help.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// DecodePush extracts the change event from a push delivery body of the form
// {"message": {"data": "<base64 JSON>"}}.
func DecodePush(body []byte) (models.ChangeEvent, error) {
	var env models.PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.ChangeEvent{}, &MalformedMessageError{Reason: "invalid JSON", Err: err}
	}
	if env.Message == nil {
		return models.ChangeEvent{}, &MalformedMessageError{Reason: "no message"}
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return models.ChangeEvent{}, &MalformedMessageError{Reason: "invalid base64 data", Err: err}
	}
	ev, err := models.DecodeChangeEvent(data)
	if err != nil {
		return models.ChangeEvent{}, &MalformedMessageError{Reason: "invalid event", Err: err}
	}
	return ev, nil
}

// Consumer refreshes the detail entry named by a change event.
type Consumer struct {
	wh      store.Warehouse
	fetcher DetailFetcher
	norm    *normalize.Normalizer
	writer  *Writer
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewConsumer(wh store.Warehouse, fetcher DetailFetcher, norm *normalize.Normalizer, writer *Writer, m *metrics.Collector, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{wh: wh, fetcher: fetcher, norm: norm, writer: writer, metrics: m, logger: logger}
}

// Handle processes one delivery of ev. It acks when the detail collection is
// already current for ev, when the registry has no such company, or once the
// refreshed detail row is written. Any failure, including a panic, asks for
// redelivery.
func (c *Consumer) Handle(ctx context.Context, ev models.ChangeEvent) (d models.Disposition) {
	log := c.logger.With("company_number", ev.CompanyNumber, "index_row_signature", ev.IndexRowSignature)
	defer func() {
		if r := recover(); r != nil {
			log.Error("change handler panicked", "panic", r)
			d = models.Retry
		}
		c.metrics.EventHandled(d.String())
	}()

	if err := c.handle(ctx, ev, log); err != nil {
		log.Warn("change not applied, requesting redelivery", "error", err)
		return models.Retry
	}
	return models.Ack
}

func (c *Consumer) handle(ctx context.Context, ev models.ChangeEvent, log *slog.Logger) error {
	id := ev.Identifier()
	if id == "" {
		log.Warn("change event has no identifier, dropping")
		return nil
	}

	detail := schema.CompanyDetails
	if err := c.wh.EnsureTable(ctx, detail); err != nil {
		return err
	}
	current, ok, err := c.wh.DetailSignature(ctx, detail, id)
	if err != nil {
		return fmt.Errorf("look up detail signature: %w", err)
	}
	if ok && current == ev.IndexRowSignature {
		log.Debug("detail already current")
		return nil
	}

	rec, found, err := c.fetcher.FetchDetail(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		log.Info("company not found in registry, nothing to store")
		return nil
	}

	row, err := c.norm.Normalize(detail.Name, rec, map[string]any{
		models.ColumnIndexRowSignature: ev.IndexRowSignature,
	})
	if err != nil {
		return err
	}
	res, err := c.writer.Write(ctx, detail.Name, []models.Row{row})
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return res.Errors[0]
	}
	log.Info("detail refreshed", "written", res.Written, "skipped", res.Skipped)
	return nil
}
