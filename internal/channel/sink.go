package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kilupskalvis/regsync/internal/models"
)

// HTTPSink POSTs each message to a push endpoint wrapped in a push envelope.
type HTTPSink struct {
	url          string
	subscription string
	client       *http.Client
}

func NewHTTPSink(url, subscription string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSink{url: url, subscription: subscription, client: &http.Client{Timeout: timeout}}
}

// Deliver sends msg. A 2xx response is delivered; other 4xx responses, except
// 408 and 429, are rejected; everything else failed.
func (s *HTTPSink) Deliver(ctx context.Context, msg Message) (Outcome, error) {
	body, err := json.Marshal(models.PushEnvelope{
		Message: &models.PushMessage{
			Data:        base64.StdEncoding.EncodeToString(msg.Data),
			MessageID:   msg.ID,
			PublishTime: msg.PublishTime.UTC().Format(time.RFC3339Nano),
			Attempt:     msg.Attempts + 1,
		},
		Subscription: s.subscription,
	})
	if err != nil {
		return Rejected, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Rejected, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "regsync-deliverer/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return Failed, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return Delivered, nil
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return Failed, fmt.Errorf("HTTP %d", code)
	case code >= 400 && code < 500:
		return Rejected, fmt.Errorf("HTTP %d", code)
	default:
		return Failed, fmt.Errorf("HTTP %d", code)
	}
}

// Handler consumes change events in process.
type Handler interface {
	Handle(ctx context.Context, ev models.ChangeEvent) models.Disposition
}

// HandlerSink delivers messages straight to a Handler.
type HandlerSink struct {
	Handler Handler
}

func (s HandlerSink) Deliver(ctx context.Context, msg Message) (Outcome, error) {
	ev, err := models.DecodeChangeEvent(msg.Data)
	if err != nil {
		return Rejected, err
	}
	if s.Handler.Handle(ctx, ev) == models.Retry {
		return Failed, fmt.Errorf("handler asked for redelivery")
	}
	return Delivered, nil
}
