package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kilupskalvis/regsync/internal/models"
)

// FetchError reports a detail fetch that exhausted its retry budget.
type FetchError struct {
	Identifier string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch company %s: %v", e.Identifier, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchDetail returns the company profile for identifier, which is either a
// company number or a self-link path such as "/company/01234567". A profile
// the registry does not know is reported as found == false with a nil error.
func (c *Client) FetchDetail(ctx context.Context, identifier string) (models.SourceRecord, bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, false, fmt.Errorf("fetch company: empty identifier")
	}

	path := identifier
	if !strings.HasPrefix(path, "/") {
		path = detailPath + url.PathEscape(identifier)
	}

	resp, err := c.get(ctx, path, nil)
	if err != nil {
		if errors.Is(err, ErrRetryBudget) {
			return nil, false, &FetchError{Identifier: identifier, Err: err}
		}
		return nil, false, fmt.Errorf("fetch company %s: %w", identifier, err)
	}

	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("fetch company %s: %w", identifier, &APIError{Status: resp.status, Body: snippet(resp.body)})
	}

	var rec models.SourceRecord
	if err := models.DecodeJSON(resp.body, &rec); err != nil {
		return nil, false, fmt.Errorf("decode company %s: %w", identifier, err)
	}
	return rec, true, nil
}
