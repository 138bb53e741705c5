package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kilupskalvis/regsync/internal/models"
)

// Outcome describes why a Pager stopped.
type Outcome int

const (
	// Running means the pager may yield more pages.
	Running Outcome = iota
	// RangeEnd means the registry reported the offset as out of range.
	RangeEnd
	// EmptyPage means the registry returned a page with no items.
	EmptyPage
	// ShortPage means the last page held fewer items than requested.
	ShortPage
	// GaveUp means consecutive failures exhausted the retry budget.
	GaveUp
	// Failed means a non-retryable error stopped the sweep.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Running:
		return "running"
	case RangeEnd:
		return "range_end"
	case EmptyPage:
		return "empty_page"
	case ShortPage:
		return "short_page"
	case GaveUp:
		return "gave_up"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exhausted reports whether the source ran out of results, as opposed to
// the sweep being cut short by errors.
func (o Outcome) Exhausted() bool {
	return o == RangeEnd || o == EmptyPage || o == ShortPage
}

// Page is one page of search results.
type Page struct {
	Number     int
	StartIndex int
	Items      []models.SourceRecord
}

// Pager walks the search results for a query one page at a time. It is
// single-pass and not safe for concurrent use:
//
//	p := client.Pages("a", 100, time.Second)
//	for p.Next(ctx) {
//		handle(p.Page())
//	}
//	if err := p.Err(); err != nil { ... }
type Pager struct {
	client     *Client
	query      string
	pageSize   int
	politeness time.Duration

	start   int
	page    Page
	pages   int
	err     error
	outcome Outcome
}

// Pages returns a Pager over the search results for query. politeness is
// the pause between successful page requests.
func (c *Client) Pages(query string, pageSize int, politeness time.Duration) *Pager {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Pager{client: c, query: query, pageSize: pageSize, politeness: politeness}
}

// Next fetches the next page. It returns false when the sweep is over; Err
// and Outcome then tell how it ended.
func (p *Pager) Next(ctx context.Context) bool {
	if p.outcome != Running {
		return false
	}
	if p.pages > 0 {
		if err := sleep(ctx, p.client.clock, p.politeness); err != nil {
			return p.fail(Failed, err)
		}
	}

	q := url.Values{}
	q.Set("q", p.query)
	q.Set("items_per_page", strconv.Itoa(p.pageSize))
	q.Set("start_index", strconv.Itoa(p.start))

	resp, err := p.client.get(ctx, searchPath, q)
	if err != nil {
		if errors.Is(err, ErrRetryBudget) {
			return p.fail(GaveUp, err)
		}
		return p.fail(Failed, err)
	}

	switch resp.status {
	case http.StatusOK:
	case http.StatusRequestedRangeNotSatisfiable:
		p.outcome = RangeEnd
		return false
	default:
		return p.fail(Failed, &APIError{Status: resp.status, Body: snippet(resp.body)})
	}

	var sr searchResponse
	if err := models.DecodeJSON(resp.body, &sr); err != nil {
		return p.fail(Failed, fmt.Errorf("decode search page at %d: %w", p.start, err))
	}
	if len(sr.Items) == 0 {
		p.outcome = EmptyPage
		return false
	}

	p.pages++
	p.page = Page{Number: p.pages, StartIndex: p.start, Items: sr.Items}
	p.start += len(sr.Items)
	if len(sr.Items) < p.pageSize {
		p.outcome = ShortPage
	}
	return true
}

func (p *Pager) fail(o Outcome, err error) bool {
	p.outcome = o
	p.err = err
	return false
}

// Page returns the page fetched by the last successful call to Next.
func (p *Pager) Page() Page {
	return p.page
}

// Err returns the error that stopped the sweep, if any. A sweep that gave
// up wraps ErrRetryBudget.
func (p *Pager) Err() error {
	return p.err
}

// Outcome returns the pager's current state.
func (p *Pager) Outcome() Outcome {
	return p.outcome
}
