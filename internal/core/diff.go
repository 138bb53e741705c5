package core

import (
	"context"
	"iter"

	"github.com/kilupskalvis/regsync/internal/models"
	"github.com/kilupskalvis/regsync/internal/schema"
	"github.com/kilupskalvis/regsync/internal/store"
)

// Detector finds index entries whose signature is not yet reflected in the
// detail collection.
type Detector struct {
	wh     store.Warehouse
	index  *schema.Target
	detail *schema.Target
}

// NewDetector creates a Detector comparing the company index against the
// company details.
func NewDetector(wh store.Warehouse) *Detector {
	return &Detector{wh: wh, index: schema.CompanyIndex, detail: schema.CompanyDetails}
}

// Changes yields one event per identifier that has no detail entry, or whose
// latest detail entry was built from a different index signature. Events
// come most recently indexed first.
func (d *Detector) Changes(ctx context.Context) iter.Seq2[models.ChangeEvent, error] {
	return func(yield func(models.ChangeEvent, error) bool) {
		for _, t := range []*schema.Target{d.index, d.detail} {
			if err := d.wh.EnsureTable(ctx, t); err != nil {
				yield(models.ChangeEvent{}, err)
				return
			}
		}
		for ev, err := range d.wh.PendingChanges(ctx, d.index, d.detail) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}
