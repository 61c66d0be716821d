package testutil

import (
	"context"
	"sync"

	"github.com/listsync/listsync/internal/model"
)

// DriftLog collects reported drift records.
type DriftLog struct {
	mu      sync.Mutex
	records []model.DriftRecord
	err     error
}

// ReportDrift records rec and returns the configured error.
func (d *DriftLog) ReportDrift(_ context.Context, rec model.DriftRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, rec)
	return d.err
}

// FailWith makes later reports return err. Records are still kept.
func (d *DriftLog) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Records returns a copy of everything reported so far.
func (d *DriftLog) Records() []model.DriftRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.DriftRecord(nil), d.records...)
}
