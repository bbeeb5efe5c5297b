package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-beauty/models"
)

// FanoutSink writes every record to a primary sink and then to its mirrors.
// Mirrors only see records the primary accepted.
type FanoutSink struct {
	primary Sink
	mirrors []Sink
}

// NewFanoutSink wraps primary with zero or more mirrors.
func NewFanoutSink(primary Sink, mirrors ...Sink) *FanoutSink {
	return &FanoutSink{primary: primary, mirrors: mirrors}
}

// Upsert writes record to the primary sink, then to each mirror.
func (f *FanoutSink) Upsert(ctx context.Context, record *models.ProductRecord) error {
	if err := f.primary.Upsert(ctx, record); err != nil {
		return err
	}

	var errs []error
	for i, mirror := range f.mirrors {
		if err := mirror.Upsert(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("mirror %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the primary and every mirror.
func (f *FanoutSink) Close() error {
	var errs []error
	if err := f.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close failed: %w", err))
	}
	for i, mirror := range f.mirrors {
		if err := mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mirror %d close failed: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
