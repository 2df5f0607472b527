package audit

import (
	"context"
	"errors"
)

// Tee fans one event out to several stores. Every store is attempted; the
// joined error reports which ones failed. The first store that implements
// Reader serves queries.
type Tee struct {
	stores []Store
}

func NewTee(stores ...Store) *Tee {
	var nonNil []Store
	for _, s := range stores {
		if s != nil {
			nonNil = append(nonNil, s)
		}
	}
	return &Tee{stores: nonNil}
}

func (t *Tee) Append(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range t.stores {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tee) ListByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	for _, s := range t.stores {
		if r, ok := s.(Reader); ok {
			return r.ListByCorrelation(ctx, correlationID)
		}
	}
	return nil, errors.New("no queryable audit store configured")
}

func (t *Tee) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	for _, s := range t.stores {
		if r, ok := s.(Reader); ok {
			return r.ListRecent(ctx, limit)
		}
	}
	return nil, errors.New("no queryable audit store configured")
}
