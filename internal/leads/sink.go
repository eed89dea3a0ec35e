package leads

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Sink receives validated leads.
type Sink interface {
	Deliver(ctx context.Context, lead Lead) error
	Name() string
}

// MultiSink delivers to every sink concurrently. Every sink is attempted;
// the error of the first failing sink, in slice order, is returned.
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Deliver(ctx context.Context, lead Lead) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, s := range m {
		i, s := i, s
		g.Go(func() error {
			if err := s.Deliver(ctx, lead); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
			return errs[i]
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
