package events

import (
	"context"
	"errors"
)

type Publisher interface {
	PublishTick(ctx context.Context, ev TickEvent) error
}

// Fanout delivers each tick to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) PublishTick(ctx context.Context, ev TickEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishTick(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
