package usecase

import (
	"context"
	"errors"

	"secure-messaging/internal/domain"
)

// Fanout delivers each event to every publisher. All publishers are tried;
// their failures are joined.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
