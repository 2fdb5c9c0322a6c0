package events

import (
	"context"
	"errors"
	"io"
)

// Target receives transcript events.
type Target interface {
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
}

// Fanout delivers every event to each target in order. A failing target
// does not stop delivery to the rest; the errors are joined.
type Fanout struct {
	targets []Target
}

// NewFanout ignores nil targets.
func NewFanout(targets ...Target) *Fanout {
	f := &Fanout{}
	for _, t := range targets {
		if t != nil {
			f.targets = append(f.targets, t)
		}
	}
	return f
}

// Len returns the number of targets.
func (f *Fanout) Len() int { return len(f.targets) }

func (f *Fanout) PublishPartial(ctx context.Context, key string, event any) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.PublishPartial(ctx, key, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) PublishFinal(ctx context.Context, key string, event any) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.PublishFinal(ctx, key, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every target that is an io.Closer.
func (f *Fanout) Close() error {
	var errs []error
	for _, t := range f.targets {
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
