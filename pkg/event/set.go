package event

import (
	"context"
	"errors"
	"fmt"
)

// Set polls a group of sources as one and arbitrates between them.
type Set struct {
	sources []Source
}

// NewSet groups sources. Order breaks ties between equal priorities.
func NewSet(sources ...Source) *Set {
	return &Set{sources: sources}
}

// Sources returns the grouped sources.
func (s *Set) Sources() []Source {
	return s.sources
}

// Activate activates every source. If one fails, those already activated
// are released again and the error is returned.
func (s *Set) Activate(ctx context.Context) error {
	for i, src := range s.sources {
		if err := src.Activate(ctx); err != nil {
			for _, done := range s.sources[:i] {
				_ = done.Release()
			}
			return fmt.Errorf("activate %s: %w", src.Name(), err)
		}
	}
	return nil
}

// Poll polls every source and returns the highest-priority trigger. All
// sources are polled even after one fires so edge state stays current;
// lower-priority triggers seen in the same tick are dropped.
func (s *Set) Poll(ctx context.Context) (Trigger, bool) {
	var best Trigger
	found := false
	for _, src := range s.sources {
		t, ok := src.Poll(ctx)
		if !ok {
			continue
		}
		if !found || t.Kind.Priority() > best.Kind.Priority() {
			best = t
			found = true
		}
	}
	return best, found
}

// Release releases every source, joining errors.
func (s *Set) Release() error {
	var errs []error
	for _, src := range s.sources {
		if err := src.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", src.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Scope activates the set, runs fn, and releases the set on every exit
// path, including panics in fn.
func (s *Set) Scope(ctx context.Context, fn func() error) (err error) {
	if err := s.Activate(ctx); err != nil {
		return err
	}
	defer func() {
		if rerr := s.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn()
}
