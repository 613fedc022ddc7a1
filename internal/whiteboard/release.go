package whiteboard

import (
	"errors"
	"sync"
)

// Release undoes an activation. It is safe to call more than once; only the
// first call does anything.
type Release func() error

// releaseStack collects undo steps and runs them in reverse order of
// acquisition. Every step runs even when an earlier one fails.
type releaseStack struct {
	mu    sync.Mutex
	steps []func() error
	done  bool
}

func (s *releaseStack) push(step func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *releaseStack) release() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	steps := s.steps
	s.steps = nil
	s.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// once wraps fn so it runs at most once and later calls return nil.
func once(fn func() error) Release {
	var o sync.Once
	return func() error {
		var err error
		o.Do(func() { err = fn() })
		return err
	}
}
