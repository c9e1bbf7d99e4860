package capture

import (
	"errors"
	"fmt"
)

// teardown collects release steps as resources are acquired and runs them
// newest first.
type teardown struct {
	steps []teardownStep
}

type teardownStep struct {
	name string
	fn   func() error
}

func (t *teardown) push(name string, fn func() error) {
	t.steps = append(t.steps, teardownStep{name: name, fn: fn})
}

func (t *teardown) len() int {
	return len(t.steps)
}

// unwindTo releases steps until only n remain.
func (t *teardown) unwindTo(n int) error {
	var errs []error
	for len(t.steps) > n {
		last := t.steps[len(t.steps)-1]
		t.steps = t.steps[:len(t.steps)-1]
		if err := last.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", last.name, err))
		}
	}
	return errors.Join(errs...)
}

func (t *teardown) run() error {
	return t.unwindTo(0)
}
