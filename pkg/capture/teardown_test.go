package capture

import (
	"errors"
	"strings"
	"testing"
)

func TestTeardown_ReverseOrder(t *testing.T) {
	var order []string
	var td teardown
	for _, name := range []string{"open", "allocate", "stream"} {
		name := name
		td.push(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	if err := td.run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := strings.Join(order, ","); got != "stream,allocate,open" {
		t.Errorf("Expected stream,allocate,open, got %s", got)
	}
	if td.len() != 0 {
		t.Errorf("Expected empty stack, got %d", td.len())
	}
	if err := td.run(); err != nil {
		t.Errorf("Second run failed: %v", err)
	}
}

func TestTeardown_UnwindToKeepsEarlier(t *testing.T) {
	var order []string
	var td teardown
	td.push("a", func() error { order = append(order, "a"); return nil })
	mark := td.len()
	td.push("b", func() error { order = append(order, "b"); return nil })
	td.push("c", func() error { order = append(order, "c"); return nil })

	td.unwindTo(mark)
	if got := strings.Join(order, ","); got != "c,b" {
		t.Errorf("Expected c,b, got %s", got)
	}
	if td.len() != 1 {
		t.Errorf("Expected one step left, got %d", td.len())
	}
}

func TestTeardown_ContinuesPastErrors(t *testing.T) {
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	ran := 0
	var td teardown
	td.push("a", func() error { ran++; return errA })
	td.push("b", func() error { ran++; return nil })
	td.push("c", func() error { ran++; return errC })

	err := td.run()
	if ran != 3 {
		t.Errorf("Expected all 3 steps to run, got %d", ran)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Errorf("Expected both errors joined, got %v", err)
	}
}
