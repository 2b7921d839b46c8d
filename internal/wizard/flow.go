// Package wizard holds the linear multi-step flows behind signup and
// report creation. Flows are plain state; callers serialise access.
package wizard

import "slices"

// Flow is an ordered list of named steps with a cursor. Moves past either
// end are no-ops.
type Flow[S comparable] struct {
	steps []S
	idx   int
}

// NewFlow panics on an empty step list.
func NewFlow[S comparable](steps ...S) *Flow[S] {
	if len(steps) == 0 {
		panic("wizard: flow needs at least one step")
	}
	return &Flow[S]{steps: slices.Clone(steps)}
}

func (f *Flow[S]) Current() S { return f.steps[f.idx] }

// StepNumber is 1-based.
func (f *Flow[S]) StepNumber() int { return f.idx + 1 }

func (f *Flow[S]) Total() int { return len(f.steps) }

func (f *Flow[S]) Steps() []S { return slices.Clone(f.steps) }

func (f *Flow[S]) IsFirst() bool { return f.idx == 0 }

func (f *Flow[S]) IsLast() bool { return f.idx == len(f.steps)-1 }

// GoToStep moves to the 1-based step n, clamped into range.
func (f *Flow[S]) GoToStep(n int) {
	f.idx = min(max(n-1, 0), len(f.steps)-1)
}

// GoTo jumps to a named step and reports whether it exists.
func (f *Flow[S]) GoTo(step S) bool {
	i := slices.Index(f.steps, step)
	if i < 0 {
		return false
	}
	f.idx = i
	return true
}

// GoToNextStep reports whether the cursor moved.
func (f *Flow[S]) GoToNextStep() bool {
	if f.IsLast() {
		return false
	}
	f.idx++
	return true
}

// GoToPrevStep reports whether the cursor moved.
func (f *Flow[S]) GoToPrevStep() bool {
	if f.IsFirst() {
		return false
	}
	f.idx--
	return true
}

// Reset returns to the first step.
func (f *Flow[S]) Reset() { f.idx = 0 }
