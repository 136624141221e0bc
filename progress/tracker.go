// Package progress keeps the ordered, deduplicated collection of progress
// steps reported by agents during one turn.
package progress

import (
	"sync"

	"github.com/hupe1980/meshchat/core"
)

// Options configures a Tracker.
type Options struct {
	// OnChange receives a snapshot after every upsert. It runs while the
	// tracker is locked so snapshots arrive in upsert order; it must not call
	// back into the tracker.
	OnChange func(steps []core.ProgressStep)
}

// Tracker holds at most one step per (tool, file) identity. Later steps with
// the same identity replace the earlier one in place, so the collection keeps
// first-seen order. It is safe for concurrent use by many stream consumers.
type Tracker struct {
	mu       sync.Mutex
	steps    []core.ProgressStep
	onChange func([]core.ProgressStep)
}

// NewTracker creates an empty tracker.
func NewTracker(optFns ...func(o *Options)) *Tracker {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tracker{onChange: opts.OnChange}
}

// Upsert replaces the step sharing step's identity or appends step. It returns
// the step's position and whether an existing entry was replaced.
func (t *Tracker) Upsert(step core.ProgressStep) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	index, replaced := -1, false
	key := step.Key()
	for i := range t.steps {
		if t.steps[i].Key() == key {
			t.steps[i] = step
			index, replaced = i, true
			break
		}
	}
	if !replaced {
		t.steps = append(t.steps, step)
		index = len(t.steps) - 1
	}

	if t.onChange != nil {
		t.onChange(t.snapshotLocked())
	}
	return index, replaced
}

// Steps returns a copy of the current steps in first-seen order.
func (t *Tracker) Steps() []core.ProgressStep {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Len returns the number of distinct identities seen.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.steps)
}

// Reset drops every step.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = nil
}

func (t *Tracker) snapshotLocked() []core.ProgressStep {
	out := make([]core.ProgressStep, len(t.steps))
	copy(out, t.steps)
	return out
}
