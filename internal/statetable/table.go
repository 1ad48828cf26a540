// Package statetable aggregates per-LED classification results into a table
// of current states, transition timestamps and blink frequencies.
package statetable

import (
	"time"

	"ledwatch/internal/led"
)

// Entry is the aggregated state of one LED.
type Entry struct {
	LedID       int
	LastTimeOn  time.Time // zero until the LED is first seen on
	LastTimeOff time.Time // zero until the LED is first seen off
	Hertz       float64

	current  led.LedState
	hasState bool
}

// State returns the most recent state. The boolean is false until the first
// state for this LED has been recorded.
func (e Entry) State() (led.LedState, bool) {
	return e.current, e.hasState
}

// Transition describes a power change of one LED.
type Transition struct {
	LedID int
	Old   led.LedState
	New   led.LedState
	Hertz float64 // Entry frequency after the update
}

// Table holds one entry per LED, in board order. Entries are created once
// and never removed. A Table is owned by a single goroutine; use Snapshot to
// hand a consistent copy to other readers.
type Table struct {
	entries   []Entry
	listeners []func(Transition)
}

// New creates a table with one empty entry per LED id, in the given order.
func New(ids []int) *Table {
	t := &Table{entries: make([]Entry, len(ids))}
	for i, id := range ids {
		t.entries[i] = Entry{LedID: id}
	}
	return t
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entry returns a copy of the entry at index i.
func (t *Table) Entry(i int) Entry {
	return t.entries[i]
}

// Snapshot returns a copy of all entries.
func (t *Table) Snapshot() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// OnTransition registers fn to be called for every detected transition.
// Listeners run synchronously on the updating goroutine.
func (t *Table) OnTransition(fn func(Transition)) {
	t.listeners = append(t.listeners, fn)
}

// Update records state as the newest observation of the LED at index i and
// reports whether its power changed.
//
// On a change to on, the frequency is derived from the time elapsed since
// the LED was last seen on. Equal or reversed timestamps leave it unchanged.
func (t *Table) Update(i int, state led.LedState) (Transition, bool) {
	e := &t.entries[i]

	var tr Transition
	changed := e.hasState && e.current.Power != state.Power
	if changed {
		tr = Transition{LedID: e.LedID, Old: e.current, New: state}
		if state.On() && !e.LastTimeOn.IsZero() {
			if period := state.Timestamp.Sub(e.LastTimeOn).Seconds(); period > 0 {
				e.Hertz = 1 / period
			}
		}
	}

	if state.On() {
		e.LastTimeOn = state.Timestamp
	} else {
		e.LastTimeOff = state.Timestamp
	}
	e.current = state
	e.hasState = true

	if changed {
		tr.Hertz = e.Hertz
		for _, fn := range t.listeners {
			fn(tr)
		}
	}
	return tr, changed
}
