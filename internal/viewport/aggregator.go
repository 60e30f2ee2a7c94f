// Package viewport tracks the terminal dimensions requested by each viewer
// of a shared shell and computes the effective viewport all of them get.
package viewport

import "sync"

// Size is a terminal geometry in character cells.
type Size struct {
	Cols int
	Rows int
}

// DefaultFloor is the minimum effective viewport. The aggregate never
// shrinks below it, and it is the result when no votes exist.
var DefaultFloor = Size{Cols: 20, Rows: 12}

// Aggregator is a multiset of viewport votes for one shell resource.
// Votes are added on a viewer's resize request and removed when the viewer
// disconnects or retracts its size.
type Aggregator struct {
	mu    sync.Mutex
	votes map[Size]int
	floor Size
}

// New creates an aggregator with the given floor. A zero floor falls back
// to DefaultFloor.
func New(floor Size) *Aggregator {
	if floor.Cols <= 0 || floor.Rows <= 0 {
		floor = DefaultFloor
	}
	return &Aggregator{
		votes: make(map[Size]int),
		floor: floor,
	}
}

// Add records one vote for the given size.
func (a *Aggregator) Add(s Size) {
	a.mu.Lock()
	a.votes[s]++
	a.mu.Unlock()
}

// Remove retracts one vote for the given size. Removing a size with no
// votes is a no-op.
func (a *Aggregator) Remove(s Size) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.votes[s]
	if !ok {
		return
	}
	if n <= 1 {
		delete(a.votes, s)
		return
	}
	a.votes[s] = n - 1
}

// Effective returns the shared viewport: the minimum width and minimum
// height across all votes, floored at the configured minimum. With no votes
// it returns the floor.
func (a *Aggregator) Effective() Size {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.votes) == 0 {
		return a.floor
	}

	eff := Size{Cols: -1, Rows: -1}
	for s := range a.votes {
		if eff.Cols == -1 || s.Cols < eff.Cols {
			eff.Cols = s.Cols
		}
		if eff.Rows == -1 || s.Rows < eff.Rows {
			eff.Rows = s.Rows
		}
	}
	if eff.Cols < a.floor.Cols {
		eff.Cols = a.floor.Cols
	}
	if eff.Rows < a.floor.Rows {
		eff.Rows = a.floor.Rows
	}
	return eff
}

// Count returns the total number of votes.
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, n := range a.votes {
		total += n
	}
	return total
}
