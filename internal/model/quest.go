package model

import "time"

// Quest is a time-boxed work container (a sprint) owned by one team.
//
// End is optional; a nil End means the quest has no scheduled close.
// Active is maintained by the reconciler and Archived permanently removes
// the quest from scheduling.
type Quest struct {
	ID       string
	TeamID   string
	Name     string
	Start    time.Time
	End      *time.Time
	Active   bool
	Archived bool
}

// Window returns the quest's scheduling window.
func (q Quest) Window() Window {
	return Window{Start: q.Start, End: q.End}
}

// Window is a closed interval [Start, End]. A nil End is treated as +inf.
type Window struct {
	Start time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the window (bounds inclusive).
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End == nil || !t.After(*w.End)
}

// Overlaps reports whether the two closed windows intersect.
//
// a.start <= b.end && a.end >= b.start, where a missing end is +inf.
func (w Window) Overlaps(o Window) bool {
	if o.End != nil && w.Start.After(*o.End) {
		return false
	}
	if w.End != nil && w.End.Before(o.Start) {
		return false
	}
	return true
}

// Valid reports whether the window's end (if any) is not before its start.
func (w Window) Valid() bool {
	return !w.Start.IsZero() && (w.End == nil || !w.End.Before(w.Start))
}

// TimePtr is a small helper for optional instants.
func TimePtr(t time.Time) *time.Time { return &t }
