package domain

import "time"

// Extension describes what a soft-close check did to an auction's end time.
type Extension struct {
	EndTime time.Time
	// Triggered is true when the bid landed inside the trailing window.
	Triggered bool
	// Extended is true when EndTime moved later than the previous end.
	Extended bool
}

// MaybeExtend applies the soft-close rule: a bid at or after
// endTime-window pushes the end out to bidTime+window. The end time never
// moves backwards, so a computed end that is not after endTime is a no-op.
func MaybeExtend(endTime time.Time, window time.Duration, bidTime time.Time) Extension {
	ext := Extension{EndTime: endTime}
	if window <= 0 {
		return ext
	}
	if bidTime.Before(endTime.Add(-window)) {
		return ext
	}
	ext.Triggered = true
	if candidate := bidTime.Add(window); candidate.After(endTime) {
		ext.EndTime = candidate
		ext.Extended = true
	}
	return ext
}
