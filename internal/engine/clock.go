package engine

import "time"

// Clock supplies wall-clock time for earnedAt and unlockedAt stamps.
//
// Timestamps are data, never ordering: records order by insertion id and
// history by id, so replays with a fixed clock are byte-identical.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
