package jobs

import "time"

// SetClock replaces the queue's time source.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }
