package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

// Interval jobs registered together would otherwise all fire on the same
// tick after a restart.
const maxFirstRunJitter = 30 * time.Second

// delayedFirst fires once at first, then follows base.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (s *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// everyWithJitter returns an interval schedule whose first run is pushed back
// by a jitter derived from name and now, capped at min(every, maxFirstRunJitter).
func everyWithJitter(name string, every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	span := min(every, maxFirstRunJitter)
	if span <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	_, _ = h.Write([]byte(now.Format(time.RFC3339Nano)))
	jitter := time.Duration(h.Sum64() % uint64(span))
	return &delayedFirst{base: base, first: now.Add(every + jitter)}, jitter
}
