package scheduler

import (
	"time"

	"github.com/dustin/go-humanize"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, Running: d.running.Load()}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
			if !e.Next.IsZero() {
				it.NextIn = humanize.Time(e.Next)
			}
		}
		items = append(items, it)
	}

	s.histMu.Lock()
	hist := make([]HistoryItem, len(s.history))
	copy(hist, s.history)
	s.histMu.Unlock()

	return Snapshot{
		Enabled:   enabled,
		Timezone:  tz,
		Schedules: items,
		History:   hist,
	}
}
