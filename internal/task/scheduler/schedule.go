package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the normalized form of a schedule string.
type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

func (k Kind) String() string {
	if k == KindInterval {
		return "interval"
	}
	return "cron"
}

// Schedule is a parsed schedule string: a cron expression or a fixed interval.
//
// Accepted input:
//   - cron: "*/5 * * * *", "0 30 2 * * *", "@hourly", "@every 55m"
//   - duration: "15m", "2h30m"
//   - HH:MM interval: "00:30" is every 30 minutes, "02:00" every two hours
//
// A "cron:" prefix forces cron; "interval:" or "every:" forces an interval.
type Schedule struct {
	Kind  Kind
	Cron  string
	Every time.Duration
	Form  string // "cron" | "duration" | "hhmm"
}

// ParseSchedule normalizes raw. It does not validate cron fields; the
// Service parser does that at registration.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(prefix) {
		case "cron":
			expr := strings.TrimSpace(rest)
			if expr == "" {
				return Schedule{}, fmt.Errorf("cron expression required after %q", "cron:")
			}
			return Schedule{Kind: KindCron, Cron: expr, Form: "cron"}, nil
		case "interval", "every":
			return parseInterval(rest)
		}
	}

	if s[0] == '@' || strings.ContainsAny(s, " \t") {
		return Schedule{Kind: KindCron, Cron: s, Form: "cron"}, nil
	}

	sch, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: want cron (\"*/5 * * * *\"), HH:MM (\"02:30\") or duration (\"55m\")", raw)
	}
	return sch, nil
}

func parseInterval(raw string) (Schedule, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}

	var (
		d    time.Duration
		form string
	)
	if hh, mm, ok := strings.Cut(v, ":"); ok {
		h, herr := strconv.Atoi(hh)
		m, merr := strconv.Atoi(mm)
		if herr != nil || merr != nil || len(mm) != 2 || h < 0 || m < 0 || m > 59 {
			return Schedule{}, fmt.Errorf("invalid HH:MM interval %q", v)
		}
		d, form = time.Duration(h)*time.Hour+time.Duration(m)*time.Minute, "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		form = "duration"
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval %q must be positive", v)
	}
	return Schedule{Kind: KindInterval, Every: d, Form: form}, nil
}
