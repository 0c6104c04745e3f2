package model

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is the period unit of a recurrence rule.
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return "unknown"
	}
}

// ParseFrequency accepts "daily", "weekly" or "monthly" (case-insensitive).
func ParseFrequency(raw string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	default:
		return 0, fmt.Errorf("invalid frequency %q (use daily, weekly or monthly)", raw)
	}
}

// Rule is a recurrence rule. The zero Rule is "no rule"; every other value is
// built through NewRule or ParseRule and is always valid.
type Rule struct {
	freq     Frequency
	interval int
}

// NewRule builds a rule. interval must be >= 1.
func NewRule(freq Frequency, interval int) (Rule, error) {
	switch freq {
	case Daily, Weekly, Monthly:
	default:
		return Rule{}, fmt.Errorf("invalid frequency %d", int(freq))
	}
	if interval < 1 {
		return Rule{}, fmt.Errorf("interval must be >= 1, got %d", interval)
	}
	return Rule{freq: freq, interval: interval}, nil
}

// ParseRule builds a rule from its stored form.
func ParseRule(freq string, interval int) (Rule, error) {
	f, err := ParseFrequency(freq)
	if err != nil {
		return Rule{}, err
	}
	return NewRule(f, interval)
}

// MustRule is NewRule for constants and tests.
func MustRule(freq Frequency, interval int) Rule {
	r, err := NewRule(freq, interval)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rule) Frequency() Frequency { return r.freq }
func (r Rule) Interval() int        { return r.interval }
func (r Rule) IsZero() bool         { return r.freq == 0 }

func (r Rule) String() string {
	if r.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s/%d", r.freq, r.interval)
}

// Next advances t by exactly one period.
//
// Monthly advancement uses time.AddDate, so Jan 31 + 1 month lands on
// Mar 2 or Mar 3 (normalized overflow).
func (r Rule) Next(t time.Time) (time.Time, error) {
	switch r.freq {
	case Daily:
		return t.AddDate(0, 0, r.interval), nil
	case Weekly:
		return t.AddDate(0, 0, 7*r.interval), nil
	case Monthly:
		return t.AddDate(0, r.interval, 0), nil
	default:
		return time.Time{}, fmt.Errorf("recurrence rule not set")
	}
}
