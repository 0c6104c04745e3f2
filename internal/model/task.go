package model

import (
	"strings"
	"time"
)

// Task is either a recurring template (IsRecurring) or a concrete instance.
//
// Instances produced by the expander carry ParentTemplateID.
type Task struct {
	ID          string
	TeamID      string
	Title       string
	Description string
	Size        string
	Urgency     string
	XP          int
	AssigneeID  string
	ClientID    string
	QuestID     string
	StatusID    string

	IsRecurring      bool
	Rule             Rule
	NextDue          time.Time
	RecurrenceEnd    *time.Time
	ParentTemplateID string

	CreatedAt time.Time
}

var sizePoints = map[string]int{
	"xs": 1,
	"s":  2,
	"m":  3,
	"l":  5,
	"xl": 8,
}

var urgencyMultiplier = map[string]int{
	"low":      1,
	"normal":   1,
	"high":     2,
	"critical": 3,
}

// ComputeXP derives a task's experience reward from its size and urgency.
// Unknown sizes and urgencies count as 1.
func ComputeXP(size, urgency string) int {
	p, ok := sizePoints[strings.ToLower(strings.TrimSpace(size))]
	if !ok {
		p = 1
	}
	m, ok := urgencyMultiplier[strings.ToLower(strings.TrimSpace(urgency))]
	if !ok {
		m = 1
	}
	return p * m
}
