package model

// StatusCategory groups workflow states.
type StatusCategory string

const (
	CategoryBacklog StatusCategory = "backlog"
	CategoryActive  StatusCategory = "active"
	CategoryDone    StatusCategory = "done"
)

// Status is a team-defined workflow state.
type Status struct {
	ID       string
	TeamID   string
	Name     string
	Category StatusCategory
	Position int
}
