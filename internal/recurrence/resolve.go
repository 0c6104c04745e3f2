package recurrence

import (
	"context"
	"time"

	"questline/internal/model"
)

// QuestQuery is the input to one quest-resolution tier.
type QuestQuery struct {
	Template model.Task
	Intended time.Time
	Quests   []model.Quest // team's non-archived quests
}

// QuestResolver is one tier of the target-quest fallback chain.
type QuestResolver func(q QuestQuery) (questID string, ok bool)

// StatusLookup is the status data a StatusResolver may read.
type StatusLookup interface {
	BacklogStatus(ctx context.Context, teamID string) (model.Status, bool, error)
}

// StatusResolver is one tier of the target-status fallback chain.
type StatusResolver func(ctx context.Context, lookup StatusLookup, tpl model.Task) (statusID string, ok bool, err error)

// DefaultQuestChain is tried in order; the first match wins.
var DefaultQuestChain = []QuestResolver{
	QuestContaining,
	AnyActiveQuest,
	TemplateQuest,
}

// DefaultStatusChain is tried in order; the first match wins.
var DefaultStatusChain = []StatusResolver{
	BacklogStatus,
	TemplateStatus,
}

// QuestContaining picks a non-archived quest whose window contains the
// intended date.
func QuestContaining(q QuestQuery) (string, bool) {
	for _, c := range q.Quests {
		if c.Archived || c.TeamID != q.Template.TeamID {
			continue
		}
		if c.Window().Contains(q.Intended) {
			return c.ID, true
		}
	}
	return "", false
}

// AnyActiveQuest picks any quest of the team currently flagged active.
func AnyActiveQuest(q QuestQuery) (string, bool) {
	for _, c := range q.Quests {
		if c.Archived || c.TeamID != q.Template.TeamID {
			continue
		}
		if c.Active {
			return c.ID, true
		}
	}
	return "", false
}

// TemplateQuest keeps the template's own quest, even if it is closed or
// archived.
func TemplateQuest(q QuestQuery) (string, bool) {
	return q.Template.QuestID, q.Template.QuestID != ""
}

// BacklogStatus picks the team's backlog-category status.
func BacklogStatus(ctx context.Context, lookup StatusLookup, tpl model.Task) (string, bool, error) {
	st, ok, err := lookup.BacklogStatus(ctx, tpl.TeamID)
	if err != nil {
		return "", false, model.DataAccess("backlog status", err)
	}
	return st.ID, ok, nil
}

// TemplateStatus keeps the template's own status.
func TemplateStatus(_ context.Context, _ StatusLookup, tpl model.Task) (string, bool, error) {
	return tpl.StatusID, tpl.StatusID != "", nil
}

func resolveQuest(chain []QuestResolver, q QuestQuery) string {
	for _, r := range chain {
		if id, ok := r(q); ok {
			return id
		}
	}
	return ""
}

func resolveStatus(ctx context.Context, chain []StatusResolver, lookup StatusLookup, tpl model.Task) (string, error) {
	for _, r := range chain {
		id, ok, err := r(ctx, lookup, tpl)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	return "", nil
}
