package quest

import (
	"context"

	"questline/internal/model"
	logx "questline/pkg/logx"
)

// ValidateOverlap checks a candidate window against the team's non-archived
// quests. excludeID (may be empty) skips the quest being edited.
//
// It returns nil, a *model.ConflictError naming the first overlapping quest,
// model.ErrInvalidWindow, or a model.ErrDataAccess error.
func (s *Service) ValidateOverlap(ctx context.Context, teamID string, candidate model.Window, excludeID string) error {
	if !candidate.Valid() {
		return model.ErrInvalidWindow
	}
	quests, err := s.store.ListQuests(ctx, teamID)
	if err != nil {
		return model.DataAccess("list quests", err)
	}
	if c := firstConflict(quests, candidate, excludeID); c != nil {
		s.log.Debug("quest window rejected",
			logx.String("team", teamID),
			logx.String("conflict", c.QuestID),
		)
		return c
	}
	return nil
}

func firstConflict(quests []model.Quest, candidate model.Window, excludeID string) *model.ConflictError {
	for _, q := range quests {
		if q.Archived || (excludeID != "" && q.ID == excludeID) {
			continue
		}
		if candidate.Overlaps(q.Window()) {
			return &model.ConflictError{QuestID: q.ID, QuestName: q.Name}
		}
	}
	return nil
}
