package quest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"questline/internal/eventbus"
	"questline/internal/model"
	"questline/internal/task/engine"
	logx "questline/pkg/logx"
)

// Transition names why a quest's active flag changed. Only the flag is
// persisted; the cause is for logs and events.
type Transition string

const (
	Deploy Transition = "deploy" // now entered the window
	Recall Transition = "recall" // now passed the end
	Hold   Transition = "hold"   // now is before the start
)

// Flip is one applied (or attempted) flag change.
type Flip struct {
	QuestID    string     `json:"quest_id"`
	QuestName  string     `json:"quest_name"`
	Transition Transition `json:"transition"`
	Err        string     `json:"error,omitempty"`
}

// ReconcileResult summarizes one team pass.
type ReconcileResult struct {
	TeamID   string    `json:"team_id"`
	At       time.Time `json:"at"`
	Checked  int       `json:"checked"`
	Deployed int       `json:"deployed"`
	Recalled int       `json:"recalled"`
	Failed   int       `json:"failed"`
	Flips    []Flip    `json:"flips,omitempty"`
}

// Writes is the number of successful flag writes.
func (r ReconcileResult) Writes() int { return r.Deployed + r.Recalled }

// transitionFor returns the transition needed to bring q in line with now,
// or "" when the flag already matches.
func transitionFor(q model.Quest, now time.Time) Transition {
	w := q.Window()
	should := w.Contains(now)
	if should == q.Active {
		return ""
	}
	if should {
		return Deploy
	}
	if now.Before(w.Start) {
		return Hold
	}
	return Recall
}

// Reconcile flips the active flag of every non-archived quest of the team
// whose flag disagrees with the current time. Flips run concurrently; a failed
// flip never stops the others. The returned error joins every flip failure.
func (s *Service) Reconcile(ctx context.Context, teamID string) (ReconcileResult, error) {
	now := s.now()
	res := ReconcileResult{TeamID: teamID, At: now}

	quests, err := s.store.ListQuests(ctx, teamID)
	if err != nil {
		return res, model.DataAccess("list quests", err)
	}

	var pending []Flip
	var targets []model.Quest
	for _, q := range quests {
		if q.Archived {
			continue
		}
		res.Checked++
		if tr := transitionFor(q, now); tr != "" {
			pending = append(pending, Flip{QuestID: q.ID, QuestName: q.Name, Transition: tr})
			targets = append(targets, q)
		}
	}
	if len(pending) == 0 {
		return res, nil
	}

	errs := engine.Fanout(ctx, s.workers, len(pending), func(ctx context.Context, i int) error {
		return s.store.SetQuestActive(ctx, targets[i].ID, pending[i].Transition == Deploy)
	})

	var failed []error
	for i, ferr := range errs {
		f := pending[i]
		if ferr != nil {
			res.Failed++
			f.Err = ferr.Error()
			failed = append(failed, model.DataAccess(fmt.Sprintf("set quest %s active", f.QuestID), ferr))
			s.log.Warn("quest flip failed",
				logx.String("team", teamID),
				logx.String("quest", f.QuestID),
				logx.String("transition", string(f.Transition)),
				logx.Err(ferr),
			)
		} else {
			typ := eventbus.QuestRecalled
			if f.Transition == Deploy {
				res.Deployed++
				typ = eventbus.QuestDeployed
			} else {
				res.Recalled++
			}
			s.bus.Publish(eventbus.Event{Type: typ, TeamID: teamID, Time: now, Data: f})
			s.log.Info("quest "+string(f.Transition),
				logx.String("team", teamID),
				logx.String("quest", f.QuestID),
				logx.String("name", f.QuestName),
			)
		}
		res.Flips = append(res.Flips, f)
	}
	return res, errors.Join(failed...)
}

// SweepResult summarizes ReconcileAll.
type SweepResult struct {
	Teams   []ReconcileResult `json:"teams"`
	Failed  int               `json:"failed"`
	Writes  int               `json:"writes"`
	Checked int               `json:"checked"`
}

// ReconcileAll runs Reconcile for every team that owns a non-archived quest.
// Teams are independent; one team's failure does not skip the rest.
func (s *Service) ReconcileAll(ctx context.Context) (SweepResult, error) {
	var out SweepResult
	teams, err := s.store.ListQuestTeams(ctx)
	if err != nil {
		return out, model.DataAccess("list quest teams", err)
	}
	var errs []error
	for _, team := range teams {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		r, err := s.Reconcile(ctx, team)
		out.Teams = append(out.Teams, r)
		out.Writes += r.Writes()
		out.Checked += r.Checked
		out.Failed += r.Failed
		if err != nil {
			if r.Failed == 0 {
				out.Failed++
			}
			errs = append(errs, fmt.Errorf("team %s: %w", team, err))
		}
	}
	return out, errors.Join(errs...)
}
