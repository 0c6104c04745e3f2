package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"questline/internal/model"
)

// Memory is a process-local Store.
//
// All returned values are copies; callers may mutate them freely.
type Memory struct {
	mu sync.RWMutex

	quests   map[string]model.Quest
	statuses map[string]model.Status
	tasks    map[string]model.Task
	runs     []RunEntry

	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		quests:   map[string]model.Quest{},
		statuses: map[string]model.Status{},
		tasks:    map[string]model.Task{},
	}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListQuests(ctx context.Context, teamID string) ([]model.Quest, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.Quest, 0, 8)
	for _, q := range m.quests {
		if q.TeamID != teamID || q.Archived {
			continue
		}
		out = append(out, copyQuest(q))
	}
	sortQuests(out)
	return out, nil
}

func (m *Memory) ListQuestTeams(ctx context.Context) ([]string, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	seen := map[string]struct{}{}
	for _, q := range m.quests {
		if q.Archived {
			continue
		}
		seen[q.TeamID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SetQuestActive(ctx context.Context, questID string, active bool) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	q, ok := m.quests[questID]
	if !ok {
		return fmt.Errorf("quest %s not found", questID)
	}
	q.Active = active
	m.quests[questID] = q
	return nil
}

func (m *Memory) SaveQuest(ctx context.Context, q model.Quest) error {
	_ = ctx
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("quest id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.quests[q.ID] = copyQuest(q)
	return nil
}

func (m *Memory) BacklogStatus(ctx context.Context, teamID string) (model.Status, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return model.Status{}, false, ErrClosed
	}
	var (
		best  model.Status
		found bool
	)
	for _, st := range m.statuses {
		if st.TeamID != teamID || st.Category != model.CategoryBacklog {
			continue
		}
		if !found || st.Position < best.Position || (st.Position == best.Position && st.ID < best.ID) {
			best = st
			found = true
		}
	}
	return best, found, nil
}

func (m *Memory) SaveStatus(ctx context.Context, st model.Status) error {
	_ = ctx
	if strings.TrimSpace(st.ID) == "" {
		return fmt.Errorf("status id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.statuses[st.ID] = st
	return nil
}

func (m *Memory) DueTemplates(ctx context.Context, now time.Time) ([]model.Task, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.Task, 0, 8)
	for _, t := range m.tasks {
		if !t.IsRecurring || t.NextDue.After(now) {
			continue
		}
		out = append(out, copyTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextDue.Equal(out[j].NextDue) {
			return out[i].NextDue.Before(out[j].NextDue)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) InsertTask(ctx context.Context, t model.Task) error {
	_ = ctx
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.tasks[t.ID] = copyTask(t)
	return nil
}

// SaveTask upserts a task. Used by the surrounding application and tests to
// create templates.
func (m *Memory) SaveTask(ctx context.Context, t model.Task) error {
	_ = ctx
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.tasks[t.ID] = copyTask(t)
	return nil
}

func (m *Memory) AdvanceTemplate(ctx context.Context, templateID string, nextDue time.Time) error {
	return m.updateTask(ctx, templateID, func(t *model.Task) { t.NextDue = nextDue })
}

func (m *Memory) EndTemplate(ctx context.Context, templateID string) error {
	return m.updateTask(ctx, templateID, func(t *model.Task) { t.IsRecurring = false })
}

func (m *Memory) updateTask(ctx context.Context, id string, fn func(t *model.Task)) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	fn(&t)
	m.tasks[id] = t
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (model.Task, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return model.Task{}, false, ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, false, nil
	}
	return copyTask(t), true, nil
}

func (m *Memory) ListInstances(ctx context.Context, templateID string) ([]model.Task, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]model.Task, 0, 4)
	for _, t := range m.tasks {
		if t.ParentTemplateID == templateID {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

const memoryRunCap = 500

func (m *Memory) AppendRun(ctx context.Context, e RunEntry) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.runs = append(m.runs, e)
	if over := len(m.runs) - memoryRunCap; over > 0 {
		m.runs = append([]RunEntry(nil), m.runs[over:]...)
	}
	return nil
}

func (m *Memory) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	out := make([]RunEntry, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func sortQuests(qs []model.Quest) {
	sort.Slice(qs, func(i, j int) bool {
		if !qs[i].Start.Equal(qs[j].Start) {
			return qs[i].Start.Before(qs[j].Start)
		}
		return qs[i].ID < qs[j].ID
	})
}

func copyQuest(q model.Quest) model.Quest {
	if q.End != nil {
		q.End = model.TimePtr(*q.End)
	}
	return q
}

func copyTask(t model.Task) model.Task {
	if t.RecurrenceEnd != nil {
		t.RecurrenceEnd = model.TimePtr(*t.RecurrenceEnd)
	}
	return t
}
