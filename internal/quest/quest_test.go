package quest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"questline/internal/eventbus"
	"questline/internal/model"
	"questline/internal/storage"
	logx "questline/pkg/logx"
)

var base = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time { return base.AddDate(0, 0, n) }

func dayPtr(n int) *time.Time { return model.TimePtr(day(n)) }

// countingStore records flag writes and can fail selected quests.
type countingStore struct {
	*storage.Memory

	mu      sync.Mutex
	writes  []string
	failOn  map[string]bool
	listErr error
}

func newCountingStore() *countingStore {
	return &countingStore{Memory: storage.NewMemory(), failOn: map[string]bool{}}
}

func (c *countingStore) ListQuests(ctx context.Context, teamID string) ([]model.Quest, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.Memory.ListQuests(ctx, teamID)
}

func (c *countingStore) SetQuestActive(ctx context.Context, id string, active bool) error {
	c.mu.Lock()
	c.writes = append(c.writes, id)
	fail := c.failOn[id]
	c.mu.Unlock()
	if fail {
		return errors.New("disk on fire")
	}
	return c.Memory.SetQuestActive(ctx, id, active)
}

func (c *countingStore) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func seed(t *testing.T, st interface {
	SaveQuest(context.Context, model.Quest) error
}, qs ...model.Quest) {
	t.Helper()
	for _, q := range qs {
		if err := st.SaveQuest(context.Background(), q); err != nil {
			t.Fatalf("SaveQuest(%s): %v", q.ID, err)
		}
	}
}

func TestValidateOverlap(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		existing  model.Quest
		candidate model.Window
		exclude   string
		conflict  bool
	}{
		{
			name:      "partial overlap",
			existing:  model.Quest{ID: "q1", TeamID: "t", Name: "Sprint 1", Start: day(15), End: dayPtr(25)},
			candidate: model.Window{Start: day(10), End: dayPtr(20)},
			conflict:  true,
		},
		{
			name:      "disjoint after",
			existing:  model.Quest{ID: "q1", TeamID: "t", Name: "Sprint 1", Start: day(21), End: dayPtr(30)},
			candidate: model.Window{Start: day(10), End: dayPtr(20)},
		},
		{
			name:      "both open ended",
			existing:  model.Quest{ID: "q1", TeamID: "t", Name: "Forever", Start: day(5)},
			candidate: model.Window{Start: day(10)},
			conflict:  true,
		},
		{
			name:      "candidate inside existing",
			existing:  model.Quest{ID: "q1", TeamID: "t", Name: "Big", Start: day(0), End: dayPtr(30)},
			candidate: model.Window{Start: day(10), End: dayPtr(12)},
			conflict:  true,
		},
		{
			name:      "candidate contains existing",
			existing:  model.Quest{ID: "q1", TeamID: "t", Name: "Small", Start: day(11), End: dayPtr(12)},
			candidate: model.Window{Start: day(10), End: dayPtr(20)},
			conflict:  true,
		},
		{
			name:      "touching bounds are inclusive",
			existing:  model.Quest{ID: "q1", TeamID: "t", Name: "Edge", Start: day(20), End: dayPtr(25)},
			candidate: model.Window{Start: day(10), End: dayPtr(20)},
			conflict:  true,
		},
		{
			name:      "excluded quest",
			existing:  model.Quest{ID: "q1", TeamID: "t", Name: "Self", Start: day(10), End: dayPtr(20)},
			candidate: model.Window{Start: day(12), End: dayPtr(22)},
			exclude:   "q1",
		},
		{
			name:      "archived ignored",
			existing:  model.Quest{ID: "q1", TeamID: "t", Name: "Old", Start: day(10), End: dayPtr(20), Archived: true},
			candidate: model.Window{Start: day(10), End: dayPtr(20)},
		},
		{
			name:      "other team ignored",
			existing:  model.Quest{ID: "q1", TeamID: "other", Name: "Theirs", Start: day(10), End: dayPtr(20)},
			candidate: model.Window{Start: day(10), End: dayPtr(20)},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := storage.NewMemory()
			seed(t, st, tt.existing)
			svc := New(st, logx.Nop())

			err := svc.ValidateOverlap(context.Background(), "t", tt.candidate, tt.exclude)
			if !tt.conflict {
				if err != nil {
					t.Fatalf("ValidateOverlap error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, model.ErrValidationConflict) {
				t.Fatalf("ValidateOverlap error = %v, want conflict", err)
			}
			var ce *model.ConflictError
			if !errors.As(err, &ce) || ce.QuestName != tt.existing.Name {
				t.Fatalf("conflict = %+v, want name %q", ce, tt.existing.Name)
			}
		})
	}
}

func TestValidateOverlapInvalidWindow(t *testing.T) {
	t.Parallel()
	svc := New(storage.NewMemory(), logx.Nop())
	err := svc.ValidateOverlap(context.Background(), "t", model.Window{Start: day(10), End: dayPtr(5)}, "")
	if !errors.Is(err, model.ErrInvalidWindow) {
		t.Fatalf("error = %v, want ErrInvalidWindow", err)
	}
}

func TestValidateOverlapDataAccess(t *testing.T) {
	t.Parallel()
	st := newCountingStore()
	st.listErr = errors.New("connection refused")
	svc := New(st, logx.Nop())

	err := svc.ValidateOverlap(context.Background(), "t", model.Window{Start: day(1)}, "")
	if !errors.Is(err, model.ErrDataAccess) {
		t.Fatalf("error = %v, want ErrDataAccess", err)
	}
	if errors.Is(err, model.ErrValidationConflict) {
		t.Fatal("data access failure must not look like a conflict")
	}
}

func TestReconcileTransitions(t *testing.T) {
	t.Parallel()
	now := day(10)
	st := newCountingStore()
	seed(t, st,
		model.Quest{ID: "enter", TeamID: "t", Name: "Entering", Start: day(5), End: dayPtr(15)},
		model.Quest{ID: "past", TeamID: "t", Name: "Past", Start: day(1), End: dayPtr(9), Active: true},
		model.Quest{ID: "future", TeamID: "t", Name: "Future", Start: day(11), Active: true},
		model.Quest{ID: "open", TeamID: "t", Name: "Open", Start: day(2)},
		model.Quest{ID: "ok", TeamID: "t", Name: "Already", Start: day(9), End: dayPtr(11), Active: true},
		model.Quest{ID: "arch", TeamID: "t", Name: "Archived", Start: day(5), End: dayPtr(15), Archived: true},
	)
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc := New(st, logx.Nop(), WithClock(func() time.Time { return now }), WithBus(bus))
	res, err := svc.Reconcile(context.Background(), "t")
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if res.Checked != 5 {
		t.Fatalf("Checked = %d, want 5", res.Checked)
	}
	if res.Deployed != 2 || res.Recalled != 2 {
		t.Fatalf("Deployed/Recalled = %d/%d, want 2/2", res.Deployed, res.Recalled)
	}

	want := map[string]bool{"enter": true, "past": false, "future": false, "open": true, "ok": true}
	qs, _ := st.Memory.ListQuests(context.Background(), "t")
	for _, q := range qs {
		if q.Active != want[q.ID] {
			t.Fatalf("quest %s active = %v, want %v", q.ID, q.Active, want[q.ID])
		}
	}

	trans := map[string]Transition{}
	for _, f := range res.Flips {
		trans[f.QuestID] = f.Transition
	}
	if trans["past"] != Recall || trans["future"] != Hold || trans["enter"] != Deploy {
		t.Fatalf("unexpected transitions: %v", trans)
	}
	for _, id := range st.writes {
		if id == "arch" {
			t.Fatal("archived quest must never be touched")
		}
	}
	if got := len(events); got != 4 {
		t.Fatalf("events = %d, want 4", got)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	now := day(10)
	st := newCountingStore()
	seed(t, st,
		model.Quest{ID: "a", TeamID: "t", Name: "A", Start: day(5), End: dayPtr(15)},
		model.Quest{ID: "b", TeamID: "t", Name: "B", Start: day(1), End: dayPtr(2), Active: true},
	)
	svc := New(st, logx.Nop(), WithClock(func() time.Time { return now }))

	if _, err := svc.Reconcile(context.Background(), "t"); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	first := st.writeCount()
	if first != 2 {
		t.Fatalf("first pass writes = %d, want 2", first)
	}
	res, err := svc.Reconcile(context.Background(), "t")
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if st.writeCount() != first || res.Writes() != 0 {
		t.Fatalf("second pass wrote %d times, want 0", st.writeCount()-first)
	}
}

func TestReconcileContinuesAfterFailedFlip(t *testing.T) {
	t.Parallel()
	now := day(10)
	st := newCountingStore()
	seed(t, st,
		model.Quest{ID: "a", TeamID: "t", Name: "A", Start: day(5)},
		model.Quest{ID: "b", TeamID: "t", Name: "B", Start: day(6)},
		model.Quest{ID: "c", TeamID: "t", Name: "C", Start: day(7)},
	)
	st.failOn["b"] = true
	svc := New(st, logx.Nop(), WithClock(func() time.Time { return now }), WithWorkers(1))

	res, err := svc.Reconcile(context.Background(), "t")
	if !errors.Is(err, model.ErrDataAccess) {
		t.Fatalf("error = %v, want ErrDataAccess", err)
	}
	if res.Failed != 1 || res.Deployed != 2 {
		t.Fatalf("Failed/Deployed = %d/%d, want 1/2", res.Failed, res.Deployed)
	}
	if st.writeCount() != 3 {
		t.Fatalf("attempted writes = %d, want 3", st.writeCount())
	}
}

func TestReconcileAllSweepsTeams(t *testing.T) {
	t.Parallel()
	now := day(10)
	st := newCountingStore()
	seed(t, st,
		model.Quest{ID: "a", TeamID: "t1", Name: "A", Start: day(5)},
		model.Quest{ID: "b", TeamID: "t2", Name: "B", Start: day(5)},
		model.Quest{ID: "c", TeamID: "t3", Name: "C", Start: day(5), Archived: true},
	)
	svc := New(st, logx.Nop(), WithClock(func() time.Time { return now }))

	res, err := svc.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("ReconcileAll error: %v", err)
	}
	if len(res.Teams) != 2 || res.Writes != 2 {
		t.Fatalf("teams/writes = %d/%d, want 2/2", len(res.Teams), res.Writes)
	}
}
