package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"questline/internal/model"
	"questline/internal/recurrence"
	logx "questline/pkg/logx"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "q.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{"memory": NewMemory(), "sqlite": sq}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for sqlite without path")
	}
}

func TestQuests(t *testing.T) {
	t.Parallel()
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			end := t0.AddDate(0, 0, 7)
			for _, q := range []model.Quest{
				{ID: "b", TeamID: "t1", Name: "Second", Start: t0.AddDate(0, 0, 7)},
				{ID: "a", TeamID: "t1", Name: "First", Start: t0, End: &end},
				{ID: "z", TeamID: "t1", Name: "Gone", Start: t0, Archived: true},
				{ID: "c", TeamID: "t2", Name: "Other", Start: t0},
				{ID: "d", TeamID: "t3", Name: "Archived team", Start: t0, Archived: true},
			} {
				if err := st.SaveQuest(ctx, q); err != nil {
					t.Fatalf("SaveQuest(%s): %v", q.ID, err)
				}
			}

			qs, err := st.ListQuests(ctx, "t1")
			if err != nil {
				t.Fatalf("ListQuests: %v", err)
			}
			if len(qs) != 2 || qs[0].ID != "a" || qs[1].ID != "b" {
				t.Fatalf("ListQuests = %+v, want [a b]", qs)
			}
			if qs[0].End == nil || !qs[0].End.Equal(end) || qs[1].End != nil {
				t.Fatalf("end dates not preserved: %+v", qs)
			}

			teams, err := st.ListQuestTeams(ctx)
			if err != nil {
				t.Fatalf("ListQuestTeams: %v", err)
			}
			if len(teams) != 2 || teams[0] != "t1" || teams[1] != "t2" {
				t.Fatalf("teams = %v, want [t1 t2]", teams)
			}

			if err := st.SetQuestActive(ctx, "a", true); err != nil {
				t.Fatalf("SetQuestActive: %v", err)
			}
			qs, _ = st.ListQuests(ctx, "t1")
			if !qs[0].Active {
				t.Fatal("quest a should be active")
			}
			if err := st.SetQuestActive(ctx, "missing", true); err == nil {
				t.Fatal("SetQuestActive on missing quest should fail")
			}
		})
	}
}

func TestBacklogStatus(t *testing.T) {
	t.Parallel()
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, s := range []model.Status{
				{ID: "s3", TeamID: "t", Name: "Later", Category: model.CategoryBacklog, Position: 2},
				{ID: "s1", TeamID: "t", Name: "Doing", Category: model.CategoryActive, Position: 0},
				{ID: "s2", TeamID: "t", Name: "Inbox", Category: model.CategoryBacklog, Position: 1},
			} {
				if err := st.SaveStatus(ctx, s); err != nil {
					t.Fatalf("SaveStatus: %v", err)
				}
			}
			got, ok, err := st.BacklogStatus(ctx, "t")
			if err != nil || !ok || got.ID != "s2" {
				t.Fatalf("BacklogStatus = %+v, %v, %v; want s2", got, ok, err)
			}
			if _, ok, err := st.BacklogStatus(ctx, "nobody"); err != nil || ok {
				t.Fatalf("BacklogStatus(nobody) = %v, %v; want not found", ok, err)
			}
		})
	}
}

func TestTemplatesAndInstances(t *testing.T) {
	t.Parallel()
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			recEnd := t0.AddDate(0, 2, 0)
			tpls := []model.Task{
				{ID: "late", TeamID: "t", Title: "Late", IsRecurring: true, Rule: model.MustRule(model.Daily, 1), NextDue: t0.Add(time.Hour)},
				{ID: "due", TeamID: "t", Title: "Due", IsRecurring: true, Rule: model.MustRule(model.Weekly, 2), NextDue: t0, RecurrenceEnd: &recEnd, Size: "M"},
				{ID: "plain", TeamID: "t", Title: "Plain", NextDue: t0},
			}
			for _, tpl := range tpls {
				if err := st.SaveTask(ctx, tpl); err != nil {
					t.Fatalf("SaveTask(%s): %v", tpl.ID, err)
				}
			}

			due, err := st.DueTemplates(ctx, t0)
			if err != nil {
				t.Fatalf("DueTemplates: %v", err)
			}
			if len(due) != 1 || due[0].ID != "due" {
				t.Fatalf("DueTemplates = %+v, want [due]", due)
			}
			got := due[0]
			if got.Rule.Frequency() != model.Weekly || got.Rule.Interval() != 2 {
				t.Fatalf("rule = %v, want weekly/2", got.Rule)
			}
			if got.RecurrenceEnd == nil || !got.RecurrenceEnd.Equal(recEnd) || got.Size != "M" {
				t.Fatalf("template fields not preserved: %+v", got)
			}

			inst := model.Task{ID: "i1", TeamID: "t", Title: "Due", ParentTemplateID: "due", CreatedAt: t0}
			if err := st.InsertTask(ctx, inst); err != nil {
				t.Fatalf("InsertTask: %v", err)
			}
			if err := st.InsertTask(ctx, inst); err == nil {
				t.Fatal("duplicate InsertTask should fail")
			}
			insts, err := st.ListInstances(ctx, "due")
			if err != nil || len(insts) != 1 || insts[0].IsRecurring {
				t.Fatalf("ListInstances = %+v, %v", insts, err)
			}

			next := t0.AddDate(0, 0, 14)
			if err := st.AdvanceTemplate(ctx, "due", next); err != nil {
				t.Fatalf("AdvanceTemplate: %v", err)
			}
			if due, _ := st.DueTemplates(ctx, t0.Add(2*time.Hour)); len(due) != 1 || due[0].ID != "late" {
				t.Fatalf("after advance DueTemplates = %+v, want [late]", due)
			}

			if err := st.EndTemplate(ctx, "late"); err != nil {
				t.Fatalf("EndTemplate: %v", err)
			}
			if due, _ := st.DueTemplates(ctx, next); len(due) != 1 || due[0].ID != "due" {
				t.Fatalf("after end DueTemplates = %+v, want [due]", due)
			}
			ended, ok, err := st.GetTask(ctx, "late")
			if err != nil || !ok || ended.IsRecurring {
				t.Fatalf("GetTask(late) = %+v, %v, %v", ended, ok, err)
			}
			if _, ok, err := st.GetTask(ctx, "nope"); err != nil || ok {
				t.Fatalf("GetTask(nope) = %v, %v; want not found", ok, err)
			}
			if err := st.AdvanceTemplate(ctx, "nope", next); err == nil {
				t.Fatal("AdvanceTemplate on missing template should fail")
			}
		})
	}
}

func TestSQLiteCorruptRuleDoesNotHideOtherTemplates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "q.db"), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	for _, id := range []string{"a", "b", "c"} {
		tpl := model.Task{ID: id, TeamID: "t", Title: "Daily " + id, IsRecurring: true, Rule: model.MustRule(model.Daily, 1), NextDue: t0}
		if err := st.SaveTask(ctx, tpl); err != nil {
			t.Fatalf("SaveTask(%s): %v", id, err)
		}
	}
	db := st.(*sqliteStore).db
	if _, err := db.ExecContext(ctx, `UPDATE tasks SET rule_freq = 'yearly' WHERE id = 'b'`); err != nil {
		t.Fatalf("corrupt rule: %v", err)
	}

	due, err := st.DueTemplates(ctx, t0)
	if err != nil {
		t.Fatalf("DueTemplates: %v", err)
	}
	if len(due) != 3 || !due[1].Rule.IsZero() {
		t.Fatalf("DueTemplates = %+v, want 3 rows with b's rule zeroed", due)
	}

	rep, err := recurrence.New(st, recurrence.Config{}, logx.Nop()).ExpandDue(ctx, t0)
	if err != nil {
		t.Fatalf("ExpandDue: %v", err)
	}
	if rep.Total != 3 || rep.Processed != 2 || len(rep.Errors) != 1 || rep.Errors[0].TemplateID != "b" {
		t.Fatalf("report = total %d processed %d errors %+v, want 3/2/[b]", rep.Total, rep.Processed, rep.Errors)
	}
	if insts, _ := st.ListInstances(ctx, "a"); len(insts) != 1 {
		t.Fatalf("instances of a = %d, want 1", len(insts))
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()
	for name, st := range backends(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, kind := range []string{"expand", "reconcile", "expand"} {
				e := RunEntry{At: t0.Add(time.Duration(i) * time.Minute), Kind: kind, Scope: "*", Total: i, OK: i}
				if i == 2 {
					e.Error = "boom"
					e.Fail = 1
				}
				if err := st.AppendRun(ctx, e); err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}
			runs, err := st.RecentRuns(ctx, 2)
			if err != nil {
				t.Fatalf("RecentRuns: %v", err)
			}
			if len(runs) != 2 || runs[0].Error != "boom" || runs[1].Kind != "reconcile" {
				t.Fatalf("RecentRuns = %+v", runs)
			}
			if !runs[0].At.Equal(t0.Add(2 * time.Minute)) {
				t.Fatalf("At = %v, want %v", runs[0].At, t0.Add(2*time.Minute))
			}
		})
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	_ = m.Close()
	if _, err := m.ListQuests(context.Background(), "t"); err != ErrClosed {
		t.Fatalf("error = %v, want ErrClosed", err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()
	end := t0
	if err := m.SaveQuest(ctx, model.Quest{ID: "q", TeamID: "t", Name: "Q", Start: t0, End: &end}); err != nil {
		t.Fatalf("SaveQuest: %v", err)
	}
	qs, _ := m.ListQuests(ctx, "t")
	*qs[0].End = t0.AddDate(1, 0, 0)
	again, _ := m.ListQuests(ctx, "t")
	if !again[0].End.Equal(t0) {
		t.Fatal("caller mutation leaked into the store")
	}
}
