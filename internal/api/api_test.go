package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"questline/internal/model"
	"questline/internal/quest"
	"questline/internal/recurrence"
	"questline/internal/storage"
	"questline/internal/task/scheduler"
	logx "questline/pkg/logx"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *storage.Memory
	h     http.Handler
}

func newFixture(t *testing.T, token string) fixture {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	for _, q := range []model.Quest{
		{ID: "q1", TeamID: "t", Name: "Sprint 1", Start: now.AddDate(0, 0, -5), End: model.TimePtr(now.AddDate(0, 0, 5))},
		{ID: "q2", TeamID: "t", Name: "Done", Start: now.AddDate(0, 0, -20), End: model.TimePtr(now.AddDate(0, 0, -10)), Active: true},
	} {
		if err := st.SaveQuest(ctx, q); err != nil {
			t.Fatalf("SaveQuest: %v", err)
		}
	}
	if err := st.SaveStatus(ctx, model.Status{ID: "s1", TeamID: "t", Name: "Backlog", Category: model.CategoryBacklog}); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}
	if err := st.SaveTask(ctx, model.Task{
		ID: "tpl", TeamID: "t", Title: "Standup notes", Size: "s", Urgency: "normal",
		IsRecurring: true, Rule: model.MustRule(model.Daily, 1), NextDue: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	qs := quest.New(st, logx.Nop(), quest.WithClock(func() time.Time { return now }))
	ex := recurrence.New(st, recurrence.Config{}, logx.Nop())
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop())
	if _, err := sched.AddSchedule("recurrence.expand", "5m", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}

	h := NewRouter(Deps{
		Quests:     qs,
		Recurrence: ex,
		Tasks:      st,
		Runs:       st,
		Schedules:  sched,
		Token:      token,
		Now:        func() time.Time { return now },
	})
	return fixture{store: st, h: h}
}

func (f fixture) do(t *testing.T, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestValidateQuestEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "overlap", body: `{"start":"2026-03-12T00:00:00Z","end":"2026-03-20T00:00:00Z"}`, status: http.StatusConflict},
		{name: "excluded self", body: `{"start":"2026-03-12T00:00:00Z","end":"2026-03-20T00:00:00Z","exclude_id":"q1"}`, status: http.StatusOK},
		{name: "free window", body: `{"start":"2026-04-01T00:00:00Z","end":"2026-04-10T00:00:00Z"}`, status: http.StatusOK},
		{name: "open ended overlaps", body: `{"start":"2026-03-01T00:00:00Z"}`, status: http.StatusConflict},
		{name: "end before start", body: `{"start":"2026-04-10T00:00:00Z","end":"2026-04-01T00:00:00Z"}`, status: http.StatusBadRequest},
		{name: "missing start", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"start":"2026-04-01T00:00:00Z","colour":"red"}`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := f.do(t, http.MethodPost, "/teams/t/quests/validate", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestValidateConflictNamesQuest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/teams/t/quests/validate", `{"start":"2026-03-12T00:00:00Z"}`)
	var got map[string]string
	decode(t, rec, &got)
	if got["quest_id"] != "q1" || got["quest_name"] != "Sprint 1" {
		t.Fatalf("conflict body = %v", got)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/teams/t/quests/reconcile", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var res quest.ReconcileResult
	decode(t, rec, &res)
	if res.Deployed != 1 || res.Recalled != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestExpandEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/recurrence/expand", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var rep recurrence.Report
	decode(t, rec, &rep)
	if rep.Total != 1 || rep.Processed != 1 {
		t.Fatalf("report = %+v", rep)
	}

	rec = f.do(t, http.MethodGet, "/tasks/tpl/instances", "")
	var body struct {
		Instances []model.Task `json:"instances"`
	}
	decode(t, rec, &body)
	if len(body.Instances) != 1 || body.Instances[0].QuestID != "q1" || body.Instances[0].StatusID != "s1" {
		t.Fatalf("instances = %+v", body.Instances)
	}

	if rec := f.do(t, http.MethodPost, "/recurrence/expand?now=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad now status = %d", rec.Code)
	}
}

func TestTaskLookup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	if rec := f.do(t, http.MethodGet, "/tasks/tpl", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/tasks/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}
}

func TestRunsAndSchedules(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	if err := f.store.AppendRun(context.Background(), storage.RunEntry{At: now, Kind: "expand", Scope: "*", Total: 1, OK: 1}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
	rec := f.do(t, http.MethodGet, "/runs?limit=5", "")
	var runs struct {
		Runs []storage.RunEntry `json:"runs"`
	}
	decode(t, rec, &runs)
	if len(runs.Runs) != 1 || runs.Runs[0].Kind != "expand" {
		t.Fatalf("runs = %+v", runs.Runs)
	}
	if rec := f.do(t, http.MethodGet, "/runs?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/schedules", "")
	var snap scheduler.Snapshot
	decode(t, rec, &snap)
	if len(snap.Schedules) != 1 || snap.Schedules[0].Name != "recurrence.expand" {
		t.Fatalf("schedules = %+v", snap.Schedules)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "s3cret")

	if rec := f.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must skip auth, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/runs", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/runs", "", "Authorization", "Bearer nope"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/runs", "", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("header token status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/runs?token=s3cret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token status = %d", rec.Code)
	}
}

type brokenQuests struct{}

func (brokenQuests) ValidateOverlap(context.Context, string, model.Window, string) error {
	return model.DataAccess("list quests", errors.New("db down"))
}

func (brokenQuests) Reconcile(context.Context, string) (quest.ReconcileResult, error) {
	panic("unreachable")
}

func TestErrorMappingAndRecovery(t *testing.T) {
	t.Parallel()
	h := NewRouter(Deps{Quests: brokenQuests{}, Recurrence: recurrence.New(storage.NewMemory(), recurrence.Config{}, logx.Nop())})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/teams/t/quests/validate", bytes.NewBufferString(`{"start":"2026-01-01T00:00:00Z"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("data access status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/teams/t/quests/reconcile", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("panic status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "abc" {
		t.Fatalf("request id = %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestHealthDegraded(t *testing.T) {
	t.Parallel()
	h := NewRouter(Deps{Health: func() (any, bool) { return "first error", false }})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
