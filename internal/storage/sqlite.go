package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"questline/internal/model"
	logx "questline/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
	keepRuns   int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 100, keepRuns: 1000}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- quests ----

func (s *sqliteStore) ListQuests(ctx context.Context, teamID string) ([]model.Quest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, name, start_ms, end_ms, active, archived
		 FROM quests WHERE team_id = ? AND archived = 0
		 ORDER BY start_ms, id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Quest
	for rows.Next() {
		var (
			q       model.Quest
			startMS int64
			endMS   sql.NullInt64
		)
		if err := rows.Scan(&q.ID, &q.TeamID, &q.Name, &startMS, &endMS, &q.Active, &q.Archived); err != nil {
			return nil, err
		}
		q.Start = time.UnixMilli(startMS).UTC()
		q.End = fromNullMS(endMS)
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListQuestTeams(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT team_id FROM quests WHERE archived = 0 ORDER BY team_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetQuestActive(ctx context.Context, questID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE quests SET active = ? WHERE id = ?`, active, questID)
	if err != nil {
		return err
	}
	return expectOne(res, "quest", questID)
}

func (s *sqliteStore) SaveQuest(ctx context.Context, q model.Quest) error {
	if strings.TrimSpace(q.ID) == "" {
		return errors.New("quest id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quests(id, team_id, name, start_ms, end_ms, active, archived)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET team_id=excluded.team_id, name=excluded.name,
		   start_ms=excluded.start_ms, end_ms=excluded.end_ms,
		   active=excluded.active, archived=excluded.archived`,
		q.ID, q.TeamID, q.Name, q.Start.UnixMilli(), toNullMS(q.End), q.Active, q.Archived,
	)
	return err
}

// ---- statuses ----

func (s *sqliteStore) BacklogStatus(ctx context.Context, teamID string) (model.Status, bool, error) {
	var st model.Status
	var cat string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, name, category, position FROM statuses
		 WHERE team_id = ? AND category = ?
		 ORDER BY position, id LIMIT 1`,
		teamID, string(model.CategoryBacklog),
	).Scan(&st.ID, &st.TeamID, &st.Name, &cat, &st.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Status{}, false, nil
	}
	if err != nil {
		return model.Status{}, false, err
	}
	st.Category = model.StatusCategory(cat)
	return st, true, nil
}

func (s *sqliteStore) SaveStatus(ctx context.Context, st model.Status) error {
	if strings.TrimSpace(st.ID) == "" {
		return errors.New("status id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO statuses(id, team_id, name, category, position) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET team_id=excluded.team_id, name=excluded.name,
		   category=excluded.category, position=excluded.position`,
		st.ID, st.TeamID, st.Name, string(st.Category), st.Position,
	)
	return err
}

// ---- tasks ----

const taskColumns = `id, team_id, title, description, size, urgency, xp, assignee_id, client_id,
	quest_id, status_id, is_recurring, rule_freq, rule_interval, next_due_ms,
	recurrence_end_ms, parent_template_id, created_ms`

func (s *sqliteStore) DueTemplates(ctx context.Context, now time.Time) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE is_recurring = 1 AND next_due_ms <= ?
		 ORDER BY next_due_ms, id`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanTasks(rows)
}

func (s *sqliteStore) InsertTask(ctx context.Context, t model.Task) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		taskArgs(t)...,
	)
	return err
}

func (s *sqliteStore) SaveTask(ctx context.Context, t model.Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id required")
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		taskArgs(t)...,
	)
	return err
}

func (s *sqliteStore) AdvanceTemplate(ctx context.Context, templateID string, nextDue time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET next_due_ms = ? WHERE id = ?`, nextDue.UnixMilli(), templateID)
	if err != nil {
		return err
	}
	return expectOne(res, "task", templateID)
}

func (s *sqliteStore) EndTemplate(ctx context.Context, templateID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET is_recurring = 0 WHERE id = ?`, templateID)
	if err != nil {
		return err
	}
	return expectOne(res, "task", templateID)
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (model.Task, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return model.Task{}, false, err
	}
	defer rows.Close()
	ts, err := s.scanTasks(rows)
	if err != nil || len(ts) == 0 {
		return model.Task{}, false, err
	}
	return ts[0], true, nil
}

func (s *sqliteStore) ListInstances(ctx context.Context, templateID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_template_id = ? ORDER BY created_ms, id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanTasks(rows)
}

func taskArgs(t model.Task) []any {
	var (
		freq     any
		interval any
	)
	if !t.Rule.IsZero() {
		freq = t.Rule.Frequency().String()
		interval = t.Rule.Interval()
	}
	var nextDue any
	if !t.NextDue.IsZero() {
		nextDue = t.NextDue.UnixMilli()
	}
	return []any{
		t.ID, t.TeamID, t.Title, nullStr(t.Description), nullStr(t.Size), nullStr(t.Urgency), t.XP,
		nullStr(t.AssigneeID), nullStr(t.ClientID), nullStr(t.QuestID), nullStr(t.StatusID),
		t.IsRecurring, freq, interval, nextDue, toNullMS(t.RecurrenceEnd),
		nullStr(t.ParentTemplateID), t.CreatedAt.UnixMilli(),
	}
}

// scanTasks keeps a row whose rule does not parse with a zero Rule so one
// corrupt template cannot hide the others from an expansion pass.
func (s *sqliteStore) scanTasks(rows *sql.Rows) ([]model.Task, error) {
	var out []model.Task
	for rows.Next() {
		var (
			t                                          model.Task
			desc, size, urg, asg, cli, qst, sts, paren sql.NullString
			freq                                       sql.NullString
			interval, nextDue, recEnd                  sql.NullInt64
			createdMS                                  int64
		)
		if err := rows.Scan(&t.ID, &t.TeamID, &t.Title, &desc, &size, &urg, &t.XP, &asg, &cli,
			&qst, &sts, &t.IsRecurring, &freq, &interval, &nextDue, &recEnd, &paren, &createdMS); err != nil {
			return nil, err
		}
		t.Description, t.Size, t.Urgency = desc.String, size.String, urg.String
		t.AssigneeID, t.ClientID, t.QuestID, t.StatusID = asg.String, cli.String, qst.String, sts.String
		t.ParentTemplateID = paren.String
		if freq.Valid {
			r, err := model.ParseRule(freq.String, int(interval.Int64))
			if err != nil {
				s.log.Warn("stored recurrence rule is invalid",
					logx.String("task", t.ID),
					logx.String("freq", freq.String),
					logx.Int64("interval", interval.Int64),
					logx.Err(err),
				)
			} else {
				t.Rule = r
			}
		}
		if nextDue.Valid {
			t.NextDue = time.UnixMilli(nextDue.Int64).UTC()
		}
		t.RecurrenceEnd = fromNullMS(recEnd)
		t.CreatedAt = time.UnixMilli(createdMS).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- runs ----

func (s *sqliteStore) AppendRun(ctx context.Context, e RunEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, kind, scope, total, ok, fail, err, took_ms) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Kind, e.Scope, e.Total, e.OK, e.Fail, nullStr(e.Error), e.TookMS,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneRuns(pctx); perr != nil {
			s.log.Debug("run log prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, scope, total, ok, fail, err, took_ms FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunEntry
	for rows.Next() {
		var (
			e   RunEntry
			at  string
			msg sql.NullString
		)
		if err := rows.Scan(&at, &e.Kind, &e.Scope, &e.Total, &e.OK, &e.Fail, &msg, &e.TookMS); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Error = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) pruneRuns(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id <= (SELECT COALESCE(MAX(id), 0) FROM runs) - ?`, s.keepRuns)
	return err
}

// ---- helpers ----

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}

func toNullMS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMS(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return model.TimePtr(time.UnixMilli(v.Int64).UTC())
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
