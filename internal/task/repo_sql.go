package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gofixpoint/fixpoint/internal/model"
)

// SQLRepo keeps tasks in SQLite. Each row stores the task JSON next to the
// columns the keyset pagination needs.
type SQLRepo struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLRepo opens (and creates if needed) the database at path.
func OpenSQLRepo(path string) (*SQLRepo, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &SQLRepo{db: db, now: time.Now}
	if err := r.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLRepo) Close() error {
	return r.db.Close()
}

func (r *SQLRepo) initSchema(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			created_ns INTEGER NOT NULL,
			body TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_page ON tasks(created_ns DESC, id ASC);`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (r *SQLRepo) List(ctx context.Context, req model.ListTasksRequest) (model.ListTasksResponse, error) {
	pr, err := parseRequest(req)
	if err != nil {
		return model.ListTasksResponse{}, err
	}

	total, err := r.Count(ctx)
	if err != nil {
		return model.ListTasksResponse{}, err
	}

	var rows *sql.Rows
	if pr.cursor == nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT body FROM tasks ORDER BY created_ns DESC, id ASC LIMIT ?;`,
			pr.size+1)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT body FROM tasks
			 WHERE created_ns < ? OR (created_ns = ? AND id > ?)
			 ORDER BY created_ns DESC, id ASC LIMIT ?;`,
			pr.cursor.CreatedAt, pr.cursor.CreatedAt, string(pr.cursor.ID), pr.size+1)
	}
	if err != nil {
		return model.ListTasksResponse{}, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]model.Task, 0, pr.size)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return model.ListTasksResponse{}, err
		}
		var t model.Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return model.ListTasksResponse{}, fmt.Errorf("decode stored task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return model.ListTasksResponse{}, err
	}

	resp := model.ListTasksResponse{TotalEntries: model.NewTotalCount(total)}
	if len(tasks) > pr.size {
		tasks = tasks[:pr.size]
		next := encodeCursor(tasks[len(tasks)-1])
		resp.NextPageToken = &next
	}
	resp.Tasks = tasks
	return resp, nil
}

func (r *SQLRepo) Get(ctx context.Context, id model.TaskID) (model.Task, error) {
	return r.get(ctx, r.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLRepo) get(ctx context.Context, q queryRower, id model.TaskID) (model.Task, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM tasks WHERE id = ?;`, string(id)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task: %w", err)
	}
	var t model.Task
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return model.Task{}, fmt.Errorf("decode stored task: %w", err)
	}
	return t, nil
}

func (r *SQLRepo) Upsert(ctx context.Context, t model.Task) (model.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing *model.Task
	if t.ID != "" {
		cur, err := r.get(ctx, tx, t.ID)
		switch {
		case err == nil:
			existing = &cur
		case !errors.Is(err, ErrNotFound):
			return model.Task{}, err
		}
	}

	out, err := prepare(t, existing, r.now())
	if err != nil {
		return model.Task{}, err
	}
	body, err := json.Marshal(out)
	if err != nil {
		return model.Task{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, created_ns, body) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET created_ns = excluded.created_ns, body = excluded.body;`,
		string(out.ID), createdNanos(out), string(body)); err != nil {
		return model.Task{}, fmt.Errorf("upsert task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Task{}, err
	}
	return out, nil
}

func (r *SQLRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// SnapshotTo writes a consistent copy of the database to path, which must
// not exist yet.
func (r *SQLRepo) SnapshotTo(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot target %s already exists", path)
	}
	if _, err := r.db.ExecContext(ctx, `VACUUM INTO ?;`, path); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}
	return nil
}
