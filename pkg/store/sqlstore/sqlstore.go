// Package sqlstore is a store.Store on database/sql, serving SQLite
// (mattn/go-sqlite3) and PostgreSQL (lib/pq) from one schema.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/store"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	description      TEXT NOT NULL,
	email            TEXT NOT NULL DEFAULT '',
	completed        BOOLEAN NOT NULL DEFAULT FALSE,
	reminder_at      BIGINT,
	last_notified_at BIGINT,
	category         TEXT NOT NULL DEFAULT 'Uncategorized',
	created_at       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (completed, reminder_at);
CREATE INDEX IF NOT EXISTS idx_tasks_email ON tasks (email);
`

const columns = "id, description, email, completed, reminder_at, last_notified_at, category, created_at"

// Store keeps tasks in a SQL table. Instants are stored as Unix
// milliseconds so both engines compare them the same way.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects and creates the schema. For SQLite, dsn is a file path
// and its directory is created.
func Open(driverName, dsn string) (*Store, error) {
	const op = "sqlstore.open"
	var sqlDriver string
	switch driverName {
	case DriverSQLite, "sqlite3":
		driverName, sqlDriver = DriverSQLite, "sqlite3"
		if dsn == "" {
			return nil, fault.Errorf(fault.Config, op, "sqlite path not set")
		}
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
				return nil, fault.E(fault.Config, op, err)
			}
			dsn += "?_busy_timeout=5000"
		}
	case DriverPostgres, "postgresql":
		driverName, sqlDriver = DriverPostgres, "postgres"
		if dsn == "" {
			return nil, fault.Errorf(fault.Config, op, "postgres DSN not set")
		}
	default:
		return nil, fault.Errorf(fault.Config, op, "unsupported SQL driver %q", driverName)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fault.E(fault.Config, op, err)
	}
	if driverName == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driverName}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fault.E(classify(err), op, fmt.Errorf("create schema: %w", err))
	}
	return s, nil
}

// New wraps an open database whose schema already exists.
func New(db *sql.DB, driverName string) *Store {
	return &Store{db: db, driver: driverName}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) Insert(ctx context.Context, task model.Task) (model.Task, error) {
	task = store.Prepare(task, uuid.NewString(), time.Now())
	query := s.rebind(`INSERT INTO tasks (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.Description, task.Email, task.Completed,
		toMillis(task.ReminderAt), toMillis(task.LastNotifiedAt),
		task.Category, task.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return model.Task{}, fault.E(classify(err), "sqlstore.insert", err)
	}
	return truncate(task), nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+columns+` FROM tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if err != nil {
		return model.Task{}, wrapRowErr("sqlstore.get", id, err)
	}
	return task, nil
}

// Update reads, patches and writes the row in one transaction.
func (s *Store) Update(ctx context.Context, id string, patch model.Patch) (model.Task, error) {
	const op = "sqlstore.update"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, fault.E(classify(err), op, err)
	}
	defer tx.Rollback()

	query := `SELECT ` + columns + ` FROM tasks WHERE id = ?`
	if s.driver == DriverPostgres {
		query += ` FOR UPDATE`
	}
	task, err := scanTask(tx.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		return model.Task{}, wrapRowErr(op, id, err)
	}
	if patch.Empty() {
		return task, nil
	}
	patch.Apply(&task)

	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE tasks SET description = ?, completed = ?, reminder_at = ?,
		last_notified_at = ?, category = ? WHERE id = ?`),
		task.Description, task.Completed, toMillis(task.ReminderAt),
		toMillis(task.LastNotifiedAt), task.Category, id,
	)
	if err != nil {
		return model.Task{}, fault.E(classify(err), op, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Task{}, fault.E(classify(err), op, err)
	}
	return truncate(task), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	const op = "sqlstore.delete"
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return fault.E(classify(err), op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fault.E(classify(err), op, err)
	}
	if n == 0 {
		return fault.E(fault.NotFound, op, fmt.Errorf("%w: %s", store.ErrNotFound, id))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, f store.Filter) ([]model.Task, error) {
	const op = "sqlstore.query"
	var where []string
	var args []any
	if f.Owner != "" {
		where = append(where, "email = ?")
		args = append(args, model.NormalizeEmail(f.Owner))
	}
	if f.Completed != nil {
		where = append(where, "completed = ?")
		args = append(args, *f.Completed)
	}
	if f.DueBy != nil {
		where = append(where, "reminder_at IS NOT NULL AND reminder_at <= ?")
		args = append(args, f.DueBy.UnixMilli())
	}
	if f.NotifiedBefore != nil {
		where = append(where, "(last_notified_at IS NULL OR last_notified_at <= ?)")
		args = append(args, f.NotifiedBefore.UnixMilli())
	}

	query := `SELECT ` + columns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY reminder_at IS NULL, reminder_at, created_at`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fault.E(classify(err), op, err)
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fault.E(fault.Malformed, op, err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.E(classify(err), op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (model.Task, error) {
	var task model.Task
	var reminder, notified sql.NullInt64
	var created int64
	err := row.Scan(&task.ID, &task.Description, &task.Email, &task.Completed,
		&reminder, &notified, &task.Category, &created)
	if err != nil {
		return model.Task{}, err
	}
	task.ReminderAt = fromMillis(reminder)
	task.LastNotifiedAt = fromMillis(notified)
	task.CreatedAt = time.UnixMilli(created).UTC()
	return task, nil
}

func wrapRowErr(op, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fault.E(fault.NotFound, op, fmt.Errorf("%w: %s", store.ErrNotFound, id))
	}
	return fault.E(classify(err), op, err)
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// truncate drops sub-millisecond precision so returned tasks equal what
// a later Get reads back.
func truncate(t model.Task) model.Task {
	t.CreatedAt = t.CreatedAt.Truncate(time.Millisecond)
	if t.ReminderAt != nil {
		v := t.ReminderAt.Truncate(time.Millisecond)
		t.ReminderAt = &v
	}
	if t.LastNotifiedAt != nil {
		v := t.LastNotifiedAt.Truncate(time.Millisecond)
		t.LastNotifiedAt = &v
	}
	return t
}

// classify maps driver errors onto fault kinds.
func classify(err error) fault.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return fault.Transient
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fault.Transient
		case "28":
			return fault.Auth
		case "23":
			return fault.Invalid
		case "40":
			return fault.Transient
		}
		return fault.Internal
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fault.Transient
		case sqlite3.ErrConstraint:
			return fault.Invalid
		case sqlite3.ErrPerm, sqlite3.ErrReadonly, sqlite3.ErrCantOpen:
			return fault.Config
		}
	}
	return fault.Internal
}
