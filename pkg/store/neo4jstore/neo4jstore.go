// Package neo4jstore keeps tasks as (:User)-[:OWNS]->(:Task) graphs in
// Neo4j.
package neo4jstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/store"
)

// Store implements store.Store. Instants are stored as Unix millisecond
// integers on the Task node.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// Open connects to uri and verifies connectivity.
func Open(ctx context.Context, uri, username, password, database string) (*Store, error) {
	const op = "neo4jstore.open"
	if uri == "" {
		return nil, fault.Errorf(fault.Config, op, "neo4j URI not set")
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fault.E(fault.Config, op, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fault.E(classify(err), op, err)
	}

	s := &Store{driver: driver, database: database}
	if err := s.write(ctx, op, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "CREATE CONSTRAINT task_id IF NOT EXISTS FOR (t:Task) REQUIRE t.id IS UNIQUE", nil)
		return nil, err
	}); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

// New wraps an existing driver.
func New(driver neo4j.DriverWithContext, database string) *Store {
	return &Store{driver: driver, database: database}
}

func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Store) read(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, work)
	if err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

func (s *Store) write(ctx context.Context, op string, work neo4j.ManagedTransactionWork) error {
	_, err := s.writeValue(ctx, op, work)
	return err
}

func (s *Store) writeValue(ctx context.Context, op string, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	out, err := session.ExecuteWrite(ctx, work)
	if err != nil {
		return nil, wrap(op, err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, task model.Task) (model.Task, error) {
	task = store.Prepare(task, uuid.NewString(), time.Now())
	err := s.write(ctx, "neo4jstore.insert", func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MERGE (u:User {email: $email}) "+
				"CREATE (u)-[:OWNS]->(t:Task) SET t = $props",
			map[string]any{"email": task.Email, "props": toProps(task)},
		)
		return nil, err
	})
	if err != nil {
		return model.Task{}, err
	}
	return truncate(task), nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Task, error) {
	out, err := s.read(ctx, "neo4jstore.get", func(tx neo4j.ManagedTransaction) (any, error) {
		return getTask(ctx, tx, id)
	})
	if err != nil {
		return model.Task{}, err
	}
	return out.(model.Task), nil
}

func (s *Store) Update(ctx context.Context, id string, patch model.Patch) (model.Task, error) {
	out, err := s.writeValue(ctx, "neo4jstore.update", func(tx neo4j.ManagedTransaction) (any, error) {
		task, err := getTask(ctx, tx, id)
		if err != nil || patch.Empty() {
			return task, err
		}
		patch.Apply(&task)
		_, err = tx.Run(ctx, "MATCH (t:Task {id: $id}) SET t = $props",
			map[string]any{"id": id, "props": toProps(task)})
		return truncate(task), err
	})
	if err != nil {
		return model.Task{}, err
	}
	return out.(model.Task), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	out, err := s.writeValue(ctx, "neo4jstore.delete", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (t:Task {id: $id}) WITH t, t.id AS id DETACH DELETE t RETURN count(id) AS n",
			map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		n, _ := record.Get("n")
		return n, nil
	})
	if err != nil {
		return err
	}
	if n, _ := out.(int64); n == 0 {
		return fault.E(fault.NotFound, "neo4jstore.delete", fmt.Errorf("%w: %s", store.ErrNotFound, id))
	}
	return nil
}

func (s *Store) Query(ctx context.Context, f store.Filter) ([]model.Task, error) {
	cypher, params := buildQuery(f)
	out, err := s.read(ctx, "neo4jstore.query", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var tasks []model.Task
		for res.Next(ctx) {
			task, err := fromRecord(res.Record())
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}
	tasks, _ := out.([]model.Task)
	return tasks, nil
}

func buildQuery(f store.Filter) (string, map[string]any) {
	var where []string
	params := map[string]any{}
	if f.Owner != "" {
		where = append(where, "t.email = $owner")
		params["owner"] = model.NormalizeEmail(f.Owner)
	}
	if f.Completed != nil {
		where = append(where, "t.completed = $completed")
		params["completed"] = *f.Completed
	}
	if f.DueBy != nil {
		where = append(where, "t.reminder_at IS NOT NULL AND t.reminder_at <= $dueBy")
		params["dueBy"] = f.DueBy.UnixMilli()
	}
	if f.NotifiedBefore != nil {
		where = append(where, "(t.last_notified_at IS NULL OR t.last_notified_at <= $notifiedBefore)")
		params["notifiedBefore"] = f.NotifiedBefore.UnixMilli()
	}

	cypher := "MATCH (t:Task)"
	if len(where) > 0 {
		cypher += " WHERE " + strings.Join(where, " AND ")
	}
	// Nulls sort last in ascending order.
	cypher += " RETURN t ORDER BY t.reminder_at, t.created_at"
	if f.Limit > 0 {
		cypher += " LIMIT $limit"
		params["limit"] = int64(f.Limit)
	}
	return cypher, params
}

func getTask(ctx context.Context, tx neo4j.ManagedTransaction, id string) (model.Task, error) {
	res, err := tx.Run(ctx, "MATCH (t:Task {id: $id}) RETURN t", map[string]any{"id": id})
	if err != nil {
		return model.Task{}, err
	}
	if !res.Next(ctx) {
		if err := res.Err(); err != nil {
			return model.Task{}, err
		}
		return model.Task{}, fault.E(fault.NotFound, "neo4jstore.get", fmt.Errorf("%w: %s", store.ErrNotFound, id))
	}
	return fromRecord(res.Record())
}

func toProps(t model.Task) map[string]any {
	return map[string]any{
		"id":               t.ID,
		"description":      t.Description,
		"email":            t.Email,
		"completed":        t.Completed,
		"reminder_at":      millis(t.ReminderAt),
		"last_notified_at": millis(t.LastNotifiedAt),
		"category":         t.Category,
		"created_at":       t.CreatedAt.UnixMilli(),
	}
}

func fromRecord(record *neo4j.Record) (model.Task, error) {
	v, ok := record.Get("t")
	if !ok {
		return model.Task{}, fault.Errorf(fault.Malformed, "neo4jstore.decode", "record has no task node")
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return model.Task{}, fault.Errorf(fault.Malformed, "neo4jstore.decode", "unexpected value %T", v)
	}
	return fromProps(node.Props)
}

func fromProps(p map[string]any) (model.Task, error) {
	var task model.Task
	var ok bool
	if task.ID, ok = p["id"].(string); !ok {
		return model.Task{}, fault.Errorf(fault.Malformed, "neo4jstore.decode", "task node without id")
	}
	task.Description, _ = p["description"].(string)
	task.Email, _ = p["email"].(string)
	task.Completed, _ = p["completed"].(bool)
	task.Category, _ = p["category"].(string)
	if task.Category == "" {
		task.Category = model.CategoryUncategorized
	}
	task.ReminderAt = fromMillis(p["reminder_at"])
	task.LastNotifiedAt = fromMillis(p["last_notified_at"])
	if c := fromMillis(p["created_at"]); c != nil {
		task.CreatedAt = *c
	}
	return task, nil
}

// millis returns nil for an unset time so the property is removed.
func millis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v any) *time.Time {
	ms, ok := v.(int64)
	if !ok {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

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

func wrap(op string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.E(classify(err), op, err)
}

func classify(err error) fault.Kind {
	if neo4j.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return fault.Transient
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security."):
			return fault.Auth
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Schema.ConstraintValidationFailed"):
			return fault.Invalid
		case strings.HasPrefix(neoErr.Code, "Neo.TransientError."):
			return fault.Transient
		}
	}
	return fault.Internal
}
