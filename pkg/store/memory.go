package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/model"
)

// Memory keeps tasks in a map, optionally persisted to a JSON file after
// every mutation.
type Memory struct {
	Tasks map[string]model.Task `json:"tasks"`
	Path  string                `json:"-"`
	mu    sync.Mutex
	dirty bool
}

// NewMemory returns a store backed by path. An empty path keeps
// everything in memory; an existing file is loaded.
func NewMemory(path string) (*Memory, error) {
	m := &Memory{
		Tasks: make(map[string]model.Task),
		Path:  path,
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := m.Load(); err != nil {
				return nil, fault.E(fault.Config, "store.memory", fmt.Errorf("load %s: %w", path, err))
			}
		}
	}

	return m, nil
}

func (m *Memory) Load() error {
	f, err := os.Open(m.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(m); err != nil {
		return err
	}
	if m.Tasks == nil {
		m.Tasks = make(map[string]model.Task)
	}
	return nil
}

// save writes the table when it changed. Callers hold mu.
func (m *Memory) save() error {
	if !m.dirty || m.Path == "" {
		return nil
	}
	dir := filepath.Dir(m.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(m.Path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(m)
	if err == nil {
		m.dirty = false
	}
	return err
}

// commit saves the change just made to id. When the write fails the
// entry is restored to prev, or removed if it did not exist. Callers
// hold mu.
func (m *Memory) commit(id string, prev model.Task, existed bool) error {
	m.dirty = true
	if err := m.save(); err != nil {
		if existed {
			m.Tasks[id] = prev
		} else {
			delete(m.Tasks, id)
		}
		m.dirty = false
		return err
	}
	return nil
}

func (m *Memory) Insert(ctx context.Context, task model.Task) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task = Prepare(task, uuid.NewString(), time.Now())
	if _, exists := m.Tasks[task.ID]; exists {
		return model.Task{}, fault.Errorf(fault.Invalid, "store.insert", "task %s already exists", task.ID)
	}
	m.Tasks[task.ID] = task
	if err := m.commit(task.ID, model.Task{}, false); err != nil {
		return model.Task{}, fault.E(fault.Internal, "store.insert", err)
	}
	return task, nil
}

func (m *Memory) Update(ctx context.Context, id string, patch model.Patch) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.Tasks[id]
	if !ok {
		return model.Task{}, fault.E(fault.NotFound, "store.update", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if patch.Empty() {
		return task, nil
	}
	prev := task
	patch.Apply(&task)
	m.Tasks[id] = task
	if err := m.commit(id, prev, true); err != nil {
		return model.Task{}, fault.E(fault.Internal, "store.update", err)
	}
	return task, nil
}

func (m *Memory) Get(ctx context.Context, id string) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.Tasks[id]
	if !ok {
		return model.Task{}, fault.E(fault.NotFound, "store.get", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	return task, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, exists := m.Tasks[id]
	if !exists {
		return fault.E(fault.NotFound, "store.delete", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	delete(m.Tasks, id)
	if err := m.commit(id, prev, true); err != nil {
		return fault.E(fault.Internal, "store.delete", err)
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, f Filter) ([]model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.E(fault.Transient, "store.query", err)
	}

	m.mu.Lock()
	var out []model.Task
	for _, task := range m.Tasks {
		if f.Match(task) {
			out = append(out, task)
		}
	}
	m.mu.Unlock()

	Sort(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Close flushes pending changes.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || fault.Is(err, fault.NotFound)
}
