// Package jsonl implements store.RunStore on a directory of JSON Lines
// files: one <runID>.jsonl per run holding its turns, plus an index.json
// with run metadata.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vincentmin/table-agent/pkg/conversation"
	"github.com/vincentmin/table-agent/pkg/store"
)

// Manager implements store.RunStore using JSONL files.
type Manager struct {
	runDir    string
	eventChan chan string
	mu        sync.RWMutex
	subs      []chan string
	closed    bool
}

var _ store.RunStore = (*Manager)(nil)

// Index represents the index.json structure.
type Index struct {
	Runs []store.Run `json:"runs"`
}

func NewManager(rootDir string) (*Manager, error) {
	m := &Manager{
		runDir:    filepath.Join(rootDir, "runs"),
		eventChan: make(chan string, 100),
	}
	if err := os.MkdirAll(m.runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}

	go m.broadcastLoop()
	return m, nil
}

func (m *Manager) indexPath() string { return filepath.Join(m.runDir, "index.json") }

// runPath maps a run ID to its turn file. IDs that are not a single path
// element are reported as not found.
func (m *Manager) runPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return "", fmt.Errorf("%w: %q", store.ErrNotFound, id)
	}
	return filepath.Join(m.runDir, id+".jsonl"), nil
}

func (m *Manager) readIndex() (Index, error) {
	var idx Index
	data, err := os.ReadFile(m.indexPath())
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return idx, err
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return idx, fmt.Errorf("failed to parse run index: %w", err)
	}
	return idx, nil
}

// writeIndex replaces index.json atomically.
func (m *Manager) writeIndex(idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.indexPath())
}

// updateRun applies fn to the indexed run with the given ID.
func (m *Manager) updateRun(id string, fn func(*store.Run)) error {
	idx, err := m.readIndex()
	if err != nil {
		return err
	}
	for i := range idx.Runs {
		if idx.Runs[i].ID == id {
			fn(&idx.Runs[i])
			idx.Runs[i].UpdatedAt = time.Now().UTC()
			return m.writeIndex(idx)
		}
	}
	return fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

func (m *Manager) CreateRun(_ context.Context, run *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.readIndex()
	if err != nil {
		return err
	}
	for _, r := range idx.Runs {
		if r.ID == run.ID {
			return fmt.Errorf("run %s already exists", run.ID)
		}
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = store.StatusRunning
	}

	path, err := m.runPath(run.ID)
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create run file: %w", err)
	}
	f.Close()

	idx.Runs = append(idx.Runs, *run)
	if err := m.writeIndex(idx); err != nil {
		return fmt.Errorf("failed to update run index: %w", err)
	}
	m.publish(run.ID)
	return nil
}

func (m *Manager) FinishRun(_ context.Context, runID string, status store.Status, result *store.RunResult, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.updateRun(runID, func(r *store.Run) {
		r.Status = status
		r.Error = errText
		r.Result = nil
		if status == store.StatusSucceeded {
			r.Result = result
		}
	})
	if err != nil {
		return err
	}
	m.publish(runID)
	return nil
}

func (m *Manager) GetRun(_ context.Context, id string) (*store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	for _, r := range idx.Runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

func (m *Manager) ListRuns(_ context.Context) ([]store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	runs := append([]store.Run{}, idx.Runs...)
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

func (m *Manager) AppendTurn(_ context.Context, runID string, turn conversation.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	path, err := m.runPath(runID)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("failed to open run file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	m.publish(runID)
	return nil
}

func (m *Manager) GetTurns(_ context.Context, runID string) ([]conversation.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	path, err := m.runPath(runID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run file: %w", err)
	}
	defer f.Close()

	turns := []conversation.Turn{}
	scanner := bufio.NewScanner(f)
	// Tool results can carry large artifacts.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var t conversation.Turn
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			return nil, fmt.Errorf("decode turn %d of run %s: %w", len(turns)+1, runID, err)
		}
		turns = append(turns, t)
	}
	return turns, scanner.Err()
}

func (m *Manager) broadcastLoop() {
	for id := range m.eventChan {
		m.mu.RLock()
		for _, sub := range m.subs {
			// Non-blocking send
			select {
			case sub <- id:
			default:
			}
		}
		m.mu.RUnlock()
	}
}

func (m *Manager) Subscribe() <-chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan string, 64)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *Manager) Unsubscribe(ch <-chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = slices.DeleteFunc(m.subs, func(c chan string) bool { return c == ch })
}

// publish must be called with m.mu held.
func (m *Manager) publish(id string) {
	if m.closed {
		return
	}
	select {
	case m.eventChan <- id:
	default:
	}
}

// Close stops the broadcast loop. The manager must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.eventChan)
	}
	return nil
}
