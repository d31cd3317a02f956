package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var _ Store = &FileStore{}

// FileStore keeps one directory per execution holding an events.jsonl log and
// an execution.json summary.
type FileStore struct {
	basePath string
	mutex    sync.RWMutex
}

// NewFileStore creates a file-based store rooted at basePath.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{basePath: basePath}
}

// AppendEvents appends events to each execution's event log
func (f *FileStore) AppendEvents(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()

	byExecution := make(map[string][]*Event)
	var order []string
	for i, event := range events {
		if err := event.Validate(); err != nil {
			return fmt.Errorf("invalid event at index %d: %w", i, err)
		}
		if _, ok := byExecution[event.ExecutionID]; !ok {
			order = append(order, event.ExecutionID)
		}
		byExecution[event.ExecutionID] = append(byExecution[event.ExecutionID], event)
	}
	for _, executionID := range order {
		if err := f.appendLocked(executionID, byExecution[executionID]); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStore) appendLocked(executionID string, events []*Event) error {
	execDir := filepath.Join(f.basePath, executionID)
	if err := os.MkdirAll(execDir, 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	eventsFile := filepath.Join(execDir, "events.jsonl")
	file, err := os.OpenFile(eventsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open events file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

// GetEvents returns the execution's events in sequence order
func (f *FileStore) GetEvents(ctx context.Context, executionID string) ([]*Event, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	file, err := os.Open(filepath.Join(f.basePath, executionID, "events.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*Event{}, nil
		}
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Sequence < events[j].Sequence
	})
	return events, nil
}

// SaveExecution writes the execution summary atomically
func (f *FileStore) SaveExecution(ctx context.Context, execution *Execution) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	execDir := filepath.Join(f.basePath, execution.ID)
	if err := os.MkdirAll(execDir, 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	summaryFile := filepath.Join(execDir, "execution.json")
	tempFile := summaryFile + ".tmp"

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode execution: %w", err)
	}
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write execution file: %w", err)
	}
	if err := os.Rename(tempFile, summaryFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename execution file: %w", err)
	}
	return nil
}

// GetExecution reads an execution summary
func (f *FileStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.readExecution(executionID)
}

func (f *FileStore) readExecution(executionID string) (*Execution, error) {
	data, err := os.ReadFile(filepath.Join(f.basePath, executionID, "execution.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ErrNotFound{ExecutionID: executionID}
		}
		return nil, fmt.Errorf("failed to read execution file: %w", err)
	}
	var execution Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to decode execution: %w", err)
	}
	return &execution, nil
}

// ListExecutions returns executions matching the filter, newest first
func (f *FileStore) ListExecutions(ctx context.Context, filter Filter) ([]*Execution, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Execution{}, nil
		}
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}

	var executions []*Execution
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		execution, err := f.readExecution(entry.Name())
		if err != nil {
			// Skip directories without a summary
			continue
		}
		if filter.matches(execution) {
			executions = append(executions, execution)
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartTime.After(executions[j].StartTime)
	})
	return paginate(executions, filter), nil
}

// DeleteExecution removes all files associated with an execution
func (f *FileStore) DeleteExecution(ctx context.Context, executionID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := os.RemoveAll(filepath.Join(f.basePath, executionID)); err != nil {
		return fmt.Errorf("failed to delete execution directory: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (f *FileStore) Close() error {
	return nil
}
