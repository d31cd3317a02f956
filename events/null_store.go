package events

import "context"

var _ Store = &NullStore{}

// NullStore discards everything.
type NullStore struct{}

func NewNullStore() *NullStore {
	return &NullStore{}
}

func (s *NullStore) AppendEvents(ctx context.Context, events []*Event) error {
	return nil
}

func (s *NullStore) GetEvents(ctx context.Context, executionID string) ([]*Event, error) {
	return nil, nil
}

func (s *NullStore) SaveExecution(ctx context.Context, execution *Execution) error {
	return nil
}

func (s *NullStore) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	return nil, &ErrNotFound{ExecutionID: executionID}
}

func (s *NullStore) ListExecutions(ctx context.Context, filter Filter) ([]*Execution, error) {
	return nil, nil
}

func (s *NullStore) DeleteExecution(ctx context.Context, executionID string) error {
	return nil
}

func (s *NullStore) Close() error {
	return nil
}
