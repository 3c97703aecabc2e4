package tasks

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Enqueue(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Status = StatusQueued
	s.entries[entry.TaskID] = entry
	return nil
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, taskID string) error {
	return s.transition(ctx, taskID, StatusQueued, func(entry *Entry) {
		entry.Status = StatusProcessing
		if entry.StartedAt == nil {
			now := time.Now().UTC()
			entry.StartedAt = &now
		}
	})
}

func (s *MemoryStore) MarkRetry(ctx context.Context, taskID, message string) error {
	return s.transition(ctx, taskID, StatusProcessing, func(entry *Entry) {
		entry.Status = StatusQueued
		entry.RetryCount++
		entry.ErrorMessage = &message
	})
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, taskID, resultData string) error {
	return s.transition(ctx, taskID, StatusProcessing, func(entry *Entry) {
		entry.Status = StatusCompleted
		entry.ResultData = resultData
		now := time.Now().UTC()
		entry.CompletedAt = &now
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, taskID, message string) error {
	return s.transition(ctx, taskID, StatusProcessing, func(entry *Entry) {
		entry.Status = StatusFailed
		entry.ErrorMessage = &message
		now := time.Now().UTC()
		entry.CompletedAt = &now
	})
}

func (s *MemoryStore) GetByID(ctx context.Context, taskID string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[taskID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (s *MemoryStore) transition(ctx context.Context, taskID, fromStatus string, apply func(*Entry)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[taskID]
	if !ok || entry.Status != fromStatus {
		return ErrNotFound
	}
	apply(&entry)
	s.entries[taskID] = entry
	return nil
}

var _ Store = (*MemoryStore)(nil)
