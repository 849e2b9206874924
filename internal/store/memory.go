package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fpang/hand-extractor/internal/pipeline"
)

// MemoryStore is a process-local RunStore for the CLI and for servers
// running without DynamoDB. Records never expire.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]RunRecord
	segments map[string][]pipeline.SegmentSummary
}

var _ RunStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     make(map[string]RunRecord),
		segments: make(map[string][]pipeline.SegmentSummary),
	}
}

func (m *MemoryStore) PutRun(_ context.Context, rec *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[rec.RunID] = *rec
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) SetRunError(_ context.Context, runID, stage, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("set run error %s: %w", runID, ErrNotFound)
	}
	now := time.Now().UTC()
	rec.Status = pipeline.StatusAborted
	rec.Error = msg
	rec.FailedStage = stage
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	m.runs[runID] = rec
	return nil
}

func (m *MemoryStore) PutSegments(_ context.Context, runID string, segments []pipeline.SegmentSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex := make(map[int]pipeline.SegmentSummary)
	for _, s := range m.segments[runID] {
		byIndex[s.Index] = s
	}
	for _, s := range segments {
		byIndex[s.Index] = s
	}
	merged := make([]pipeline.SegmentSummary, 0, len(byIndex))
	for _, s := range byIndex {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Index < merged[j].Index })
	m.segments[runID] = merged
	return nil
}

func (m *MemoryStore) GetSegments(_ context.Context, runID string) ([]pipeline.SegmentSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]pipeline.SegmentSummary(nil), m.segments[runID]...), nil
}

func (m *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	delete(m.segments, runID)
	return nil
}
