// Package repository persists harvest run outcomes. Postgres is optional;
// the in-memory implementation backs local runs and tests.
package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lucashm/pncp-harvester/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// RunRecord summarizes one finished harvest run.
type RunRecord struct {
	ID               string
	StartDate        string
	EndDate          string
	Modalities       []int
	ObjectFilter     string
	ItemTerms        []string
	RecordsCollected int
	ItemsMatched     int
	ReportPath       string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// RunsRepository stores run summaries and their matched items.
type RunsRepository interface {
	SaveRun(ctx context.Context, run RunRecord) error
	SaveItems(ctx context.Context, runID string, items []domain.Item) error
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	ListItems(ctx context.Context, runID string) ([]domain.Item, error)
}

// MemoryRunsRepository keeps runs in memory for local use.
type MemoryRunsRepository struct {
	mu    sync.RWMutex
	runs  map[string]RunRecord
	items map[string][]domain.Item
}

func NewMemoryRunsRepository() *MemoryRunsRepository {
	return &MemoryRunsRepository{
		runs:  make(map[string]RunRecord),
		items: make(map[string][]domain.Item),
	}
}

func (r *MemoryRunsRepository) SaveRun(_ context.Context, run RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.Modalities = append([]int(nil), run.Modalities...)
	run.ItemTerms = append([]string(nil), run.ItemTerms...)
	r.runs[run.ID] = run
	return nil
}

func (r *MemoryRunsRepository) SaveItems(_ context.Context, runID string, items []domain.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[runID] = append([]domain.Item(nil), items...)
	return nil
}

func (r *MemoryRunsRepository) GetRun(_ context.Context, runID string) (RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return run, nil
}

func (r *MemoryRunsRepository) ListItems(_ context.Context, runID string) ([]domain.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items, ok := r.items[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]domain.Item(nil), items...), nil
}
