// Package history keeps the bounded log of executed records and builds replay
// pipelines from it.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/hochfrequenz/filter-runner/internal/domain"
	"github.com/hochfrequenz/filter-runner/internal/logging"
)

var (
	// ErrNothingSelected is returned when a range selects no records
	ErrNothingSelected = errors.New("no history records selected")
	// ErrRowOutOfRange is returned for a row that does not exist
	ErrRowOutOfRange = errors.New("history row out of range")
)

// Persister mirrors the history to durable storage
type Persister interface {
	AppendRecord(ctx context.Context, snap domain.Snapshot) error
	TrimTo(ctx context.Context, limit int) error
	ListRecords(ctx context.Context) ([]domain.Snapshot, error)
	Clear(ctx context.Context) error
}

// Row is one history entry prepared for display
type Row struct {
	Index int
	domain.Summary
}

// Store is a bounded, append-only log of records, oldest first.
// Stored records are private copies; callers only ever see clones.
type Store struct {
	limit     int
	records   []*domain.RuntimeRecord
	persister Persister
	log       hclog.Logger
	mu        sync.RWMutex
}

// New creates a Store holding at most limit records. persister may be nil.
func New(limit int, persister Persister, log hclog.Logger) *Store {
	return &Store{
		limit:     limit,
		persister: persister,
		log:       logging.OrNull(log).Named("history"),
	}
}

// Limit returns the capacity
func (s *Store) Limit() int { return s.limit }

// Len returns the number of stored records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Add stores a copy of rec and evicts the oldest records beyond the limit
func (s *Store) Add(ctx context.Context, rec *domain.RuntimeRecord) error {
	if s.limit <= 0 {
		return nil
	}
	s.mu.Lock()
	s.records = append(s.records, rec.Clone())
	if over := len(s.records) - s.limit; over > 0 {
		s.records = s.records[over:]
	}
	s.mu.Unlock()

	if s.persister == nil {
		return nil
	}
	if err := s.persister.AppendRecord(ctx, rec.Snapshot()); err != nil {
		return fmt.Errorf("persisting history record: %w", err)
	}
	if err := s.persister.TrimTo(ctx, s.limit); err != nil {
		return fmt.Errorf("trimming persisted history: %w", err)
	}
	return nil
}

// Record returns a copy of the record at row
func (s *Store) Record(row int) (*domain.RuntimeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row < 0 || row >= len(s.records) {
		return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}
	return s.records[row].Clone(), nil
}

// Rows returns display summaries, oldest first
func (s *Store) Rows() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]Row, len(s.records))
	for i, r := range s.records {
		rows[i] = Row{Index: i, Summary: r.Summary()}
	}
	return rows
}

// Before builds a pipeline of the rows 0..row-1
func (s *Store) Before(row int) (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row < 0 || row > len(s.records) {
		return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}
	if row == 0 {
		return nil, ErrNothingSelected
	}
	return replay(s.records[:row])
}

// From builds a pipeline of the rows row..end
func (s *Store) From(row int) (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, ErrNothingSelected
	}
	if row < 0 || row >= len(s.records) {
		return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}
	return replay(s.records[row:])
}

// Selected builds a pipeline of the given rows in history order. Duplicates are ignored.
func (s *Store) Selected(rows []int) (*domain.Pipeline, error) {
	if len(rows) == 0 {
		return nil, ErrNothingSelected
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := append([]int(nil), rows...)
	sort.Ints(sorted)
	var picked []*domain.RuntimeRecord
	for i, row := range sorted {
		if row < 0 || row >= len(s.records) {
			return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
		}
		if i > 0 && sorted[i-1] == row {
			continue
		}
		picked = append(picked, s.records[row])
	}
	return replay(picked)
}

// Latest builds a pipeline of the most recent record
func (s *Store) Latest() (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return nil, ErrNothingSelected
	}
	return replay(s.records[len(s.records)-1:])
}

// Load replaces the in-memory log with the persisted one
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	snaps, err := s.persister.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	if s.limit > 0 && len(snaps) > s.limit {
		snaps = snaps[len(snaps)-s.limit:]
	}
	records := make([]*domain.RuntimeRecord, len(snaps))
	for i, snap := range snaps {
		records[i] = domain.FromSnapshot(snap)
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	s.log.Debug("history loaded", "records", len(records))
	return nil
}

// Clear empties the log and its persisted mirror
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
	if s.persister == nil {
		return nil
	}
	return s.persister.Clear(ctx)
}

// replay builds fresh, unrun copies of records and chains them
func replay(records []*domain.RuntimeRecord) (*domain.Pipeline, error) {
	p := domain.NewPipeline()
	for i, r := range records {
		rec, err := domain.NewRecordBuilder(r).Fresh().WithRunNo(i + 1).Build()
		if err != nil {
			return nil, err
		}
		p.Add(rec)
	}
	p.UpdateRelations()
	return p, nil
}
