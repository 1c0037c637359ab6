package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/storage"
)

// Storage keeps partitions in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	partitions map[string][]reading.Reading
	loc        *time.Location
	mu         sync.RWMutex
}

// New creates an in-memory storage backend
func New(loc *time.Location) *Storage {
	if loc == nil {
		loc = time.Local
	}
	return &Storage{
		partitions: make(map[string][]reading.Reading),
		loc:        loc,
	}
}

// Append stores r in the partition of day
func (s *Storage) Append(ctx context.Context, day time.Time, r reading.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storage.DateKey(day.In(s.loc))
	s.partitions[key] = append(s.partitions[key], r)
	return nil
}

// Load returns a copy of the partition of day
func (s *Storage) Load(ctx context.Context, day time.Time) (*storage.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.partitions[storage.DateKey(day.In(s.loc))]
	if !ok {
		return nil, storage.ErrPartitionNotFound
	}
	out := make([]reading.Reading, len(rows))
	copy(out, rows)
	return &storage.Partition{Date: storage.Day(day.In(s.loc)), Rows: out}, nil
}

// Dates lists stored days, oldest first
func (s *Storage) Dates(ctx context.Context) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dates := make([]time.Time, 0, len(s.partitions))
	for key := range s.partitions {
		d, err := storage.ParseDateKey(key, s.loc)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	dates, err := s.Dates(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{Partitions: len(dates)}
	for _, rows := range s.partitions {
		stats.TotalReadings += uint64(len(rows))
	}
	if len(dates) > 0 {
		stats.Oldest = dates[0]
		stats.Newest = dates[len(dates)-1]
	}
	return stats, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}
