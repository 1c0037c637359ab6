package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/espmon/pkg/reading"
)

// ErrPartitionNotFound is returned by Load when no reading was ever stored
// for the requested day.
var ErrPartitionNotFound = errors.New("partition not found")

// Store is an append-only collection of day partitions.
// Implementations: xlsx (default), badger, memory (testing)
type Store interface {
	// Append adds r to the partition of day
	Append(ctx context.Context, day time.Time, r reading.Reading) error

	// Load returns every reading of day in append order
	Load(ctx context.Context, day time.Time) (*Partition, error)

	// Dates lists the days that have a partition, oldest first
	Dates(ctx context.Context) ([]time.Time, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Partition holds the readings collected during one calendar day.
type Partition struct {
	Date time.Time
	Rows []reading.Reading
}

// Stats provides storage health and usage info
type Stats struct {
	Partitions    int       `json:"partitions"`
	TotalReadings uint64    `json:"total_readings"`
	SizeBytes     uint64    `json:"size_bytes"`
	Oldest        time.Time `json:"oldest"`
	Newest        time.Time `json:"newest"`
}

// DateLayout is the partition key format.
const DateLayout = "2006-01-02"

// DateKey returns the partition key of t in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDateKey parses a partition key as midnight in loc.
func ParseDateKey(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

// Day truncates t to midnight of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Latest returns the last reading stored for day.
func Latest(ctx context.Context, s Store, day time.Time) (reading.Reading, error) {
	p, err := s.Load(ctx, day)
	if err != nil {
		return reading.Reading{}, err
	}
	if len(p.Rows) == 0 {
		return reading.Reading{}, ErrPartitionNotFound
	}
	return p.Rows[len(p.Rows)-1], nil
}
