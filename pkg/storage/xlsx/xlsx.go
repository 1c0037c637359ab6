// Package xlsx stores each day partition as its own spreadsheet file.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/sheet"
	"github.com/nicktill/espmon/pkg/storage"
)

// Config holds the spreadsheet store settings
type Config struct {
	// Dir holds the partition files
	Dir string

	// Prefix is prepended to the date in each file name
	Prefix string

	// Location decides the calendar day of a timestamp (default: time.Local)
	Location *time.Location

	Logger *slog.Logger
}

// Storage implements storage.Store with one .xlsx file per day.
type Storage struct {
	dir    string
	prefix string
	loc    *time.Location
	log    *slog.Logger

	// mu serializes writers. Readers open files without it: a write
	// replaces the whole file by rename, so a read sees the old or new rows.
	mu sync.Mutex
}

// New creates the directory if needed and returns the store.
func New(cfg Config) (*Storage, error) {
	if cfg.Dir == "" {
		return nil, errors.New("xlsx storage: directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("xlsx storage: %w", err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Storage{
		dir:    cfg.Dir,
		prefix: cfg.Prefix,
		loc:    cfg.Location,
		log:    cfg.Logger,
	}, nil
}

// Path returns the file backing the partition of day.
func (s *Storage) Path(day time.Time) string {
	return filepath.Join(s.dir, s.prefix+storage.DateKey(day.In(s.loc))+".xlsx")
}

// Append adds r as the last row of its day's file.
func (s *Storage) Append(ctx context.Context, day time.Time, r reading.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(day)
	recovered, err := sheet.Append(path, reading.Columns(), r.Row())
	if recovered != "" {
		s.log.Error("partition file unreadable, recreated", "path", path, "moved_to", recovered)
	}
	if err != nil {
		return fmt.Errorf("append to %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load reads the partition of day.
func (s *Storage) Load(ctx context.Context, day time.Time) (*storage.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.Path(day)
	table, err := sheet.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrPartitionNotFound
		}
		return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}

	p := &storage.Partition{Date: storage.Day(day.In(s.loc))}
	for _, row := range table.Rows {
		p.Rows = append(p.Rows, reading.FromRow(table.Header, row))
	}
	return p, nil
}

// Files returns the partition files, oldest first.
func (s *Storage) Files() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.prefix+"*.xlsx"))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		if _, ok := s.dateOf(m); ok {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Dates lists the days that have a file, oldest first.
func (s *Storage) Dates(ctx context.Context) ([]time.Time, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, 0, len(files))
	for _, f := range files {
		d, _ := s.dateOf(f)
		dates = append(dates, d)
	}
	return dates, nil
}

// Stats sums file sizes and row counts across partitions.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{Partitions: len(files)}
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if info, err := os.Stat(f); err == nil {
			stats.SizeBytes += uint64(info.Size())
		}
		if table, err := sheet.Read(f); err == nil {
			stats.TotalReadings += uint64(len(table.Rows))
		}
		d, _ := s.dateOf(f)
		if i == 0 {
			stats.Oldest = d
		}
		stats.Newest = d
	}
	return stats, nil
}

// Close is a no-op; files are closed after every operation.
func (s *Storage) Close() error {
	return nil
}

func (s *Storage) dateOf(path string) (time.Time, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, ".xlsx") {
		return time.Time{}, false
	}
	key := strings.TrimSuffix(strings.TrimPrefix(name, s.prefix), ".xlsx")
	d, err := storage.ParseDateKey(key, s.loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
