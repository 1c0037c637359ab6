package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/storage"
)

var (
	partitionPrefix = []byte("p/")
	sequenceKey     = []byte("meta/seq")
)

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq *badger.Sequence
	loc *time.Location
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly default)
	MaxMemoryMB int64

	// Location decides the calendar day of a timestamp (default: time.Local)
	Location *time.Location
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// A reading is a few hundred bytes and arrives once a minute, so
	// the defaults (64 MB memtables, 2 GB value logs) are far too large.
	memTableSize := int64(8 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(2).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	// Leased sequence numbers keep rows of a day in append order.
	seq, err := db.GetSequence(sequenceKey, 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to lease sequence: %w", err)
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Storage{db: db, seq: seq, loc: loc}, nil
}

// Append stores r under its day prefix
// Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Append(ctx context.Context, day time.Time, r reading.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}
	key := makeKey(storage.DateKey(day.In(s.loc)), n)
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, value)
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to write reading: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("append operation cancelled: %w", ctx.Err())
	}
}

// Load returns the readings stored under the day prefix, in sequence order
func (s *Storage) Load(ctx context.Context, day time.Time) (*storage.Partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type loadResult struct {
		rows []reading.Reading
		err  error
	}
	done := make(chan loadResult, 1)
	prefix := datePrefix(storage.DateKey(day.In(s.loc)))

	go func() {
		var res loadResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				err := it.Item().Value(func(val []byte) error {
					var r reading.Reading
					if err := json.Unmarshal(val, &r); err != nil {
						return err
					}
					res.rows = append(res.rows, r)
					return nil
				})
				if err != nil {
					return fmt.Errorf("failed to decode reading: %w", err)
				}
			}
			return nil
		})
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if len(res.rows) == 0 {
			return nil, storage.ErrPartitionNotFound
		}
		return &storage.Partition{Date: storage.Day(day.In(s.loc)), Rows: res.rows}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("load operation cancelled: %w", ctx.Err())
	}
}

// Dates lists the stored days, oldest first. It visits one key per day by
// seeking past each day's prefix.
func (s *Storage) Dates(ctx context.Context) ([]time.Time, error) {
	var dates []time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = partitionPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(partitionPrefix); it.ValidForPrefix(partitionPrefix); {
			if err := ctx.Err(); err != nil {
				return err
			}
			key, _, ok := parseKey(it.Item().Key())
			if !ok {
				it.Next()
				continue
			}
			if d, err := storage.ParseDateKey(key, s.loc); err == nil {
				dates = append(dates, d)
			}
			// '0' sorts right after '/', so this lands on the next day.
			it.Seek(append([]byte(string(partitionPrefix)+key), '/'+1))
		}
		return nil
	})
	return dates, err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}
	seen := make(map[string]bool)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = partitionPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Seek(partitionPrefix); it.ValidForPrefix(partitionPrefix); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			key, _, ok := parseKey(it.Item().Key())
			if !ok {
				continue
			}
			stats.TotalReadings++
			if seen[key] {
				continue
			}
			seen[key] = true
			d, err := storage.ParseDateKey(key, s.loc)
			if err != nil {
				continue
			}
			if stats.Oldest.IsZero() || d.Before(stats.Oldest) {
				stats.Oldest = d
			}
			if d.After(stats.Newest) {
				stats.Newest = d
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats.Partitions = len(seen)
	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close releases the leased sequence and shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to release sequence: %w", err)
	}
	return s.db.Close()
}

// makeKey creates a sortable key: p/<date>/<sequence (8 bytes big endian)>
func makeKey(date string, seq uint64) []byte {
	prefix := datePrefix(date)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

func datePrefix(date string) []byte {
	return []byte(string(partitionPrefix) + date + "/")
}

// parseKey extracts the date and sequence from a storage key
func parseKey(key []byte) (string, uint64, bool) {
	rest := bytes.TrimPrefix(key, partitionPrefix)
	i := bytes.IndexByte(rest, '/')
	if i < 0 || len(rest) != i+1+8 {
		return "", 0, false
	}
	return string(rest[:i]), binary.BigEndian.Uint64(rest[i+1:]), true
}
