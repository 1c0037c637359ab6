// Package storagetest holds the behaviour every storage.Store must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/storage"
)

// Sample builds a reading stamped at t with the given local temperature.
func Sample(t time.Time, temp string) reading.Reading {
	return reading.Reading{
		Date: t.Format("2006-01-02"),
		Time: t.Format("15:04:05"),
		Values: map[reading.Field]string{
			reading.LocalTemperature: temp,
			reading.LocalHumidity:    "40",
			reading.GoldPrice:        "4100000",
			reading.Ping:             "12",
		},
	}
}

// Run exercises a fresh store returned by newStore. Stores must use time.UTC.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("AppendAndLoad", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

		for i := 0; i < 3; i++ {
			at := day.Add(time.Duration(10+i) * time.Hour)
			require.NoError(t, s.Append(ctx, at, Sample(at, fmt.Sprintf("2%d", i))))
		}

		p, err := s.Load(ctx, day.Add(13*time.Hour))
		require.NoError(t, err)
		assert.True(t, day.Equal(p.Date))
		require.Len(t, p.Rows, 3)
		for i, r := range p.Rows {
			assert.Equal(t, fmt.Sprintf("2%d", i), r.Value(reading.LocalTemperature), "append order kept")
		}
		assert.Equal(t, "4100000", p.Rows[0].Value(reading.GoldPrice))

		last, err := storage.Latest(ctx, s, day)
		require.NoError(t, err)
		assert.Equal(t, "22", last.Value(reading.LocalTemperature))
	})

	t.Run("MissingPartition", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Load(context.Background(), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
		assert.True(t, errors.Is(err, storage.ErrPartitionNotFound), "got %v", err)
	})

	t.Run("PartitionsStaySeparate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		d1 := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
		d2 := time.Date(2024, 3, 2, 0, 1, 0, 0, time.UTC)
		d0 := time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.Append(ctx, d1, Sample(d1, "1")))
		require.NoError(t, s.Append(ctx, d2, Sample(d2, "2")))
		require.NoError(t, s.Append(ctx, d0, Sample(d0, "0")))

		p1, err := s.Load(ctx, d1)
		require.NoError(t, err)
		require.Len(t, p1.Rows, 1)
		assert.Equal(t, "1", p1.Rows[0].Value(reading.LocalTemperature))

		dates, err := s.Dates(ctx)
		require.NoError(t, err)
		require.Len(t, dates, 3)
		assert.Equal(t, "2024-02-28", storage.DateKey(dates[0]))
		assert.Equal(t, "2024-03-02", storage.DateKey(dates[2]))

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Partitions)
		assert.EqualValues(t, 3, stats.TotalReadings)
		assert.Equal(t, "2024-02-28", storage.DateKey(stats.Oldest))
	})

	t.Run("ConcurrentReaders", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		day := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
		require.NoError(t, s.Append(ctx, day, Sample(day, "20")))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := s.Load(ctx, day)
				assert.NoError(t, err)
				if err == nil {
					assert.NotEmpty(t, p.Rows)
				}
			}()
		}
		wg.Wait()
	})
	t.Run("LoadWhileAppending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.Append(ctx, day, Sample(day, "0")))

		const appends = 40
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 1; i <= appends; i++ {
				at := day.Add(time.Duration(i) * time.Minute)
				if err := s.Append(ctx, at, Sample(at, fmt.Sprint(i))); err != nil {
					t.Errorf("append %d: %v", i, err)
					return
				}
			}
		}()
		defer func() { <-done }()

		seen := 1
		for running := true; running; {
			select {
			case <-done:
				running = false
			default:
			}
			p, err := s.Load(ctx, day)
			require.NoError(t, err, "a load racing an append must not fail")
			require.GreaterOrEqual(t, len(p.Rows), seen, "rows never disappear")
			seen = len(p.Rows)
		}

		p, err := s.Load(ctx, day)
		require.NoError(t, err)
		assert.Len(t, p.Rows, appends+1)
	})
}
