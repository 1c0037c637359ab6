package aggregate

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
	"github.com/nicktill/espmon/pkg/storage/memory"
)

// now is 2024-03-30 18:00 UTC in every test.
var now = time.Date(2024, 3, 30, 18, 0, 0, 0, time.UTC)

func at(t time.Time, temp string) reading.Reading {
	return reading.Reading{
		Date:   t.Format("2006-01-02"),
		Time:   t.Format("15:04:05"),
		Values: map[reading.Field]string{reading.LocalTemperature: temp},
	}
}

func newAggregator(store storage.Store) *Aggregator {
	return New(store, WithClock(func() time.Time { return now }), WithLocation(time.UTC))
}

// fillDays stores one reading at noon for each of the given days-ago offsets.
func fillDays(t *testing.T, store storage.Store, daysAgo ...int) {
	t.Helper()
	for _, d := range daysAgo {
		ts := storage.Day(now).AddDate(0, 0, -d).Add(12 * time.Hour)
		require.NoError(t, store.Append(context.Background(), ts, at(ts, fmt.Sprint(d))))
	}
}

func kindOf(t *testing.T, err error) error {
	t.Helper()
	var aerr *Error
	require.True(t, errors.As(err, &aerr), "expected *Error, got %T: %v", err, err)
	return aerr.Kind
}

func TestParseWindow(t *testing.T) {
	tests := map[string]Window{
		"1h": Hour, "hour": Hour, "HOUR": Hour,
		"1d": Day, "day": Day,
		"1w": Week, " week ": Week,
		"1m": Month, "month": Month,
	}
	for in, want := range tests {
		got, err := ParseWindow(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseWindow("2h")
	assert.True(t, errors.Is(err, ErrInvalidWindow))
	assert.Contains(t, err.Error(), "2h")
}

func TestCoverage(t *testing.T) {
	assert.Equal(t, Coverage{Days: 1, MinPresent: 1}, Hour.Coverage())
	assert.Equal(t, Coverage{Days: 1, MinPresent: 1}, Day.Coverage())
	assert.Equal(t, Coverage{Days: 7, MinPresent: 7}, Week.Coverage())
	assert.Equal(t, Coverage{Days: 30, MinPresent: 21}, Month.Coverage())
}

func TestAggregate_InvalidWindow(t *testing.T) {
	a := newAggregator(memory.New(time.UTC))
	_, err := a.Aggregate(context.Background(), Window("2d"))
	assert.Equal(t, ErrInvalidWindow, kindOf(t, err))
}

func TestAggregate_WeekCoverage(t *testing.T) {
	store := memory.New(time.UTC)
	fillDays(t, store, 0, 1, 2, 4, 6)
	a := newAggregator(store)

	_, err := a.Aggregate(context.Background(), Week)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientCoverage))

	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, 5, aerr.Found)
	assert.Equal(t, 7, aerr.Required)
	assert.Contains(t, err.Error(), "5/7")

	fillDays(t, store, 3, 5)
	frame, err := a.Aggregate(context.Background(), Week)
	require.NoError(t, err)
	assert.Len(t, frame.Rows, 7)
	assert.Len(t, frame.Loaded, 7)
	assert.Empty(t, frame.Missing)
}

func TestAggregate_MonthThreshold(t *testing.T) {
	days := func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i * 30 / n
		}
		return out
	}

	t.Run("22 of 30 succeeds", func(t *testing.T) {
		store := memory.New(time.UTC)
		fillDays(t, store, days(22)...)
		frame, err := newAggregator(store).Aggregate(context.Background(), Month)
		require.NoError(t, err)
		assert.Len(t, frame.Loaded, 22)
		assert.Len(t, frame.Missing, 8)
	})

	t.Run("21 of 30 succeeds", func(t *testing.T) {
		store := memory.New(time.UTC)
		fillDays(t, store, days(21)...)
		_, err := newAggregator(store).Aggregate(context.Background(), Month)
		require.NoError(t, err)
	})

	t.Run("20 of 30 fails", func(t *testing.T) {
		store := memory.New(time.UTC)
		fillDays(t, store, days(20)...)
		_, err := newAggregator(store).Aggregate(context.Background(), Month)
		assert.Equal(t, ErrInsufficientCoverage, kindOf(t, err))
	})

	t.Run("partitions outside the window do not count", func(t *testing.T) {
		store := memory.New(time.UTC)
		fillDays(t, store, days(20)...)
		fillDays(t, store, 31, 32, 40)
		_, err := newAggregator(store).Aggregate(context.Background(), Month)
		assert.Equal(t, ErrInsufficientCoverage, kindOf(t, err))
	})
}

func TestAggregate_EmptyStore(t *testing.T) {
	a := newAggregator(memory.New(time.UTC))

	for _, w := range []Window{Hour, Day} {
		_, err := a.Aggregate(context.Background(), w)
		assert.Equal(t, ErrSourceMissing, kindOf(t, err), w)
		assert.Contains(t, err.Error(), "2024-03-30")
	}
	for _, w := range []Window{Week, Month} {
		_, err := a.Aggregate(context.Background(), w)
		assert.Equal(t, ErrInsufficientCoverage, kindOf(t, err), w)
	}
}

func TestAggregate_DayUsesOnlyToday(t *testing.T) {
	store := memory.New(time.UTC)
	fillDays(t, store, 1, 2)
	a := newAggregator(store)

	_, err := a.Aggregate(context.Background(), Day)
	assert.Equal(t, ErrSourceMissing, kindOf(t, err), "yesterday does not satisfy a day window")

	fillDays(t, store, 0)
	frame, err := a.Aggregate(context.Background(), Day)
	require.NoError(t, err)
	require.Len(t, frame.Rows, 1)
	assert.Equal(t, "0", frame.Rows[0].Value(reading.LocalTemperature))
}

func TestAggregate_HourClipRelativeToLatestRow(t *testing.T) {
	store := memory.New(time.UTC)
	// The newest row is hours before the wall clock; the cutoff follows the data.
	latest := time.Date(2024, 3, 30, 9, 0, 0, 0, time.UTC)
	for _, off := range []int{-90, -59, -30, 0} {
		ts := latest.Add(time.Duration(off) * time.Minute)
		require.NoError(t, store.Append(context.Background(), ts, at(ts, fmt.Sprint(off))))
	}

	frame, err := newAggregator(store).Aggregate(context.Background(), Hour)
	require.NoError(t, err)
	require.Len(t, frame.Rows, 3)
	assert.Equal(t, "-59", frame.Rows[0].Value(reading.LocalTemperature))
	assert.Equal(t, "0", frame.Rows[2].Value(reading.LocalTemperature))
}

func TestAggregate_HourKeepsRowExactlyAtCutoff(t *testing.T) {
	store := memory.New(time.UTC)
	latest := time.Date(2024, 3, 30, 9, 0, 0, 0, time.UTC)
	for _, off := range []int{-61, -60, 0} {
		ts := latest.Add(time.Duration(off) * time.Minute)
		require.NoError(t, store.Append(context.Background(), ts, at(ts, fmt.Sprint(off))))
	}

	frame, err := newAggregator(store).Aggregate(context.Background(), Hour)
	require.NoError(t, err)
	assert.Len(t, frame.Rows, 2)
}

func TestAggregate_DayDoesNotClip(t *testing.T) {
	store := memory.New(time.UTC)
	for _, h := range []int{1, 5, 17} {
		ts := storage.Day(now).Add(time.Duration(h) * time.Hour)
		require.NoError(t, store.Append(context.Background(), ts, at(ts, fmt.Sprint(h))))
	}

	frame, err := newAggregator(store).Aggregate(context.Background(), Day)
	require.NoError(t, err)
	assert.Len(t, frame.Rows, 3)
}

func TestAggregate_DropsUnparsableRows(t *testing.T) {
	store := memory.New(time.UTC)
	ctx := context.Background()
	day := storage.Day(now)

	good := day.Add(10 * time.Hour)
	require.NoError(t, store.Append(ctx, good, at(good, "1")))
	require.NoError(t, store.Append(ctx, good, reading.Reading{Date: "garbage", Time: "10:00:00"}))
	require.NoError(t, store.Append(ctx, good, reading.Reading{Date: "2024-03-30", Time: ""}))
	later := day.Add(11 * time.Hour)
	require.NoError(t, store.Append(ctx, later, at(later, "2")))

	frame, err := newAggregator(store).Aggregate(ctx, Day)
	require.NoError(t, err)
	assert.Len(t, frame.Rows, 2)
	assert.Equal(t, 2, frame.Dropped)
}

func TestAggregate_NoTimestampableRows(t *testing.T) {
	store := memory.New(time.UTC)
	require.NoError(t, store.Append(context.Background(), now, reading.Reading{Date: "??", Time: "??"}))

	_, err := newAggregator(store).Aggregate(context.Background(), Day)
	assert.Equal(t, ErrNoTimestampableRows, kindOf(t, err))
}

func TestAggregate_SortedAndStable(t *testing.T) {
	store := memory.New(time.UTC)
	ctx := context.Background()
	day := storage.Day(now)

	// Rows arrive out of order and three of them share a timestamp.
	offsets := []struct {
		minute int
		tag    string
	}{
		{30, "a"}, {10, "b"}, {20, "c"}, {10, "d"}, {5, "e"}, {10, "f"},
	}
	for _, o := range offsets {
		ts := day.Add(8*time.Hour + time.Duration(o.minute)*time.Minute)
		require.NoError(t, store.Append(ctx, ts, at(ts, o.tag)))
	}
	for d := 1; d < 7; d++ {
		fillDays(t, store, d)
	}

	for _, w := range []Window{Day, Week} {
		frame, err := newAggregator(store).Aggregate(ctx, w)
		require.NoError(t, err)

		for i := 1; i < len(frame.Rows); i++ {
			assert.False(t, frame.Rows[i].At.Before(frame.Rows[i-1].At), "%s: row %d out of order", w, i)
		}

		var ties []string
		for _, r := range frame.Rows {
			if r.At.Equal(day.Add(8*time.Hour + 10*time.Minute)) {
				ties = append(ties, r.Value(reading.LocalTemperature))
			}
		}
		assert.Equal(t, []string{"b", "d", "f"}, ties, "%s: equal timestamps keep stored order", w)
	}
}

func TestAggregate_ConcurrentCallers(t *testing.T) {
	store := memory.New(time.UTC)
	fillDays(t, store, 0, 1, 2, 3, 4, 5, 6)
	a := newAggregator(store)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			frame, err := a.Aggregate(context.Background(), Week)
			if assert.NoError(t, err) {
				assert.Len(t, frame.Rows, 7)
			}
		}()
	}
	wg.Wait()
}

type failingStore struct{ storage.Store }

func (failingStore) Load(context.Context, time.Time) (*storage.Partition, error) {
	return nil, errors.New("disk on fire")
}

func TestAggregate_LoadErrorIsNotMissing(t *testing.T) {
	a := newAggregator(failingStore{memory.New(time.UTC)})
	_, err := a.Aggregate(context.Background(), Day)
	require.Error(t, err)
	var aerr *Error
	assert.False(t, errors.As(err, &aerr))
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestSeries(t *testing.T) {
	store := memory.New(time.UTC)
	ctx := context.Background()
	day := storage.Day(now)
	for i, v := range []string{"20.5", "", "N/A", "22"} {
		ts := day.Add(time.Duration(9+i) * time.Hour)
		require.NoError(t, store.Append(ctx, ts, at(ts, v)))
	}
	a := newAggregator(store)

	points, err := a.Series(ctx, Day, reading.LocalTemperature)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 20.5, points[0].Value)
	assert.Equal(t, 22.0, points[1].Value)
	assert.Equal(t, day.Add(12*time.Hour).UnixMilli(), points[1].Timestamp)

	_, err = a.Series(ctx, Day, reading.Field("pressure"))
	assert.Equal(t, ErrUnknownField, kindOf(t, err))
}

func TestBuild_ConcatenationOrderBeforeSort(t *testing.T) {
	day0 := time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)
	day1 := day0.AddDate(0, 0, -1)
	ts := day0.Add(time.Hour)

	// The same instant appears in two partitions; the earlier partition in the
	// input wins the tie.
	first := &storage.Partition{Date: day0, Rows: []reading.Reading{at(ts, "today")}}
	second := &storage.Partition{Date: day1, Rows: []reading.Reading{at(ts, "dup")}}

	dates := []time.Time{day0, day1, day0.AddDate(0, 0, -2), day0.AddDate(0, 0, -3),
		day0.AddDate(0, 0, -4), day0.AddDate(0, 0, -5), day0.AddDate(0, 0, -6)}
	parts := []*storage.Partition{first, second, {Date: dates[2]}, {Date: dates[3]},
		{Date: dates[4]}, {Date: dates[5]}, {Date: dates[6]}}

	frame, err := Build(Week, dates, parts, time.UTC)
	require.NoError(t, err)
	require.Len(t, frame.Rows, 2)
	assert.Equal(t, "today", frame.Rows[0].Value(reading.LocalTemperature))
	assert.Equal(t, "dup", frame.Rows[1].Value(reading.LocalTemperature))
}
