// Package aggregate turns day partitions into the time-windowed series that
// charts and the bot display.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/espmon/pkg/instrument"
	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/storage"
)

// maxConcurrentLoads bounds partition reads for a month window.
const maxConcurrentLoads = 8

// Aggregator builds window frames from a partition store. It never writes
// and is safe for concurrent use.
type Aggregator struct {
	store storage.Store
	now   func() time.Time
	loc   *time.Location
	log   *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now, which decides what "today" is.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLocation sets the zone used for calendar days and row timestamps.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) { a.loc = loc }
}

// WithLogger sets the logger for skipped partitions and unparsable rows.
func WithLogger(log *slog.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

// New creates an aggregator reading from store.
func New(store storage.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store: store,
		now:   time.Now,
		loc:   time.Local,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dates returns the partition days window w reads, today first.
func (a *Aggregator) Dates(w Window) []time.Time {
	today := storage.Day(a.now().In(a.loc))
	days := w.Coverage().Days
	dates := make([]time.Time, days)
	for i := range dates {
		dates[i] = today.AddDate(0, 0, -i)
	}
	return dates
}

// Aggregate loads the partitions of w and builds its frame.
func (a *Aggregator) Aggregate(ctx context.Context, w Window) (*Frame, error) {
	frame, err := a.aggregate(ctx, w)
	instrument.ObserveAggregation(string(w), outcome(err))
	return frame, err
}

func outcome(err error) string {
	var aerr *Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &aerr):
		return strings.ReplaceAll(aerr.Kind.Error(), " ", "_")
	default:
		return "error"
	}
}

func (a *Aggregator) aggregate(ctx context.Context, w Window) (*Frame, error) {
	if !w.Valid() {
		return nil, &Error{Kind: ErrInvalidWindow, Window: w}
	}

	dates := a.Dates(w)
	partitions := make([]*storage.Partition, len(dates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)
	for i, day := range dates {
		i, day := i, day
		g.Go(func() error {
			p, err := a.store.Load(gctx, day)
			if errors.Is(err, storage.ErrPartitionNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load partition %s: %w", storage.DateKey(day), err)
			}
			partitions[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, p := range partitions {
		if p == nil {
			a.log.Debug("partition missing, skipping", "window", w, "date", storage.DateKey(dates[i]))
		}
	}

	frame, err := Build(w, dates, partitions, a.loc)
	if err != nil {
		return nil, err
	}
	if frame.Dropped > 0 {
		a.log.Warn("rows without a parsable timestamp dropped", "window", w, "dropped", frame.Dropped)
	}
	return frame, nil
}

// Series aggregates w and extracts field. Rows where field is not
// available are skipped.
func (a *Aggregator) Series(ctx context.Context, w Window, field reading.Field) ([]Point, error) {
	if !field.Valid() {
		return nil, &Error{Kind: ErrUnknownField, Window: w, Field: string(field)}
	}
	frame, err := a.Aggregate(ctx, w)
	if err != nil {
		return nil, err
	}
	return frame.Series(field), nil
}

// Build applies the window policy to already loaded partitions.
// partitions[i] belongs to dates[i] and is nil when that day is missing.
//
// Loaded partitions are concatenated in the given order, each row gets the
// instant derived from its date and time (rows that fail are dropped), rows
// are stably sorted by that instant, and the hour window keeps only rows
// within one hour of the newest row.
func Build(w Window, dates []time.Time, partitions []*storage.Partition, loc *time.Location) (*Frame, error) {
	if !w.Valid() {
		return nil, &Error{Kind: ErrInvalidWindow, Window: w}
	}
	cov := w.Coverage()
	frame := &Frame{Window: w}

	for i, p := range partitions {
		if p == nil {
			if i < len(dates) {
				frame.Missing = append(frame.Missing, dates[i])
			}
			continue
		}
		frame.Loaded = append(frame.Loaded, p.Date)
	}

	if cov.SingleDay() && len(frame.Loaded) == 0 {
		e := &Error{Kind: ErrSourceMissing, Window: w}
		if len(dates) > 0 {
			e.Date = dates[0]
		}
		return nil, e
	}
	if len(frame.Loaded) < cov.MinPresent {
		return nil, &Error{
			Kind:     ErrInsufficientCoverage,
			Window:   w,
			Found:    len(frame.Loaded),
			Required: cov.MinPresent,
			Span:     cov.Days,
		}
	}

	for _, p := range partitions {
		if p == nil {
			continue
		}
		for _, r := range p.Rows {
			at, err := r.Timestamp(loc)
			if err != nil {
				frame.Dropped++
				continue
			}
			frame.Rows = append(frame.Rows, Row{At: at, Reading: r})
		}
	}
	if len(frame.Rows) == 0 {
		return nil, &Error{Kind: ErrNoTimestampableRows, Window: w}
	}

	sort.SliceStable(frame.Rows, func(i, j int) bool {
		return frame.Rows[i].At.Before(frame.Rows[j].At)
	})

	if w == Hour {
		frame.Rows = clipHour(frame.Rows)
	}
	return frame, nil
}

// clipHour drops rows older than one hour before the newest row. The cutoff
// follows the data, not the wall clock.
func clipHour(rows []Row) []Row {
	cutoff := rows[len(rows)-1].At.Add(-time.Hour)
	first := sort.Search(len(rows), func(i int) bool {
		return !rows[i].At.Before(cutoff)
	})
	return rows[first:]
}
