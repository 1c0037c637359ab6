// Package poller runs the sensor polling loop. Each tick fetches one reading,
// appends it to today's partition and hands it to the configured sinks.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nicktill/espmon/pkg/instrument"
	"github.com/nicktill/espmon/pkg/reading"
	"github.com/nicktill/espmon/pkg/sensor"
	"github.com/nicktill/espmon/pkg/storage"
)

// Sink receives every stored reading.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r reading.Reading) error
}

// Recorder is told about the outcome of every poll.
type Recorder interface {
	RecordSuccess(stamp string)
	RecordFailure(err error)
}

// Config wires a Poller.
type Config struct {
	Fetcher  sensor.Fetcher
	Store    storage.Store
	Sinks    []Sink
	Recorder Recorder
	Interval time.Duration
	Location *time.Location
	Logger   *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

type Poller struct {
	fetcher  sensor.Fetcher
	store    storage.Store
	sinks    []Sink
	recorder Recorder
	interval time.Duration
	loc      *time.Location
	log      *slog.Logger
	now      func() time.Time
}

func New(cfg Config) *Poller {
	p := &Poller{
		fetcher:  cfg.Fetcher,
		store:    cfg.Store,
		sinks:    cfg.Sinks,
		recorder: cfg.Recorder,
		interval: cfg.Interval,
		loc:      cfg.Location,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
	if p.loc == nil {
		p.loc = time.Local
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.interval <= 0 {
		p.interval = time.Minute
	}
	return p
}

// Run polls immediately and then once per interval until ctx is done.
// A failed poll is logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("poller started", "interval", p.interval)
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce fetches one reading and stores it under today's date. Sink
// failures are logged and counted but do not fail the poll.
func (p *Poller) PollOnce(ctx context.Context) (reading.Reading, error) {
	start := time.Now()
	r, err := p.poll(ctx)
	instrument.ObservePoll(err, time.Since(start))
	if err != nil {
		if p.recorder != nil {
			p.recorder.RecordFailure(err)
		}
		return reading.Reading{}, err
	}
	if p.recorder != nil {
		p.recorder.RecordSuccess(r.Date + " " + r.Time)
	}

	for _, s := range p.sinks {
		if err := s.Publish(ctx, r); err != nil {
			instrument.ObserveSinkError(s.Name())
			p.log.Warn("sink publish failed", "sink", s.Name(), "error", err)
		}
	}
	return r, nil
}

func (p *Poller) poll(ctx context.Context) (reading.Reading, error) {
	r, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return reading.Reading{}, fmt.Errorf("fetch: %w", err)
	}

	now := p.now().In(p.loc)
	if err := p.store.Append(ctx, now, r); err != nil {
		return reading.Reading{}, fmt.Errorf("append to %s: %w", storage.DateKey(now), err)
	}
	instrument.ObserveStored(r, now)

	p.log.Debug("reading stored", "date", r.Date, "time", r.Time, "partition", storage.DateKey(now))
	return r, nil
}
