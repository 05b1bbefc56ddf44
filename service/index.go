package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/field-4d/cloud-sub000/model"
	"github.com/rs/zerolog"
)

// ActiveSensorIndex is a periodically refreshed read-through cache mapping a
// sensor address to its current experiment and alert configuration. Each
// refresh builds a complete replacement snapshot and swaps it in whole, so a
// reader never observes a half-written refresh.
//
// The first successful refresh that yields at least one active sensor closes
// the arming latch, which is what starts the sync scheduler.
type ActiveSensorIndex struct {
	db     model.Persistence
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]model.ActiveSensorEntry
	ready   bool

	armOnce sync.Once
	armed   chan struct{}
}

func NewActiveSensorIndex(db model.Persistence, logl int) *ActiveSensorIndex {
	return &ActiveSensorIndex{
		db:     db,
		logger: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(zerolog.InfoLevel+zerolog.Level(logl)).With().Timestamp().Int("pid", os.Getpid()).Logger(),
		armed:  make(chan struct{}),
	}
}

// Armed is closed once the index has seen at least one active sensor.
func (x *ActiveSensorIndex) Armed() <-chan struct{} {
	return x.armed
}

// Ready reports whether at least one refresh has succeeded since start.
func (x *ActiveSensorIndex) Ready() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.ready
}

// Refresh rebuilds the snapshot from persistence. Any upstream error aborts
// the whole refresh and leaves the previous snapshot in place; the next
// scheduled tick retries.
func (x *ActiveSensorIndex) Refresh(ctx context.Context) error {
	sensors, err := x.db.ListActiveSensors(ctx)
	if err != nil {
		return errors.Join(err, errors.New("active sensor index list"))
	}

	entries := make(map[string]model.ActiveSensorEntry, len(sensors))
	for _, s := range sensors {
		if prior, dup := entries[s.LLA]; dup {
			// A sensor is assumed to belong to at most one experiment;
			// keep the first assignment seen and flag the violation.
			x.logger.Warn().Str("lla", s.LLA).Str("kept", prior.Experiment).Str("ignored", s.Experiment).Msg("sensor assigned to more than one experiment")
			continue
		}
		last, ok, err := x.db.LatestTimestampFor(ctx, s.Experiment, s.LLA)
		if err != nil {
			return errors.Join(err, errors.New("active sensor index last timestamp"))
		}
		entry := model.ActiveSensorEntry{ActiveSensor: s}
		if ok {
			entry.LastKnown = last
		}
		entries[s.LLA] = entry
	}

	x.mu.Lock()
	x.entries = entries
	x.ready = true
	x.mu.Unlock()

	if len(entries) > 0 {
		x.armOnce.Do(func() {
			x.logger.Info().Int("sensors", len(entries)).Msg("first active sensor seen, arming sync")
			close(x.armed)
		})
	}
	return nil
}

// Lookup is a pure in-memory read against the latest snapshot.
func (x *ActiveSensorIndex) Lookup(lla string) (model.ActiveSensorEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[lla]
	return e, ok
}

// Snapshot returns the current entries. The slice is a copy; callers may
// keep it across a concurrent refresh.
func (x *ActiveSensorIndex) Snapshot() []model.ActiveSensorEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]model.ActiveSensorEntry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, e)
	}
	return out
}

// Start runs the refresh loop until the context is cancelled.
func (x *ActiveSensorIndex) Start(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := x.Refresh(ctx); err != nil {
			x.logger.Error().Err(err).Msg("active sensor index refresh failed")
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				x.logger.Info().Msg("active sensor index stopped")
				return
			case <-ticker.C:
				if err := x.Refresh(ctx); err != nil {
					x.logger.Error().Err(err).Msg("active sensor index refresh failed")
				}
			}
		}
	}()
}
