package service

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/field-4d/cloud-sub000/model"
	"github.com/rs/zerolog"
	uuid "github.com/satori/go.uuid"
)

// SyncScheduler flushes the pending-record buffer to persistence on a fixed
// interval. It stays idle until the active-sensor index arms it, so nothing
// is drained before the service knows which experiments exist.
type SyncScheduler struct {
	assembler *PacketAssembler
	index     *ActiveSensorIndex
	db        model.Persistence
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	lastFlush map[string]*model.PendingRecord
}

func NewSyncScheduler(assembler *PacketAssembler, index *ActiveSensorIndex, db model.Persistence, interval time.Duration, logl int) *SyncScheduler {
	return &SyncScheduler{
		assembler: assembler,
		index:     index,
		db:        db,
		interval:  interval,
		logger:    zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(zerolog.InfoLevel+zerolog.Level(logl)).With().Timestamp().Int("pid", os.Getpid()).Logger(),
		now:       time.Now,
	}
}

// Start waits for the index's arming latch, then runs the flush ticker. A
// slow flush delays the next firing, it never overlaps it.
func (s *SyncScheduler) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		select {
		case <-ctx.Done():
			return
		case <-s.index.Armed():
			s.logger.Info().Dur("interval", s.interval).Msg("sync scheduler armed")
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("sync scheduler stopped")
				return
			case <-ticker.C:
				s.Flush(ctx)
			}
		}
	}()
}

// Flush drains the assembler and writes every resolvable record. Records
// with no active-sensor entry are skipped silently (they belong to no known
// experiment), and a failed write never aborts the rest of the cycle.
func (s *SyncScheduler) Flush(ctx context.Context) {
	if !s.index.Ready() {
		// Never refreshed successfully; leave the buffer intact so the
		// next tick retries the same packets.
		s.logger.Warn().Msg("active sensor index unavailable, skipping flush tick")
		return
	}

	stamp := s.now().Truncate(time.Minute)
	drained := s.assembler.DrainAll()

	written := 0
	for lla, rec := range drained {
		entry, ok := s.index.Lookup(lla)
		if !ok {
			s.logger.Debug().Str("lla", lla).Msg("sensor not in any active experiment, record dropped")
			continue
		}
		doc := model.Record{
			TimeStamp:      stamp,
			UniqueID:       uuid.NewV4().String(),
			MetaData:       model.MetaData{LLA: lla, Location: entry.Location},
			ExperimentData: model.ExperimentData{ExpName: entry.Experiment},
			SensorData:     rec.MergedFields,
		}
		if err := s.db.WriteRecord(ctx, entry.Experiment, doc); err != nil {
			s.logger.Error().Err(err).Str("lla", lla).Str("experiment", entry.Experiment).Msg("failed to write record")
			continue
		}
		written++
	}

	s.mu.Lock()
	s.lastFlush = drained
	s.mu.Unlock()

	s.logger.Info().Int("drained", len(drained)).Int("written", written).Time("stamp", stamp).Msg("flush cycle complete")
}

// LastFlushCount reports the size of the most recently drained buffer.
func (s *SyncScheduler) LastFlushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastFlush)
}
