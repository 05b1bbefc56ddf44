package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/field-4d/cloud-sub000/model"
	"github.com/rs/zerolog"
)

// DeadManThreshold is how long a sensor may stay silent before it shows up
// in a dead-man report.
const DeadManThreshold = 30 * time.Minute

// DeadManWatcher sweeps the active-sensor index for sensors that stopped
// reporting. Every sweep re-evaluates from scratch: it is a periodic
// digest, not a one-shot alert, so there is no cross-run suppression.
type DeadManWatcher struct {
	index             *ActiveSensorIndex
	mail              model.MailTransport
	defaultRecipients []string
	logger            zerolog.Logger
	now               func() time.Time
}

func NewDeadManWatcher(index *ActiveSensorIndex, mail model.MailTransport, defaultRecipients []string, logl int) *DeadManWatcher {
	return &DeadManWatcher{
		index:             index,
		mail:              mail,
		defaultRecipients: defaultRecipients,
		logger:            zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(zerolog.InfoLevel+zerolog.Level(logl)).With().Timestamp().Int("pid", os.Getpid()).Logger(),
		now:               time.Now,
	}
}

type deadManGroup struct {
	rows []DeadManRow
	to   []string
}

// Sweep forces a fresh index refresh, collects a CSV row per silent
// non-faulty sensor grouped by experiment, and mails one report per
// experiment that has at least one row.
func (w *DeadManWatcher) Sweep(ctx context.Context) error {
	if err := w.index.Refresh(ctx); err != nil {
		return errors.Join(err, errors.New("dead-man sweep refresh"))
	}

	now := w.now()
	groups := make(map[string]*deadManGroup)
	for _, entry := range w.index.Snapshot() {
		if entry.Faulty {
			continue
		}
		elapsed := now.Sub(entry.LastKnown)
		if elapsed <= DeadManThreshold {
			continue
		}
		g, ok := groups[entry.Experiment]
		if !ok {
			to := w.defaultRecipients
			if entry.Alerts.Email != "" {
				// A single configured recipient is a one-element list.
				to = []string{entry.Alerts.Email}
			}
			g = &deadManGroup{to: to}
			groups[entry.Experiment] = g
		}
		row := DeadManRow{
			Experiment: entry.Experiment,
			LLA:        entry.LLA,
			Location:   entry.Location,
			LastSeen:   entry.LastKnown,
			Minutes:    int(elapsed.Minutes()),
		}
		g.rows = append(g.rows, row)
		w.logger.Debug().Str("row", row.CSV()).Msg("sensor silent past threshold")
	}

	for exp, g := range groups {
		html, err := renderDeadManReport(g.rows)
		if err != nil {
			w.logger.Error().Err(err).Str("experiment", exp).Msg("failed to render dead-man report")
			continue
		}
		if err := w.mail.Send(g.to, fmt.Sprintf("Silent Sensor Report for %s", exp), html); err != nil {
			w.logger.Error().Err(err).Str("experiment", exp).Msg("failed to send dead-man report")
			continue
		}
		w.logger.Info().Str("experiment", exp).Int("rows", len(g.rows)).Msg("dead-man report sent")
	}
	return nil
}

// Start runs sweeps on a fixed interval. The watcher is also triggered on
// demand through the ops API; Start is only used when a periodic digest is
// configured.
func (w *DeadManWatcher) Start(ctx context.Context, wg *sync.WaitGroup, interval time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.logger.Info().Msg("dead-man watcher stopped")
				return
			case <-ticker.C:
				if err := w.Sweep(ctx); err != nil {
					w.logger.Error().Err(err).Msg("dead-man sweep failed")
				}
			}
		}
	}()
}
