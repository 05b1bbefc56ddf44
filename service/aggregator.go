package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/field-4d/cloud-sub000/model"
	"github.com/rs/zerolog"
)

const (
	// BucketWidth is the fixed window used to deduplicate alert lines
	// before a report goes out.
	BucketWidth = 3 * time.Minute

	// maxRepeatCount caps how many consecutive true evaluations of one
	// (sensor, condition) still make it into a report. Fixed regardless of
	// how long the condition has persisted; see DESIGN.md.
	maxRepeatCount = 30
)

// AlertAggregator periodically collapses each experiment's accumulated
// alert lines to the latest per (sensor, condition) inside the current
// bucket, filters persistently repeating conditions, and mails the result.
type AlertAggregator struct {
	buffers     *AlertBuffers
	suppression *SuppressionTable
	mail        model.MailTransport
	interval    time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func NewAlertAggregator(buffers *AlertBuffers, suppression *SuppressionTable, mail model.MailTransport, interval time.Duration, logl int) *AlertAggregator {
	return &AlertAggregator{
		buffers:     buffers,
		suppression: suppression,
		mail:        mail,
		interval:    interval,
		logger:      zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(zerolog.InfoLevel+zerolog.Level(logl)).With().Timestamp().Int("pid", os.Getpid()).Logger(),
		now:         time.Now,
	}
}

func (g *AlertAggregator) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.logger.Info().Msg("alert aggregator stopped")
				return
			case <-ticker.C:
				g.Aggregate()
			}
		}
	}()
}

// bucketStart truncates t to the start of its fixed-width bucket, aligned
// on minute-of-hour modulo the bucket width.
func bucketStart(t time.Time) time.Time {
	t = t.Truncate(time.Minute)
	return t.Add(-time.Duration(t.Minute()%int(BucketWidth/time.Minute)) * time.Minute)
}

// Aggregate runs one aggregation pass over every experiment buffer.
func (g *AlertAggregator) Aggregate() {
	bucket := bucketStart(g.now())

	for _, exp := range g.buffers.Experiments() {
		text, email := g.buffers.Get(exp)
		if text == "" {
			continue
		}
		rows := g.collapse(exp, text, bucket)
		if len(rows) == 0 {
			continue
		}

		html, err := renderAlertReport(rows)
		if err != nil {
			g.logger.Error().Err(err).Str("experiment", exp).Msg("failed to render alert report")
			continue
		}
		// At most one delivery per bucket: the buffer is cleared whether
		// or not the transport succeeds.
		if err := g.mail.Send([]string{email}, fmt.Sprintf("Sensor Alert Report for %s", exp), html); err != nil {
			g.logger.Error().Err(err).Str("experiment", exp).Msg("failed to send alert report")
		}
		g.buffers.Clear(exp)
		g.logger.Info().Str("experiment", exp).Int("rows", len(rows)).Msg("alert report sent")
	}
}

// collapse keeps the most recent line per (sensor, condition) inside the
// bucket and drops lines whose suppression count exceeds the repeat
// ceiling.
func (g *AlertAggregator) collapse(exp, text string, bucket time.Time) []model.AlertLine {
	latest := make(map[suppressionKey]model.AlertLine)
	var order []suppressionKey

	for _, raw := range strings.Split(text, "\n") {
		if raw == "" {
			continue
		}
		line, err := model.ParseAlertLine(raw)
		if err != nil {
			g.logger.Warn().Err(err).Str("experiment", exp).Msg("discarding malformed alert line")
			continue
		}
		if line.At.Before(bucket) {
			continue
		}
		k := suppressionKey{lla: line.LLA, cond: line.Condition}
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = line
	}

	rows := make([]model.AlertLine, 0, len(order))
	for _, k := range order {
		if g.suppression.Count(k.lla, k.cond) > maxRepeatCount {
			continue
		}
		rows = append(rows, latest[k])
	}
	return rows
}
