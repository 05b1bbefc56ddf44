package service

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/field-4d/cloud-sub000/model"
	"github.com/rs/zerolog"
)

// DefaultBatteryMin is the battery alert threshold used when a sensor's
// configuration leaves it unset (millivolts).
const DefaultBatteryMin = 2750

// ExperimentAlertBuffer accumulates formatted alert lines for one
// experiment between aggregator sends.
type ExperimentAlertBuffer struct {
	Text  string
	Email string
}

// AlertBuffers owns the per-experiment accumulators shared by the immediate
// evaluator (writer) and the aggregator (reader/clearer).
type AlertBuffers struct {
	mu    sync.Mutex
	byExp map[string]*ExperimentAlertBuffer
}

func NewAlertBuffers() *AlertBuffers {
	return &AlertBuffers{byExp: make(map[string]*ExperimentAlertBuffer)}
}

// Append adds one formatted line, with a trailing separator, to the
// experiment's buffer, creating the buffer lazily on first alert.
func (b *AlertBuffers) Append(experiment, email string, line model.AlertLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := b.byExp[experiment]
	if !ok {
		buf = &ExperimentAlertBuffer{}
		b.byExp[experiment] = buf
	}
	buf.Text += line.Format() + "\n"
	buf.Email = email
}

// Experiments lists every experiment that currently has a buffer.
func (b *AlertBuffers) Experiments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.byExp))
	for exp := range b.byExp {
		out = append(out, exp)
	}
	return out
}

// Get returns the accumulated text and recipient for an experiment.
func (b *AlertBuffers) Get(experiment string) (text, email string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.byExp[experiment]
	if !ok {
		return "", ""
	}
	return buf.Text, buf.Email
}

// Clear empties an experiment's accumulated text. The buffer itself stays.
func (b *AlertBuffers) Clear(experiment string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok := b.byExp[experiment]; ok {
		buf.Text = ""
	}
}

type suppressionKey struct {
	lla  string
	cond model.Condition
}

// SuppressionTable counts consecutive true evaluations per (sensor,
// condition). A single false evaluation resets the count, so a genuinely
// new onset is never hidden by an earlier episode.
type SuppressionTable struct {
	mu     sync.Mutex
	counts map[suppressionKey]int
}

func NewSuppressionTable() *SuppressionTable {
	return &SuppressionTable{counts: make(map[suppressionKey]int)}
}

func (t *SuppressionTable) Bump(lla string, cond model.Condition) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := suppressionKey{lla: lla, cond: cond}
	t.counts[k]++
	return t.counts[k]
}

func (t *SuppressionTable) Reset(lla string, cond model.Condition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, suppressionKey{lla: lla, cond: cond})
}

func (t *SuppressionTable) Count(lla string, cond model.Condition) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[suppressionKey{lla: lla, cond: cond}]
}

// ImmediateAlertEvaluator runs per-packet threshold checks and feeds the
// per-experiment buffers. It sends nothing itself; the aggregator decides
// what actually goes out.
type ImmediateAlertEvaluator struct {
	index       *ActiveSensorIndex
	buffers     *AlertBuffers
	suppression *SuppressionTable
	logger      zerolog.Logger
}

func NewImmediateAlertEvaluator(index *ActiveSensorIndex, buffers *AlertBuffers, suppression *SuppressionTable, logl int) *ImmediateAlertEvaluator {
	return &ImmediateAlertEvaluator{
		index:       index,
		buffers:     buffers,
		suppression: suppression,
		logger:      zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(zerolog.InfoLevel+zerolog.Level(logl)).With().Timestamp().Int("pid", os.Getpid()).Logger(),
	}
}

// Evaluate checks every condition independently for one observation. A
// condition observed false resets its suppression count immediately; a
// field absent from this packet leaves its count untouched, since packets
// are sparse and absence says nothing about the reading.
func (e *ImmediateAlertEvaluator) Evaluate(lla string, fields map[string]float64, at time.Time) {
	entry, ok := e.index.Lookup(lla)
	if !ok || !entry.Alerts.Valid || entry.Alerts.Email == "" {
		return
	}

	if v, present := fields["battery"]; present {
		min := entry.Alerts.BatteryMin
		if min == 0 {
			min = DefaultBatteryMin
		}
		if v < min {
			e.trip(entry, model.ConditionBattery, v, fmt.Sprintf(">=%.0f", min), at)
		} else {
			e.suppression.Reset(lla, model.ConditionBattery)
		}
	}

	e.checkWindowed(entry, model.ConditionTemperature, "temperature", entry.Alerts.Temperature, fields, at)
	e.checkWindowed(entry, model.ConditionLight, "light", entry.Alerts.Light, fields, at)
}

func (e *ImmediateAlertEvaluator) checkWindowed(entry model.ActiveSensorEntry, cond model.Condition, field string, w model.RangeWindow, fields map[string]float64, at time.Time) {
	v, present := fields[field]
	if !present {
		return
	}
	if (v < w.Min || v > w.Max) && windowActive(w, at) {
		e.trip(entry, cond, v, fmt.Sprintf("%.2f-%.2f", w.Min, w.Max), at)
		return
	}
	e.suppression.Reset(entry.LLA, cond)
}

func (e *ImmediateAlertEvaluator) trip(entry model.ActiveSensorEntry, cond model.Condition, value float64, expected string, at time.Time) {
	line := model.AlertLine{
		At:         at,
		Experiment: entry.Experiment,
		Location:   entry.Location,
		LLA:        entry.LLA,
		Condition:  cond,
		Value:      value,
		Expected:   expected,
	}
	e.buffers.Append(entry.Experiment, entry.Alerts.Email, line)
	n := e.suppression.Bump(entry.LLA, cond)
	e.logger.Debug().Str("lla", entry.LLA).Str("condition", string(cond)).Float64("value", value).Int("repeat", n).Msg("alert condition true")
}

// parseClock converts "HH:MM:SS" to minutes of day.
func parseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("clock value %q: want HH:MM:SS", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("clock value %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("clock value %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}

// windowActive reports whether at's time of day falls inside the window.
// start == end == midnight disables the window. A window whose end precedes
// its start wraps past midnight and is compared at hour granularity, so
// 22:00-02:00 covers 22:00 through 02:59.
func windowActive(w model.RangeWindow, at time.Time) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	if start == 0 && end == 0 {
		return false
	}
	m := at.Hour()*60 + at.Minute()
	if end < start {
		return at.Hour() >= start/60 || at.Hour() <= end/60
	}
	return m >= start && m <= end
}
