package service

import (
	"context"
	"sync"
	"time"

	"github.com/field-4d/cloud-sub000/model"
)

// fakeDB is an in-memory model.Persistence with overridable behavior.
type fakeDB struct {
	mu      sync.Mutex
	sensors []model.ActiveSensor
	latest  map[string]time.Time // key: experiment+"/"+lla
	written []writtenRecord

	listErr   error
	latestErr error
	writeErr  error
}

type writtenRecord struct {
	experiment string
	rec        model.Record
}

func newFakeDB() *fakeDB {
	return &fakeDB{latest: make(map[string]time.Time)}
}

func (f *fakeDB) WriteRecord(_ context.Context, experiment string, rec model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, writtenRecord{experiment: experiment, rec: rec})
	return nil
}

func (f *fakeDB) ListActiveSensors(_ context.Context) ([]model.ActiveSensor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.ActiveSensor, len(f.sensors))
	copy(out, f.sensors)
	return out, nil
}

func (f *fakeDB) LatestTimestampFor(_ context.Context, experiment, lla string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return time.Time{}, false, f.latestErr
	}
	t, ok := f.latest[experiment+"/"+lla]
	return t, ok, nil
}

func (f *fakeDB) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

// fakeMail records sent messages and can simulate transport failure.
type fakeMail struct {
	mu      sync.Mutex
	sent    []sentMail
	sendErr error
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

func (f *fakeMail) Send(to []string, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: htmlBody})
	if f.sendErr != nil {
		return f.sendErr
	}
	return nil
}

func (f *fakeMail) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func alertingSensor(lla, experiment string) model.ActiveSensor {
	return model.ActiveSensor{
		LLA:        lla,
		Experiment: experiment,
		Location:   "greenhouse-3",
		Alerts: model.AlertConfig{
			Valid:      true,
			Email:      "grower@example.org",
			BatteryMin: 2750,
			Temperature: model.RangeWindow{
				Min: 15, Max: 22,
				Start: "00:01:00", End: "23:59:00",
			},
			Light: model.RangeWindow{
				Min: 0, Max: 10000,
				Start: "00:00:00", End: "00:00:00",
			},
		},
	}
}

func refreshedIndex(t testingT, sensors ...model.ActiveSensor) (*ActiveSensorIndex, *fakeDB) {
	db := newFakeDB()
	db.sensors = sensors
	idx := NewActiveSensorIndex(db, 0)
	if err := idx.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return idx, db
}

// testingT is the slice of *testing.T the helpers need.
type testingT interface {
	Fatalf(format string, args ...any)
}
