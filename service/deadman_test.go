package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/field-4d/cloud-sub000/model"
)

func newWatcher(t *testing.T, db *fakeDB, mailer model.MailTransport, now time.Time) *DeadManWatcher {
	t.Helper()
	idx := NewActiveSensorIndex(db, 0)
	w := NewDeadManWatcher(idx, mailer, []string{"ops@example.org"}, 0)
	w.now = func() time.Time { return now }
	return w
}

func TestSweepReportsSilentSensors(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	db := newFakeDB()
	db.sensors = []model.ActiveSensor{
		alertingSensor("fd00::1", "TomatoTrial"),
		alertingSensor("fd00::2", "TomatoTrial"),
	}
	db.latest["TomatoTrial/fd00::1"] = now.Add(-45 * time.Minute) // silent
	db.latest["TomatoTrial/fd00::2"] = now.Add(-10 * time.Minute) // fine

	mailer := &fakeMail{}
	w := newWatcher(t, db, mailer, now)

	if err := w.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if mailer.sentCount() != 1 {
		t.Fatalf("sent %d mails, want 1", mailer.sentCount())
	}
	body := mailer.sent[0].body
	if !strings.Contains(body, "fd00::1") {
		t.Errorf("report missing silent sensor:\n%s", body)
	}
	if strings.Contains(body, "fd00::2") {
		t.Errorf("report contains a live sensor:\n%s", body)
	}
	if !strings.Contains(body, ">45<") {
		t.Errorf("report should show 45 minutes elapsed:\n%s", body)
	}
	if got := mailer.sent[0].to; len(got) != 1 || got[0] != "grower@example.org" {
		t.Errorf("recipients = %v, want the experiment's configured email", got)
	}
}

func TestSweepSkipsFaultySensors(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	db := newFakeDB()
	faulty := alertingSensor("fd00::1", "TomatoTrial")
	faulty.Faulty = true
	db.sensors = []model.ActiveSensor{faulty}
	db.latest["TomatoTrial/fd00::1"] = now.Add(-3 * time.Hour)

	mailer := &fakeMail{}
	w := newWatcher(t, db, mailer, now)

	if err := w.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if mailer.sentCount() != 0 {
		t.Fatalf("sent %d mails, want 0 (faulty sensors excluded)", mailer.sentCount())
	}
}

func TestSweepFallsBackToDefaultRecipients(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	db := newFakeDB()
	quiet := alertingSensor("fd00::1", "TomatoTrial")
	quiet.Alerts.Email = ""
	db.sensors = []model.ActiveSensor{quiet}
	db.latest["TomatoTrial/fd00::1"] = now.Add(-2 * time.Hour)

	mailer := &fakeMail{}
	w := newWatcher(t, db, mailer, now)

	if err := w.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if mailer.sentCount() != 1 {
		t.Fatalf("sent %d mails, want 1", mailer.sentCount())
	}
	if got := mailer.sent[0].to; len(got) != 1 || got[0] != "ops@example.org" {
		t.Errorf("recipients = %v, want the default list", got)
	}
}

func TestSweepIsStatelessAcrossRuns(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	db := newFakeDB()
	db.sensors = []model.ActiveSensor{alertingSensor("fd00::1", "TomatoTrial")}
	db.latest["TomatoTrial/fd00::1"] = now.Add(-45 * time.Minute)

	mailer := &fakeMail{}
	w := newWatcher(t, db, mailer, now)

	if err := w.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if err := w.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// A still-silent sensor is re-reported on every run, by design.
	if mailer.sentCount() != 2 {
		t.Fatalf("sent %d mails, want 2", mailer.sentCount())
	}
}

func TestSweepFailsWhenRefreshFails(t *testing.T) {
	db := newFakeDB()
	mailer := &fakeMail{}
	w := newWatcher(t, db, mailer, time.Now())

	db.mu.Lock()
	db.listErr = context.DeadlineExceeded
	db.mu.Unlock()

	if err := w.Sweep(context.Background()); err == nil {
		t.Fatal("expected sweep to surface the refresh error")
	}
	if mailer.sentCount() != 0 {
		t.Fatal("no report may go out from a failed sweep")
	}
}
