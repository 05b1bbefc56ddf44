package model

import (
	"context"
	"time"
)

// Persistence is the narrow surface the core needs from the document store.
type Persistence interface {
	// WriteRecord stores one flushed record in the experiment's collection.
	WriteRecord(ctx context.Context, experiment string, rec Record) error
	// ListActiveSensors returns every sensor currently flagged active,
	// across all experiment groupings.
	ListActiveSensors(ctx context.Context) ([]ActiveSensor, error)
	// LatestTimestampFor reports the newest persisted record timestamp for
	// a sensor, ok=false when the sensor has no records yet.
	LatestTimestampFor(ctx context.Context, experiment, lla string) (t time.Time, ok bool, err error)
}

// MailTransport delivers rendered reports. Fire and forget: the core logs
// failures and never retries.
type MailTransport interface {
	Send(to []string, subject, htmlBody string) error
}
