package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type IService interface {
	Observe(packet []byte) error
}

// RawPacket is one decoded telemetry message from the field gateway. A
// single physical reading may arrive split across several packets because
// of radio payload limits, so Fields is sparse.
type RawPacket struct {
	LLA            string             `json:"lla"`
	SequenceNumber int                `json:"sequence_number"`
	Fields         map[string]float64 `json:"fields"`
	ReceivedAt     time.Time          `json:"received_at"`
}

// PendingRecord is the per-sensor buffered state between two flushes.
type PendingRecord struct {
	LastSequenceNumber int
	MergedFields       map[string]float64
	IsFirstSinceFlush  bool
	LastReceivedAt     time.Time
}

// RangeWindow is a [Min,Max] threshold active only inside the [Start,End]
// time-of-day window ("HH:MM:SS"). Start == End == "00:00:00" disables the
// check; End before Start wraps past midnight.
type RangeWindow struct {
	Min   float64 `bson:"Min"`
	Max   float64 `bson:"Max"`
	Start string  `bson:"Start_Time"`
	End   string  `bson:"End_Time"`
}

type AlertConfig struct {
	Valid       bool        `bson:"Valid"`
	Email       string      `bson:"Email"`
	BatteryMin  float64     `bson:"Battery_Min"`
	Temperature RangeWindow `bson:"Temperature"`
	Light       RangeWindow `bson:"Light"`
}

// ActiveSensor is one sensor currently flagged live inside an experiment,
// as the persistence layer reports it.
type ActiveSensor struct {
	LLA        string      `bson:"LLA"`
	Experiment string      `bson:"Experiment"`
	Location   string      `bson:"Location"`
	Faulty     bool        `bson:"isFaulty"`
	Alerts     AlertConfig `bson:"Alerts"`
}

// ActiveSensorEntry is an ActiveSensor plus the most recent persisted
// timestamp for it, snapshotted by the index on each refresh.
type ActiveSensorEntry struct {
	ActiveSensor
	LastKnown time.Time
}

type Condition string

const (
	ConditionTemperature Condition = "Temperature"
	ConditionLight       Condition = "Light"
	ConditionBattery     Condition = "Battery"
)

// Record is the document handed to the persistence layer at flush time.
// Field names follow the cloud store's existing document shape.
type Record struct {
	TimeStamp      time.Time          `bson:"TimeStamp"`
	UniqueID       string             `bson:"UniqueID"`
	MetaData       MetaData           `bson:"MetaData"`
	ExperimentData ExperimentData     `bson:"ExperimentData"`
	SensorData     map[string]float64 `bson:"SensorData"`
}

type MetaData struct {
	LLA      string `bson:"LLA"`
	Location string `bson:"Location"`
}

type ExperimentData struct {
	ExpName string `bson:"Exp_name"`
}

const alertLineTimeFormat = "2006-01-02T15:04:05"

// AlertLine is one formatted observation, immutable once created. It is
// stored as comma-delimited text so the aggregator can re-parse the
// accumulated buffer line by line.
type AlertLine struct {
	At         time.Time
	Experiment string
	Location   string
	LLA        string
	Condition  Condition
	Value      float64
	Expected   string
}

func (l AlertLine) Format() string {
	return fmt.Sprintf("%s,%s,%s,%s,%s,%.2f,%s",
		l.At.Format(alertLineTimeFormat), l.Experiment, l.Location, l.LLA, l.Condition, l.Value, l.Expected)
}

// ParseAlertLine is the inverse of Format.
func ParseAlertLine(s string) (AlertLine, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 7 {
		return AlertLine{}, fmt.Errorf("alert line has %d fields, want 7: %q", len(parts), s)
	}
	at, err := time.ParseInLocation(alertLineTimeFormat, parts[0], time.Local)
	if err != nil {
		return AlertLine{}, fmt.Errorf("alert line timestamp: %w", err)
	}
	value, err := strconv.ParseFloat(parts[5], 64)
	if err != nil {
		return AlertLine{}, fmt.Errorf("alert line value: %w", err)
	}
	return AlertLine{
		At:         at,
		Experiment: parts[1],
		Location:   parts[2],
		LLA:        parts[3],
		Condition:  Condition(parts[4]),
		Value:      value,
		Expected:   parts[6],
	}, nil
}
