package service

import (
	"testing"
	"time"

	"github.com/field-4d/cloud-sub000/model"
)

func packet(lla string, seq int, fields map[string]float64) model.RawPacket {
	return model.RawPacket{
		LLA:            lla,
		SequenceNumber: seq,
		Fields:         fields,
		ReceivedAt:     time.Now(),
	}
}

func TestObserveMergesFieldsAcrossPackets(t *testing.T) {
	a := NewPacketAssembler()

	a.Observe(packet("fd00::1", 1, map[string]float64{"temperature": 20, "battery": 2900}))
	a.Observe(packet("fd00::1", 2, map[string]float64{"humidity": 55}))
	a.Observe(packet("fd00::1", 3, map[string]float64{"temperature": 21}))

	drained := a.DrainAll()
	rec, ok := drained["fd00::1"]
	if !ok {
		t.Fatal("expected a pending record for fd00::1")
	}
	if rec.LastSequenceNumber != 3 {
		t.Errorf("LastSequenceNumber = %d, want 3", rec.LastSequenceNumber)
	}
	if rec.IsFirstSinceFlush {
		t.Error("IsFirstSinceFlush should be false after a merge")
	}
	want := map[string]float64{"temperature": 21, "battery": 2900, "humidity": 55}
	if len(rec.MergedFields) != len(want) {
		t.Fatalf("MergedFields = %v, want %v", rec.MergedFields, want)
	}
	for k, v := range want {
		if rec.MergedFields[k] != v {
			t.Errorf("MergedFields[%s] = %v, want %v", k, rec.MergedFields[k], v)
		}
	}
}

func TestObserveDropsRetransmissions(t *testing.T) {
	a := NewPacketAssembler()

	// seq 1, 1, 2: the repeated seq 1 must not merge.
	a.Observe(packet("fd00::1", 1, map[string]float64{"temperature": 20}))
	a.Observe(packet("fd00::1", 1, map[string]float64{"temperature": 99}))
	a.Observe(packet("fd00::1", 2, map[string]float64{"humidity": 55}))

	rec := a.DrainAll()["fd00::1"]
	if rec.MergedFields["temperature"] != 20 {
		t.Errorf("temperature = %v, want 20 (duplicate must not overwrite)", rec.MergedFields["temperature"])
	}
	if rec.MergedFields["humidity"] != 55 {
		t.Errorf("humidity = %v, want 55", rec.MergedFields["humidity"])
	}
	if rec.LastSequenceNumber != 2 {
		t.Errorf("LastSequenceNumber = %d, want 2", rec.LastSequenceNumber)
	}
}

func TestDrainAllClearsBuffer(t *testing.T) {
	a := NewPacketAssembler()
	a.Observe(packet("fd00::1", 1, map[string]float64{"temperature": 20}))

	first := a.DrainAll()
	if len(first) != 1 {
		t.Fatalf("first drain = %d records, want 1", len(first))
	}
	if a.PendingCount() != 0 {
		t.Fatalf("PendingCount after drain = %d, want 0", a.PendingCount())
	}

	// No carry-over: a packet after the drain starts a fresh record.
	a.Observe(packet("fd00::1", 2, map[string]float64{"humidity": 55}))
	second := a.DrainAll()
	rec := second["fd00::1"]
	if !rec.IsFirstSinceFlush {
		t.Error("record after drain should be first since flush")
	}
	if _, leaked := rec.MergedFields["temperature"]; leaked {
		t.Error("fields observed before the drain leaked into the new record")
	}
}

func TestObserveDistinctAddressesStayIndependent(t *testing.T) {
	a := NewPacketAssembler()
	a.Observe(packet("fd00::1", 1, map[string]float64{"temperature": 20}))
	a.Observe(packet("fd00::2", 1, map[string]float64{"temperature": 30}))

	if a.PendingCount() != 2 {
		t.Fatalf("PendingCount = %d, want 2", a.PendingCount())
	}
	drained := a.DrainAll()
	if drained["fd00::1"].MergedFields["temperature"] != 20 || drained["fd00::2"].MergedFields["temperature"] != 30 {
		t.Error("records for distinct addresses interfered with each other")
	}
}
