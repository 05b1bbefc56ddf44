package service

import (
	"sync"

	"github.com/field-4d/cloud-sub000/model"
)

// PacketAssembler merges partial packets per sensor address into a single
// pending record. Sensors split one logical reading across several radio
// packets, so a record is only complete enough to persist at flush time;
// the assembler never touches persistence itself.
type PacketAssembler struct {
	mu      sync.Mutex
	pending map[string]*model.PendingRecord
}

func NewPacketAssembler() *PacketAssembler {
	return &PacketAssembler{
		pending: make(map[string]*model.PendingRecord),
	}
}

// Observe folds one packet into the buffer. A packet repeating the stored
// sequence number is a re-transmission and is dropped before the merge.
func (a *PacketAssembler) Observe(p model.RawPacket) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.pending[p.LLA]
	if !ok {
		fields := make(map[string]float64, len(p.Fields))
		for k, v := range p.Fields {
			fields[k] = v
		}
		a.pending[p.LLA] = &model.PendingRecord{
			LastSequenceNumber: p.SequenceNumber,
			MergedFields:       fields,
			IsFirstSinceFlush:  true,
			LastReceivedAt:     p.ReceivedAt,
		}
		return
	}

	if rec.LastSequenceNumber == p.SequenceNumber {
		return
	}

	for k, v := range p.Fields {
		rec.MergedFields[k] = v
	}
	rec.LastSequenceNumber = p.SequenceNumber
	rec.IsFirstSinceFlush = false
	rec.LastReceivedAt = p.ReceivedAt
}

// DrainAll captures the buffer contents and clears it in the same step, so
// packets arriving concurrently with a drain start a fresh pending record
// instead of being lost or double-counted.
func (a *PacketAssembler) DrainAll() map[string]*model.PendingRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	drained := a.pending
	a.pending = make(map[string]*model.PendingRecord)
	return drained
}

// PendingCount reports how many sensors currently have a buffered record.
func (a *PacketAssembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
