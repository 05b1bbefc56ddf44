package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/field-4d/cloud-sub000/model"
	"github.com/rs/zerolog/log"
)

// Service is the sole ingestion entry point: one decoded packet in, buffer
// merge plus immediate alert evaluation out. Flushing and report sends
// happen on their own timers.
type Service struct {
	assembler *PacketAssembler
	evaluator *ImmediateAlertEvaluator
}

func NewService(assembler *PacketAssembler, evaluator *ImmediateAlertEvaluator) *Service {
	return &Service{
		assembler: assembler,
		evaluator: evaluator,
	}
}

func (s *Service) Observe(value []byte) error {
	var packet model.RawPacket

	err := json.Unmarshal(value, &packet)
	if err != nil {
		log.Error().Err(err).Msg("error unmarshalling")
		return errors.Join(err, errors.New("service json unmarshal error"))
	}
	if packet.LLA == "" {
		return errors.New("packet has no sensor address")
	}
	if packet.ReceivedAt.IsZero() {
		packet.ReceivedAt = time.Now()
	}

	log.Trace().Str("value", string(value)).Msg("observing packet")

	s.assembler.Observe(packet)
	s.evaluator.Evaluate(packet.LLA, packet.Fields, packet.ReceivedAt)
	return nil
}
