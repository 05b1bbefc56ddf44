package middleware

import (
	"os"
	"time"

	"github.com/field-4d/cloud-sub000/model"
	"github.com/rs/zerolog"
)

type Logger struct {
	svc    model.IService
	logger zerolog.Logger
}

func NewLogger(logl int, svc model.IService) *Logger {
	return &Logger{
		svc:    svc,
		logger: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(zerolog.Level(logl+1)).With().Timestamp().Int("pid", os.Getpid()).Logger(),
	}
}

func (l *Logger) Observe(packet []byte) error {
	defer func(timeCalled time.Time) {
		l.logger.Debug().Int64("duration", time.Since(timeCalled).Milliseconds()).Msg("Packet observed in ms")
	}(time.Now())
	return l.svc.Observe(packet)
}
