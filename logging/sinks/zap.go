package sinks

import (
	"context"

	"go.uber.org/zap"

	"hidden-walnuts/server/logging"
)

// Zap forwards events to a zap logger at the matching level.
type Zap struct {
	logger *zap.Logger
}

func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger}
}

func (s *Zap) Write(event logging.Event) error {
	ce := s.logger.Check(logging.ZapLevel(event.Severity), string(event.Type))
	if ce == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6+len(event.Extra))
	fields = append(fields,
		zap.String("actor", formatEntity(event.Actor)),
		zap.String("category", event.Category),
	)
	if event.Tick > 0 {
		fields = append(fields, zap.Uint64("tick", event.Tick))
	}
	if len(event.Targets) > 0 {
		fields = append(fields, zap.Any("targets", event.Targets))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	if event.TraceID != "" {
		fields = append(fields, zap.String("traceId", event.TraceID))
	}
	for k, v := range event.Extra {
		fields = append(fields, zap.Any(k, v))
	}
	ce.Write(fields...)
	return nil
}

func (s *Zap) Close(context.Context) error {
	// Sync on a terminal stderr returns EINVAL on some platforms.
	_ = s.logger.Sync()
	return nil
}
