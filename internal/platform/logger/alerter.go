package logger

import (
	"context"
	"log/slog"

	"tutorlink/internal/core/contracts"
	"tutorlink/internal/core/domain"
)

// Alerter writes user notices to the log at the level matching their
// severity.
type Alerter struct {
	log *slog.Logger
}

var _ contracts.Alerter = (*Alerter)(nil)

func NewAlerter(log *slog.Logger) *Alerter {
	return &Alerter{log: log.With(slog.String("component", "alerts"))}
}

func (a *Alerter) Alert(ctx context.Context, al domain.Alert) {
	level := slog.LevelInfo
	switch al.Level {
	case domain.AlertWarning:
		level = slog.LevelWarn
	case domain.AlertError:
		level = slog.LevelError
	}
	attrs := []slog.Attr{slog.String("alert", string(al.Level))}
	if al.Code != "" {
		attrs = append(attrs, slog.String("code", string(al.Code)))
	}
	a.log.LogAttrs(ctx, level, al.Message, attrs...)
}
