package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldProcessID is the standardized structured logging key for process identifiers.
	FieldProcessID = "process_id"
	// FieldRegistration is the standardized structured logging key for registration hashes.
	FieldRegistration = "registration"
	// FieldPeriod is the standardized structured logging key for billing periods (YYYY-MM).
	FieldPeriod = "period"
	// FieldStage is the standardized structured logging key for execution stages.
	FieldStage = "stage"
	// FieldSessionID is the standardized structured logging key for execution session identifiers.
	FieldSessionID = "session_id"
	// FieldQueue is the standardized structured logging key for task queue names.
	FieldQueue = "queue"
	// FieldTaskID is the standardized structured logging key for task identifiers.
	FieldTaskID = "task_id"
	// FieldOperator is the standardized structured logging key for operator codes.
	FieldOperator = "operator"
	// FieldEventType tags log lines with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
)

type contextKey int

const (
	ctxProcessID contextKey = iota
	ctxRegistration
	ctxPeriod
	ctxStage
	ctxCorrelationID
)

// WithProcessID stores a process identifier in the context for log enrichment.
func WithProcessID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxProcessID, id)
}

// WithRegistration stores a registration hash in the context for log enrichment.
func WithRegistration(ctx context.Context, hash string) context.Context {
	return context.WithValue(ctx, ctxRegistration, hash)
}

// WithPeriod stores a billing period in the context for log enrichment.
func WithPeriod(ctx context.Context, period string) context.Context {
	return context.WithValue(ctx, ctxPeriod, period)
}

// WithStage stores an execution stage in the context for log enrichment.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ctxStage, stage)
}

// WithCorrelationID stores a correlation identifier in the context for log enrichment.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxCorrelationID, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 5)
	if id, ok := ctx.Value(ctxProcessID).(int64); ok {
		fields = append(fields, slog.Int64(FieldProcessID, id))
	}
	if hash, ok := ctx.Value(ctxRegistration).(string); ok && hash != "" {
		fields = append(fields, slog.String(FieldRegistration, hash))
	}
	if period, ok := ctx.Value(ctxPeriod).(string); ok && period != "" {
		fields = append(fields, slog.String(FieldPeriod, period))
	}
	if stage, ok := ctx.Value(ctxStage).(string); ok && stage != "" {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if rid, ok := ctx.Value(ctxCorrelationID).(string); ok && rid != "" {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (noopHandler) WithAttrs([]slog.Attr) slog.Handler        { return noopHandler{} }
func (noopHandler) WithGroup(string) slog.Handler             { return noopHandler{} }
