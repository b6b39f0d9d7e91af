package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// High cardinality attributes (file paths, URLs, digests) must not be added
// to spans that feed metrics: they create unbounded series. Bounded sets
// (operation names, statuses, components) are safe. Per-file detail belongs
// in logs, correlated via trace id.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", duration.Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, duration)

	return err
}

// InstrumentFetchOperation instruments fetch client operations.
func (t *Telemetry) InstrumentFetchOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "fetch_"+operation, "fetch_client", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordFetchOperation(operation, status)

	return err
}

// InstrumentFileDownload instruments a single mirrored file download.
func (t *Telemetry) InstrumentFileDownload(ctx context.Context, bytes int64, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveFiles()
	defer t.DecrementActiveFiles()

	err := t.InstrumentOperation(ctx, "file_download", "syncer", fn)

	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordFileDownload(status, bytes, duration)

	return err
}

// InstrumentSync instruments a full sync run.
func (t *Telemetry) InstrumentSync(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "sync", "syncer", fn)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordSync(status, duration)

	return err
}
