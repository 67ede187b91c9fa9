package tracing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Database span attributes
const (
	DBSystemKey    = attribute.Key("db.system")
	DBStatementKey = attribute.Key("db.statement")
	DBOperationKey = attribute.Key("db.operation")
)

// Redis span attributes
const (
	RedisCommandKey = attribute.Key("redis.command")
	RedisKeyKey     = attribute.Key("redis.key")
)

// Dispatch span attributes
const (
	RequestIDKey         = attribute.Key("request.id")
	RiderIDKey           = attribute.Key("rider.id")
	DriverIDKey          = attribute.Key("driver.id")
	CandidateSeqKey      = attribute.Key("candidate.seq")
	RouteSecondsKey      = attribute.Key("route.duration_seconds")
	LocationLatitudeKey  = attribute.Key("location.latitude")
	LocationLongitudeKey = attribute.Key("location.longitude")
)

// finish records the outcome of the traced call on span.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// TraceDBQuery runs fn inside a client span named db.<operation>,
// tagged with the SQL text.
func TraceDBQuery(ctx context.Context, tracerName, operation, query string, fn func() error) error {
	_, span := StartSpan(ctx, tracerName, fmt.Sprintf("db.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		DBSystemKey.String("postgresql"),
		DBOperationKey.String(operation),
		DBStatementKey.String(query),
	)

	err := fn()
	finish(span, err)
	return err
}

// TraceRedisCommand runs fn inside a client span named
// redis.<command>. A redis.Nil result is a cache miss, not a failure,
// and leaves the span status Ok; the sentinel is still returned
// unchanged so callers can branch on it.
func TraceRedisCommand(ctx context.Context, tracerName, command, key string, fn func() error) error {
	_, span := StartSpan(ctx, tracerName, fmt.Sprintf("redis.%s", command),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "redis"),
		RedisCommandKey.String(command),
		RedisKeyKey.String(key),
	)

	err := fn()
	if err == redis.Nil {
		span.SetStatus(codes.Ok, "")
		return err
	}
	finish(span, err)
	return err
}

// TraceBusinessLogic runs fn inside an internal span and records its
// wall-clock duration as an attribute.
func TraceBusinessLogic(ctx context.Context, tracerName, operation string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, operation,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("duration_ms", time.Since(start).Milliseconds()))

	finish(span, err)
	return err
}

// TraceExternalAPI runs fn inside a client span named
// <service>.<operation> for calls that leave the process.
func TraceExternalAPI(ctx context.Context, tracerName, serviceName, operation string, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, tracerName, fmt.Sprintf("%s.%s", serviceName, operation),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("external.service", serviceName),
		attribute.String("external.operation", operation),
	)

	err := fn(ctx)
	finish(span, err)
	return err
}

// RequestAttributes builds the standard attribute set for a ride request span.
func RequestAttributes(requestID int64, riderID, driverID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if requestID > 0 {
		attrs = append(attrs, RequestIDKey.String(strconv.FormatInt(requestID, 10)))
	}
	if riderID != "" {
		attrs = append(attrs, RiderIDKey.String(riderID))
	}
	if driverID != "" {
		attrs = append(attrs, DriverIDKey.String(driverID))
	}
	return attrs
}

// LocationAttributes builds coordinate attributes for a span.
func LocationAttributes(latitude, longitude float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		LocationLatitudeKey.Float64(latitude),
		LocationLongitudeKey.Float64(longitude),
	}
}
