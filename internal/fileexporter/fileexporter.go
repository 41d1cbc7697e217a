// Package fileexporter implements a demo-grade span exporter that
// serializes each exported batch to a JSON Lines file in an
// OTLP-flavored shape: one JSON object per ExportSpans call, with spans
// grouped by trace so a batch drained from many concurrent producers
// reads as a set of distinct traces rather than one flat list.
package fileexporter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JSGette/spanbatch/internal/spanbatch"
)

// Exporter writes each batch handed to it by the batch processor as one
// JSON Lines record, in OTLP resourceSpans shape.
type Exporter struct {
	serviceName string

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool
}

var _ spanbatch.SpanExporter = (*Exporter)(nil)

// New creates an Exporter that appends to the file at path, creating it
// if necessary.
func New(path, serviceName string) (*Exporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fileexporter: opening %s: %w", path, err)
	}
	if serviceName == "" {
		serviceName = "spanbatch-demo"
	}
	return &Exporter{
		serviceName: serviceName,
		file:        file,
		writer:      bufio.NewWriter(file),
	}, nil
}

// OTLP JSON structures for one batch's worth of resourceSpans.
type otlpTrace struct {
	ResourceSpans []otlpResourceSpan `json:"resourceSpans"`
}

type otlpResourceSpan struct {
	Resource   otlpResource    `json:"resource"`
	ScopeSpans []otlpScopeSpan `json:"scopeSpans"`
}

type otlpResource struct {
	Attributes []otlpAttribute `json:"attributes"`
}

type otlpScopeSpan struct {
	Scope otlpScope  `json:"scope"`
	Spans []otlpSpan `json:"spans"`
}

type otlpScope struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type otlpSpan struct {
	TraceID           string          `json:"traceId"`
	SpanID            string          `json:"spanId"`
	ParentSpanID      string          `json:"parentSpanId,omitempty"`
	Name              string          `json:"name"`
	Kind              int             `json:"kind"`
	StartTimeUnixNano string          `json:"startTimeUnixNano"`
	EndTimeUnixNano   string          `json:"endTimeUnixNano"`
	Attributes        []otlpAttribute `json:"attributes,omitempty"`
	Status            otlpStatus      `json:"status"`
}

type otlpAttribute struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

type otlpValue struct {
	StringValue *string         `json:"stringValue,omitempty"`
	IntValue    *int64          `json:"intValue,omitempty"`
	DoubleValue *float64        `json:"doubleValue,omitempty"`
	BoolValue   *bool           `json:"boolValue,omitempty"`
	ArrayValue  *otlpArrayValue `json:"arrayValue,omitempty"`
}

type otlpArrayValue struct {
	Values []otlpValue `json:"values"`
}

type otlpStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// MakeRecordable returns an empty span stub to satisfy the exporter
// factory obligation; nothing in this exporter reads it back.
func (e *Exporter) MakeRecordable() spanbatch.Recordable {
	return tracetest.SpanStub{}.Snapshot()
}

// ExportSpans writes batch as a single JSON line and flushes it.
func (e *Exporter) ExportSpans(_ context.Context, batch []spanbatch.Recordable) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("fileexporter: exporter is shut down")
	}

	doc := otlpTrace{
		ResourceSpans: []otlpResourceSpan{
			{
				Resource: otlpResource{
					Attributes: []otlpAttribute{
						{Key: "service.name", Value: otlpValue{StringValue: stringPtr(e.serviceName)}},
					},
				},
				ScopeSpans: groupSpansByTrace(batch),
			},
		},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("fileexporter: marshaling batch: %w", err)
	}
	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("fileexporter: writing batch: %w", err)
	}
	if _, err := e.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("fileexporter: writing newline: %w", err)
	}
	return e.writer.Flush()
}

// Shutdown flushes and closes the underlying file exactly once.
func (e *Exporter) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.writer.Flush(); err != nil {
		return err
	}
	return e.file.Close()
}

// groupSpansByTrace splits batch into one otlpScopeSpan per distinct
// trace, in the order each trace first appears. A single batch can carry
// spans from many concurrently running traces, since the processor drains
// whatever producers happened to finish spans in the same cycle; grouping
// by trace keeps each trace's spans together in the emitted document
// instead of interleaving them as one flat list.
func groupSpansByTrace(batch []spanbatch.Recordable) []otlpScopeSpan {
	order := make([]string, 0, len(batch))
	spansByTrace := make(map[string][]otlpSpan, len(batch))

	for _, rec := range batch {
		traceID := rec.SpanContext().TraceID().String()
		if _, seen := spansByTrace[traceID]; !seen {
			order = append(order, traceID)
		}
		spansByTrace[traceID] = append(spansByTrace[traceID], convertSpanToOTLP(rec))
	}

	scopeSpans := make([]otlpScopeSpan, 0, len(order))
	for _, traceID := range order {
		scopeSpans = append(scopeSpans, otlpScopeSpan{
			Scope: otlpScope{Name: "spanbatch", Version: "1.0"},
			Spans: spansByTrace[traceID],
		})
	}
	return scopeSpans
}

func convertSpanToOTLP(span spanbatch.Recordable) otlpSpan {
	otlp := otlpSpan{
		TraceID:           span.SpanContext().TraceID().String(),
		SpanID:            span.SpanContext().SpanID().String(),
		Name:              span.Name(),
		Kind:              int(span.SpanKind()),
		StartTimeUnixNano: timeToNano(span.StartTime()),
		EndTimeUnixNano:   timeToNano(span.EndTime()),
		Attributes:        convertAttributesToOTLP(span.Attributes()),
		Status:            convertStatusToOTLP(span.Status()),
	}
	if span.Parent().HasSpanID() {
		otlp.ParentSpanID = span.Parent().SpanID().String()
	}
	return otlp
}

func convertAttributesToOTLP(attrs []attribute.KeyValue) []otlpAttribute {
	result := make([]otlpAttribute, 0, len(attrs))
	for _, attr := range attrs {
		result = append(result, otlpAttribute{
			Key:   string(attr.Key),
			Value: convertValueToOTLP(attr.Value),
		})
	}
	return result
}

func convertValueToOTLP(v attribute.Value) otlpValue {
	switch v.Type() {
	case attribute.BOOL:
		val := v.AsBool()
		return otlpValue{BoolValue: &val}
	case attribute.INT64:
		val := v.AsInt64()
		return otlpValue{IntValue: &val}
	case attribute.FLOAT64:
		val := v.AsFloat64()
		return otlpValue{DoubleValue: &val}
	case attribute.STRING:
		val := v.AsString()
		return otlpValue{StringValue: &val}
	case attribute.BOOLSLICE:
		vals := v.AsBoolSlice()
		arrayVals := make([]otlpValue, len(vals))
		for i, bv := range vals {
			arrayVals[i] = otlpValue{BoolValue: &bv}
		}
		return otlpValue{ArrayValue: &otlpArrayValue{Values: arrayVals}}
	case attribute.INT64SLICE:
		vals := v.AsInt64Slice()
		arrayVals := make([]otlpValue, len(vals))
		for i, iv := range vals {
			arrayVals[i] = otlpValue{IntValue: &iv}
		}
		return otlpValue{ArrayValue: &otlpArrayValue{Values: arrayVals}}
	case attribute.FLOAT64SLICE:
		vals := v.AsFloat64Slice()
		arrayVals := make([]otlpValue, len(vals))
		for i, fv := range vals {
			arrayVals[i] = otlpValue{DoubleValue: &fv}
		}
		return otlpValue{ArrayValue: &otlpArrayValue{Values: arrayVals}}
	case attribute.STRINGSLICE:
		vals := v.AsStringSlice()
		arrayVals := make([]otlpValue, len(vals))
		for i, sv := range vals {
			arrayVals[i] = otlpValue{StringValue: &sv}
		}
		return otlpValue{ArrayValue: &otlpArrayValue{Values: arrayVals}}
	default:
		val := v.AsString()
		return otlpValue{StringValue: &val}
	}
}

func convertStatusToOTLP(status sdktrace.Status) otlpStatus {
	// OTLP status codes: 0 = Unset, 1 = Ok, 2 = Error.
	// Go SDK codes.Code: 0 = Unset, 1 = Error, 2 = Ok.
	code := 0
	switch status.Code {
	case 1:
		code = 2
	case 2:
		code = 1
	}
	return otlpStatus{Code: code, Message: status.Description}
}

func timeToNano(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixNano())
}

func stringPtr(s string) *string {
	return &s
}
