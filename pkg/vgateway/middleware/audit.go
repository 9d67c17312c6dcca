package middleware

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/stacklok/vgateway/pkg/vgerrors"
	"github.com/stacklok/vgateway/pkg/vglog"
)

// Event is the structured record emitted by the Audit layer, shaped per
// spec.md §4.5.2: {timestamp, event_id, source, target, outcome}.
type Event struct {
	Timestamp time.Time
	EventID   string
	Source    string
	Target    Target
	Outcome   Outcome
}

// Target names what a request was aimed at.
type Target struct {
	Backend      string
	Method       string
	Capability   string
	OriginalName string
}

// Outcome status values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Outcome is the result of dispatching a request.
type Outcome struct {
	Status    string
	LatencyMS int64
	Error     string
	ErrorType string
}

// Sink receives completed audit events. Production wiring logs via vglog;
// tests can substitute a recording Sink.
type Sink interface {
	Record(Event)
}

// LogSink writes audit events to the scoped structured logger.
type LogSink struct{}

// Record logs one audit event: at warn level for an error outcome, at
// info level otherwise.
func (LogSink) Record(e Event) {
	log := vglog.Scoped("audit", "event_id", e.EventID)
	if e.Outcome.Status == OutcomeError {
		log.Warnw("request completed", "target", e.Target, "outcome", e.Outcome)
		return
	}
	log.Infow("request completed", "target", e.Target, "outcome", e.Outcome)
}

// AuditLayer records request start/end and emits a structured Event to sink.
func AuditLayer(sink Sink) Handler {
	return func(ctx *Context, next Next) {
		start := time.Now()
		next(ctx)
		ctx.MarkElapsed()

		outcome := Outcome{Status: OutcomeSuccess, LatencyMS: time.Since(start).Milliseconds()}
		if ctx.Error != nil {
			outcome.Status = OutcomeError
			outcome.Error = ctx.Error.Error()
			outcome.ErrorType = errorType(ctx.Error)
		}

		sink.Record(Event{
			Timestamp: start,
			EventID:   uuid.NewString(),
			Source:    sourceOf(ctx),
			Target: Target{
				Backend:      ctx.ServerName,
				Method:       ctx.MCPMethod,
				Capability:   ctx.CapabilityName,
				OriginalName: ctx.OriginalName,
			},
			Outcome: outcome,
		})
	}
}

func sourceOf(ctx *Context) string {
	if ctx.Identity != nil {
		return ctx.Identity.Subject
	}
	return "anonymous"
}

func errorType(err error) string {
	var vgErr *vgerrors.Error
	if errors.As(err, &vgErr) {
		return vgErr.Type
	}
	return "unknown"
}

// ExtractJSONRPCMethod pulls the "method" and the target capability
// (params.name for tools/call and prompts/get, params.uri for
// resources/read) out of a raw JSON-RPC request body without a full
// unmarshal, for callers that only have the raw body on hand (unlike the
// in-process Context, which already carries MCPMethod/CapabilityName
// structured).
func ExtractJSONRPCMethod(raw []byte) (method, capability string) {
	result := gjson.ParseBytes(raw)
	method = result.Get("method").String()
	switch method {
	case "tools/call", "prompts/get":
		capability = result.Get("params.name").String()
	case "resources/read":
		capability = result.Get("params.uri").String()
	}
	return method, capability
}
