package proxyserver

import (
	"time"

	"github.com/datawizz/local-logger/internal/logsink"
	"github.com/datawizz/local-logger/internal/record"
)

// Recorder is pure glue formatting an Exchange into unified log records
// and calling the sink, per spec.md §4.7. It guarantees request-before-
// response ordering for a given exchange by never being called for the
// response half until the request half's call has returned.
type Recorder struct {
	sink *logsink.Sink
}

// NewRecorder returns a Recorder writing through sink.
func NewRecorder(sink *logsink.Sink) *Recorder {
	return &Recorder{sink: sink}
}

// EmitRequest appends the request record. Per spec.md §4.6's state
// machine, this happens as soon as headers and body (or truncation) are
// known, independent of upstream success.
func (r *Recorder) EmitRequest(e *Exchange) {
	rec := record.NewProxy(time.Now(), e.SessionID, record.DirectionRequest, e.requestEvent())
	r.sink.Append(rec)
}

// EmitResponse appends the response record. errReason is a terminal
// failure reason (spec.md §7) or "" for a normal completion.
func (r *Recorder) EmitResponse(e *Exchange, errReason string) {
	rec := record.NewProxy(time.Now(), e.SessionID, record.DirectionResponse, e.responseEvent(errReason))
	r.sink.Append(rec)
}
