// Package record defines the unified log record written by every source
// (the MCP tool server, the hook filter, and the HTTPS proxy) into the
// shared NDJSON substrate.
//
// The wire shape is a single flat envelope with a tagged-union "source"
// field, grounded on original_source/src/schema.rs (LogEntry/LogEvent)
// and, for the proxy body shapes, on the retrieval pack's own traffic
// recorders (hmgle-httpseal__traffic.go, ParleSec-ProtocolSoup__http_capture.go).
package record

import (
	"encoding/json"
	"strings"
	"time"
)

// Level is the severity/category of a record.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelHook  Level = "HOOK"
	LevelProxy Level = "PROXY"
)

// SourceType discriminates the tagged union in Source.Type.
type SourceType string

const (
	SourceMcp   SourceType = "Mcp"
	SourceHook  SourceType = "Hook"
	SourceProxy SourceType = "Proxy"
)

// Direction identifies which half of a proxy exchange a record covers.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Source is the tagged union discriminating why a record was written.
// Only the fields relevant to Type are populated; the others are the
// zero value and omitted on the wire.
type Source struct {
	Type SourceType `json:"type"`

	// Hook-only.
	EventType string `json:"event_type,omitempty"`

	// Proxy-only.
	SessionID string    `json:"session_id,omitempty"`
	Direction Direction `json:"direction,omitempty"`
}

// UrlComponents is a supplemental breakdown of a proxied request's URI,
// grounded on original_source/src/schema.rs::UrlComponents. It costs
// nothing to derive from the already-parsed request and is useful to
// the read-back tooling exposed elsewhere, so it rides along on request
// records without altering the canonical proxy_event shape from spec.md §6.
type UrlComponents struct {
	Scheme      string            `json:"scheme"`
	Host        string            `json:"host"`
	Port        int               `json:"port,omitempty"`
	Path        string            `json:"path"`
	QueryParams map[string]string `json:"query_params,omitempty"`
}

// ProxyEvent is the structured payload described in spec.md §6.
type ProxyEvent struct {
	Method  string              `json:"method,omitempty"`
	URI     string              `json:"uri,omitempty"`
	Status  int                 `json:"status,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Body    *string             `json:"body"`
	// Encoding is "utf-8" or "base64"; omitted when Body is nil.
	Encoding  string `json:"encoding,omitempty"`
	Truncated bool   `json:"truncated"`
	Error     string `json:"error,omitempty"`

	// OriginalEncoding mirrors the payload's Content-Encoding header
	// (e.g. "gzip"), when present. Distinct from Encoding, which
	// describes how Body itself is represented on the wire (utf-8 vs
	// base64), not how the underlying bytes were compressed in transit.
	OriginalEncoding string `json:"original_encoding,omitempty"`
	// ContentType mirrors the payload's Content-Type header.
	ContentType string `json:"content_type,omitempty"`
	// SizeBytes is the true size of the body as it crossed the wire,
	// even when capture was disabled or the body was truncated.
	SizeBytes int64 `json:"size_bytes"`
	// StoredSizeBytes is how many bytes actually ended up in Body,
	// which is less than SizeBytes when Truncated is true and zero
	// when capture was disabled.
	StoredSizeBytes int64 `json:"stored_size_bytes"`

	// UrlComponents is request-only, additive (see type doc above).
	UrlComponents *UrlComponents `json:"url_components,omitempty"`
}

// Record is the single shape written one per line as NDJSON.
type Record struct {
	Timestamp string          `json:"timestamp"`
	Date      string          `json:"date"`
	Level     Level           `json:"level"`
	Message   *string         `json:"message"`
	SessionID *string         `json:"session_id"`
	ToolName  *string         `json:"tool_name"`
	HookEvent json.RawMessage `json:"hook_event"`
	ProxyEvent *ProxyEvent    `json:"proxy_event"`
	Source    Source          `json:"source"`
}

// stringPtr lets call sites pass the Go zero value ("") through as JSON
// null, matching spec.md's "string or null".
func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newEnvelope(now time.Time, level Level, source Source) Record {
	return Record{
		Timestamp: now.UTC().Format(time.RFC3339),
		Date:      now.UTC().Format("2006-01-02"),
		Level:     level,
		Source:    source,
	}
}

// NewMCP builds an Mcp-sourced record.
func NewMCP(now time.Time, sessionID string, level Level, message string) Record {
	r := newEnvelope(now, level, Source{Type: SourceMcp})
	r.SessionID = stringPtr(sessionID)
	r.Message = stringPtr(message)
	return r
}

// NewHook builds a Hook-sourced record. rawEvent is preserved verbatim.
func NewHook(now time.Time, sessionID, eventType, toolName string, rawEvent json.RawMessage) Record {
	r := newEnvelope(now, LevelHook, Source{Type: SourceHook, EventType: eventType})
	r.SessionID = stringPtr(sessionID)
	r.ToolName = stringPtr(toolName)
	if len(rawEvent) > 0 {
		r.HookEvent = rawEvent
	}
	return r
}

// NewProxy builds a Proxy-sourced record for one direction of an exchange.
func NewProxy(now time.Time, sessionID string, direction Direction, event *ProxyEvent) Record {
	r := newEnvelope(now, LevelProxy, Source{
		Type:      SourceProxy,
		SessionID: sessionID,
		Direction: direction,
	})
	r.SessionID = stringPtr(sessionID)
	r.ProxyEvent = event
	return r
}

// NewSystem builds a plain INFO/WARN/ERROR record with no source-specific
// payload, used by components that need to write a diagnostic through the
// shared substrate without claiming to be Mcp/Hook/Proxy traffic (e.g. the
// front door's bind-address warning in spec.md §4.5). It reuses the Mcp
// tag since the wire schema has no bare "system" variant.
func NewSystem(now time.Time, level Level, message string) Record {
	r := newEnvelope(now, level, Source{Type: SourceMcp})
	r.Message = stringPtr(message)
	return r
}

// sensitiveHeaders mirrors original_source/src/schema.rs::SENSITIVE_HEADERS.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"api-key":             true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"x-session-token":     true,
	"proxy-authorization": true,
	"www-authenticate":    true,
	"authentication":      true,
}

// RedactHeaders returns a copy of headers with sensitive values replaced.
// Authorization keeps its scheme prefix (e.g. "Bearer") visible so a
// reader can tell what kind of credential was redacted.
func RedactHeaders(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for name, values := range headers {
		if !sensitiveHeaders[strings.ToLower(name)] {
			out[name] = values
			continue
		}
		redacted := make([]string, len(values))
		for i, v := range values {
			if strings.ToLower(name) == "authorization" {
				if idx := strings.IndexByte(v, ' '); idx > 0 {
					redacted[i] = "[REDACTED:" + v[:idx] + "]"
					continue
				}
			}
			redacted[i] = "[REDACTED]"
		}
		out[name] = redacted
	}
	return out
}

// Marshal serializes r as a single line of JSON with no trailing newline.
func Marshal(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal parses a single NDJSON line back into a Record. Used only by
// the read-back tooling exposed through the JSON-RPC surface (out of the
// core's scope), but kept here since it is pure deserialization of this
// package's own shape.
func Unmarshal(line []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(line, &r)
	return r, err
}
