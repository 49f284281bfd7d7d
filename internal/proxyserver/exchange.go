// Package proxyserver implements the CONNECT-capable forward proxy: the
// front door (spec.md §4.5), the MITM tunnel (§4.6), and the exchange
// recorder (§4.7).
//
// Grounded on Wowfunhappy-AquaProxy/AquaProxy.go for the overall shape
// of a hijack-and-relay forward proxy (serveConnect/serveMITM/copyData)
// and on original_source/src/proxy_server.rs for the request/response
// correlation and logging sequencing this port must reproduce exactly.
package proxyserver

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/datawizz/local-logger/internal/record"
)

// bodyCapture tees up to maxSize bytes of a stream into an in-memory
// buffer while the full stream continues to the peer at line rate, per
// spec.md §4.6's body capture policy and §5's backpressure rule: the
// tee branch is severed once the cap is reached, never buffering past it.
type bodyCapture struct {
	maxSize   int64
	buf       bytes.Buffer
	total     int64
	truncated bool
	enabled   bool
}

func newBodyCapture(enabled bool, maxSize int64) *bodyCapture {
	return &bodyCapture{enabled: enabled, maxSize: maxSize}
}

// Write implements io.Writer so bodyCapture can be used as the second
// argument to io.MultiWriter/io.TeeReader alongside the real destination.
func (c *bodyCapture) Write(p []byte) (int, error) {
	c.total += int64(len(p))
	if !c.enabled {
		return len(p), nil
	}
	if c.truncated {
		return len(p), nil
	}
	room := c.maxSize - int64(c.buf.Len())
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

// toBodyData renders the captured bytes per spec.md §4.6: null if
// capture was disabled, else UTF-8 text if valid, else base64. size is
// the true byte count seen on the wire regardless of capture state;
// storedSize is how much of that made it into body.
func (c *bodyCapture) toBodyData() (body *string, encoding string, truncated bool, size, storedSize int64) {
	if !c.enabled {
		return nil, "", false, c.total, 0
	}
	data := c.buf.Bytes()
	storedSize = int64(len(data))
	if utf8.Valid(data) {
		s := string(data)
		return &s, "utf-8", c.truncated, c.total, storedSize
	}
	s := base64.StdEncoding.EncodeToString(data)
	return &s, "base64", c.truncated, c.total, storedSize
}

// Exchange is the in-memory record of one HTTP request/response pair,
// owned by the tunnel task that creates it (spec.md §3 "Ownership").
type Exchange struct {
	SessionID string
	Method    string
	URI       string

	StartedAt time.Time

	RequestHeaders  http.Header
	RequestCapture  *bodyCapture
	ResponseStatus  int
	ResponseHeaders http.Header
	ResponseCapture *bodyCapture
}

// NewExchange creates an Exchange with a fresh v4 UUID session id, per
// spec.md §4.6's session id rule.
func NewExchange(method, uri string, headers http.Header, includeBodies bool, maxBodySize int64) *Exchange {
	return &Exchange{
		SessionID:      uuid.NewString(),
		Method:         method,
		URI:            uri,
		StartedAt:      time.Now(),
		RequestHeaders: headers,
		RequestCapture: newBodyCapture(includeBodies, maxBodySize),
	}
}

// requestEvent builds the ProxyEvent for the request half.
func (e *Exchange) requestEvent() *record.ProxyEvent {
	body, encoding, truncated, size, storedSize := e.RequestCapture.toBodyData()
	return &record.ProxyEvent{
		Method:           e.Method,
		URI:              e.URI,
		Headers:          record.RedactHeaders(e.RequestHeaders),
		Body:             body,
		Encoding:         encoding,
		Truncated:        truncated,
		OriginalEncoding: e.RequestHeaders.Get("Content-Encoding"),
		ContentType:      e.RequestHeaders.Get("Content-Type"),
		SizeBytes:        size,
		StoredSizeBytes:  storedSize,
		UrlComponents:    urlComponents(e.URI),
	}
}

// urlComponents derives the supplemental breakdown described in
// record.UrlComponents from the exchange's already-built absolute URI, or
// nil if the URI does not parse (never expected in practice, since the
// engine constructs it from a parsed request).
func urlComponents(rawURI string) *record.UrlComponents {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil
	}

	port := 0
	if p := u.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}

	query := map[string]string{}
	for k, v := range u.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	return &record.UrlComponents{
		Scheme:      u.Scheme,
		Host:        u.Hostname(),
		Port:        port,
		Path:        u.Path,
		QueryParams: query,
	}
}

// responseEvent builds the ProxyEvent for the response half. errReason,
// when non-empty, is a terminal failure reason per spec.md §4.6's state
// machine and §7's error taxonomy.
func (e *Exchange) responseEvent(errReason string) *record.ProxyEvent {
	var body *string
	var encoding string
	var truncated bool
	var size, storedSize int64
	if e.ResponseCapture != nil {
		body, encoding, truncated, size, storedSize = e.ResponseCapture.toBodyData()
	}
	return &record.ProxyEvent{
		Status:           e.ResponseStatus,
		Headers:          record.RedactHeaders(e.ResponseHeaders),
		Body:             body,
		Encoding:         encoding,
		Truncated:        truncated,
		OriginalEncoding: e.ResponseHeaders.Get("Content-Encoding"),
		ContentType:      e.ResponseHeaders.Get("Content-Type"),
		SizeBytes:        size,
		StoredSizeBytes:  storedSize,
		Error:            errReason,
	}
}
