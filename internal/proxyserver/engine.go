package proxyserver

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// errForbiddenHost is returned by a dial func to signal that the target
// host is not on the allow-list, so the engine can answer 403 instead of
// 502 (spec.md §4.5's plain-forward-proxy path).
var errForbiddenHost = errors.New("proxyserver: host not allowed")

// engine runs the per-connection HTTP loop shared by the plain
// absolute-form path (spec.md §4.5) and the decrypted MITM path
// (spec.md §4.6): read one request, forward it upstream (tee-capturing
// the body), read the response, forward it back (tee-capturing the
// body), emit the paired log records, repeat while the connection is
// kept alive.
//
// Grounded on Wowfunhappy-AquaProxy/AquaProxy.go's handleMITMWithLogging,
// generalized to also dial per-request for the plain forward-proxy path.
type engine struct {
	clientConn net.Conn
	scheme     string // "http" or "https", used to build the recorded URI
	dial       func(hostPort string) (net.Conn, error)
	recorder   *Recorder
	logger     *slog.Logger

	includeBodies bool
	maxBodySize   int64
	idleTimeout   time.Duration

	// requireHost, when set, forces every request onto this host:port
	// regardless of the request line (the MITM path: the CONNECT target
	// is the only reachable upstream on this connection).
	requireHost string
}

// run drives the request loop. clientReader must already be reading from
// e.clientConn; if first is non-nil it is served before any further read
// from clientReader, so a request consumed while probing for CONNECT vs.
// plain HTTP is never lost.
func (e *engine) run(clientReader *bufio.Reader, first *http.Request) {
	var upstream net.Conn
	var upstreamReader *bufio.Reader
	defer func() {
		if upstream != nil {
			upstream.Close()
		}
	}()

	req := first
	for {
		var err error
		if req == nil {
			if e.idleTimeout > 0 {
				e.clientConn.SetReadDeadline(time.Now().Add(e.idleTimeout))
			}
			req, err = http.ReadRequest(clientReader)
			if err != nil {
				return
			}
		}

		hostPort := e.requireHost
		if hostPort == "" {
			hostPort = req.Host
			if hostPort == "" {
				hostPort = req.URL.Host
			}
		}
		if hostPort == "" {
			writeSimpleResponse(e.clientConn, http.StatusBadRequest, "missing host")
			io.Copy(io.Discard, req.Body)
			return
		}

		if upstream == nil {
			upstream, err = e.dial(hostPort)
			if err != nil {
				e.logger.Debug("dial upstream failed", "host", hostPort, "error", err)
				if errors.Is(err, errForbiddenHost) {
					writeSimpleResponse(e.clientConn, http.StatusForbidden, "host not allowed")
					io.Copy(io.Discard, req.Body)
					return
				}
				e.recordDialFailure(req, hostPort, err)
				return
			}
			upstreamReader = bufio.NewReader(upstream)
		}

		keepGoing, broken := e.serveOne(req, hostPort, upstream, upstreamReader)
		req = nil
		if !keepGoing || broken {
			return
		}
	}
}

// buildURI reconstructs the absolute URI recorded for req, the same way
// regardless of whether the request ever reaches upstream.
func (e *engine) buildURI(hostPort string, req *http.Request) string {
	return e.scheme + "://" + strings.TrimSuffix(hostPort, defaultPortSuffix(e.scheme)) + req.URL.RequestURI()
}

// recordDialFailure emits the request/response record pair for a request
// that never reached upstream because dialing it failed, per spec.md §4.6
// ("RequestRecordEmitted is not conditional on upstream success") and §7's
// upstream_tls/upstream_closed terminal states. The client still gets a
// synthesized 502.
func (e *engine) recordDialFailure(req *http.Request, hostPort string, dialErr error) {
	uri := e.buildURI(hostPort, req)
	xchg := NewExchange(req.Method, uri, req.Header.Clone(), e.includeBodies, e.maxBodySize)

	if req.Body != nil {
		io.Copy(xchg.RequestCapture, req.Body)
		req.Body.Close()
	}
	e.recorder.EmitRequest(xchg)

	reason := "upstream_closed"
	if e.scheme == "https" {
		reason = classifyDialError(dialErr)
	}
	e.recorder.EmitResponse(xchg, reason)

	writeSimpleResponse(e.clientConn, http.StatusBadGateway, "upstream connect failed")
}

// classifyDialError distinguishes a TLS certificate validation failure
// (spec.md §7 "upstream_tls") from a plain connection failure
// ("upstream_closed"); only meaningful for the MITM path, where dialing
// upstream itself does a TLS handshake.
func classifyDialError(err error) string {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return "upstream_tls"
	}
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthErr) {
		return "upstream_tls"
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return "upstream_tls"
	}
	var certInvalidErr x509.CertificateInvalidError
	if errors.As(err, &certInvalidErr) {
		return "upstream_tls"
	}
	return "upstream_closed"
}

// serveOne forwards one request/response pair over the given upstream
// connection and returns whether the loop should continue (keep-alive)
// and whether the upstream connection is no longer usable.
func (e *engine) serveOne(req *http.Request, hostPort string, upstream net.Conn, upstreamReader *bufio.Reader) (keepGoing bool, upstreamBroken bool) {
	uri := e.buildURI(hostPort, req)

	xchg := NewExchange(req.Method, uri, req.Header.Clone(), e.includeBodies, e.maxBodySize)

	stripHopByHop(req.Header)
	req.RequestURI = ""
	req.URL.Scheme = e.scheme
	req.URL.Host = hostPort

	reqBody := req.Body
	if reqBody == nil {
		reqBody = http.NoBody
	}
	req.Body = io.NopCloser(io.TeeReader(reqBody, xchg.RequestCapture))

	if err := req.Write(upstream); err != nil {
		e.logger.Debug("upstream write failed", "session_id", xchg.SessionID, "error", err)
		e.recorder.EmitRequest(xchg)
		e.recorder.EmitResponse(xchg, "upstream_closed")
		return false, true
	}
	e.recorder.EmitRequest(xchg)

	if e.idleTimeout > 0 {
		upstream.SetReadDeadline(time.Now().Add(e.idleTimeout))
	}
	resp, err := http.ReadResponse(upstreamReader, req)
	if err != nil {
		e.logger.Debug("upstream read failed", "session_id", xchg.SessionID, "error", err)
		e.recorder.EmitResponse(xchg, "upstream_closed")
		return false, true
	}

	xchg.ResponseStatus = resp.StatusCode
	xchg.ResponseHeaders = resp.Header.Clone()
	xchg.ResponseCapture = newBodyCapture(e.includeBodies, e.maxBodySize)

	stripHopByHop(resp.Header)

	respBody := resp.Body
	if respBody == nil {
		respBody = http.NoBody
	}
	resp.Body = io.NopCloser(io.TeeReader(respBody, xchg.ResponseCapture))

	writeErr := resp.Write(e.clientConn)
	resp.Body.Close()
	if writeErr != nil {
		e.logger.Debug("client write failed", "session_id", xchg.SessionID, "error", writeErr)
		e.recorder.EmitResponse(xchg, "client_closed")
		return false, false
	}

	e.recorder.EmitResponse(xchg, "")

	if req.Close || resp.Close {
		return false, false
	}
	return true, false
}

func defaultPortSuffix(scheme string) string {
	if scheme == "https" {
		return ":443"
	}
	return ":80"
}

func writeSimpleResponse(w io.Writer, status int, body string) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
}
