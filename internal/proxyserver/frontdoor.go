package proxyserver

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/datawizz/local-logger/internal/leaf"
	"github.com/datawizz/local-logger/internal/record"
)

// Options configures a FrontDoor, mirroring the spec.md §4.8 fields the
// proxy actually consumes.
type Options struct {
	ListenAddr    string
	ListenPort    int
	Allow         *AllowList
	Minter        *leaf.Minter
	Recorder      *Recorder
	Logger        *slog.Logger
	IncludeBodies bool
	MaxBodySize   int64
	IdleTimeout   time.Duration
}

// FrontDoor accepts loopback TCP connections and dispatches each to the
// absolute-form or CONNECT path, per spec.md §4.5.
type FrontDoor struct {
	opts Options
	ln   net.Listener
}

// NewFrontDoor binds a listener at opts.ListenAddr:ListenPort.
func NewFrontDoor(opts Options) (*FrontDoor, error) {
	addr := net.JoinHostPort(opts.ListenAddr, strconv.Itoa(opts.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxyserver: bind %s: %w", addr, err)
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 300 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &FrontDoor{opts: opts, ln: ln}, nil
}

// Addr returns the bound address, useful for tests that bind :0.
func (f *FrontDoor) Addr() net.Addr { return f.ln.Addr() }

// Serve runs the accept loop until the listener is closed.
func (f *FrontDoor) Serve() error {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return err
		}
		if !f.opts.IsLoopbackBind() {
			f.opts.Recorder.sink.Append(record.NewSystem(time.Now(), record.LevelWarn,
				"proxy bound to a non-loopback address; interception is not authenticated"))
		}
		go f.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (f *FrontDoor) Close() error { return f.ln.Close() }

// IsLoopbackBind reports whether the front door bound a loopback address,
// per spec.md §4.5's bind-address invariant.
func (o Options) IsLoopbackBind() bool {
	ip := net.ParseIP(o.ListenAddr)
	return ip != nil && ip.IsLoopback()
}

func (f *FrontDoor) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(f.opts.IdleTimeout))
	req, err := http.ReadRequest(reader)
	if err != nil {
		return
	}
	conn.SetReadDeadline(time.Time{})

	if req.Method == http.MethodConnect {
		f.handleConnect(conn, req)
		return
	}

	f.handlePlain(conn, reader, req)
}

func (f *FrontDoor) handlePlain(conn net.Conn, reader *bufio.Reader, first *http.Request) {
	eng := &engine{
		clientConn:    conn,
		scheme:        "http",
		recorder:      f.opts.Recorder,
		logger:        f.opts.Logger,
		includeBodies: f.opts.IncludeBodies,
		maxBodySize:   f.opts.MaxBodySize,
		idleTimeout:   f.opts.IdleTimeout,
		dial: func(hostPort string) (net.Conn, error) {
			hostname, _, splitErr := net.SplitHostPort(hostPort)
			if splitErr != nil {
				hostname = hostPort
			}
			if !f.opts.Allow.Allowed(hostname) {
				return nil, errForbiddenHost
			}
			return net.DialTimeout("tcp", ensurePort(hostPort, "80"), 10*time.Second)
		},
	}
	eng.run(reader, first)
}

func (f *FrontDoor) handleConnect(conn net.Conn, req *http.Request) {
	authority := req.URL.Host
	if authority == "" {
		authority = req.Host
	}
	hostname, _, err := net.SplitHostPort(authority)
	if err != nil {
		hostname = authority
		authority = net.JoinHostPort(authority, "443")
	}

	if !f.opts.Allow.Allowed(hostname) {
		// Blind relay: no leaf minted, no records written (spec.md §8 invariant 7).
		if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
			return
		}
		f.blindRelay(conn, authority)
		return
	}

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	f.mitm(conn, hostname, authority)
}

func (f *FrontDoor) blindRelay(client net.Conn, authority string) {
	upstream, err := net.DialTimeout("tcp", authority, 10*time.Second)
	if err != nil {
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, client); done <- struct{}{} }()
	go func() { io.Copy(client, upstream); done <- struct{}{} }()
	<-done
	<-done
}

func (f *FrontDoor) mitm(client net.Conn, hostname, authority string) {
	l, err := f.opts.Minter.LeafFor(hostname)
	if err != nil {
		f.opts.Recorder.sink.Append(record.NewSystem(time.Now(), record.LevelError,
			fmt.Sprintf("leaf signing failed for %s: %v", hostname, err)))
		return
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{l.Certificate},
		NextProtos:   []string{"http/1.1"},
	}
	tlsConn := tls.Server(client, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		return
	}
	defer tlsConn.Close()

	eng := &engine{
		clientConn:    tlsConn,
		scheme:        "https",
		requireHost:   authority,
		recorder:      f.opts.Recorder,
		logger:        f.opts.Logger,
		includeBodies: f.opts.IncludeBodies,
		maxBodySize:   f.opts.MaxBodySize,
		idleTimeout:   f.opts.IdleTimeout,
		dial: func(hostPort string) (net.Conn, error) {
			return tls.Dial("tcp", ensurePort(hostPort, "443"), &tls.Config{
				ServerName: hostname,
				NextProtos: []string{"http/1.1"},
			})
		},
	}
	eng.run(bufio.NewReader(tlsConn), nil)
}

func ensurePort(hostPort, defaultPort string) string {
	if _, _, err := net.SplitHostPort(hostPort); err == nil {
		return hostPort
	}
	return net.JoinHostPort(hostPort, defaultPort)
}
