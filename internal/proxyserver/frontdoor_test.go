package proxyserver

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsurePort_AddsDefaultWhenMissing(t *testing.T) {
	assert.Equal(t, "example.test:443", ensurePort("example.test", "443"))
	assert.Equal(t, "example.test:8443", ensurePort("example.test:8443", "443"))
}

func TestOptions_IsLoopbackBind(t *testing.T) {
	assert.True(t, Options{ListenAddr: "127.0.0.1"}.IsLoopbackBind())
	assert.True(t, Options{ListenAddr: "::1"}.IsLoopbackBind())
	assert.False(t, Options{ListenAddr: "0.0.0.0"}.IsLoopbackBind())
	assert.False(t, Options{ListenAddr: "not-an-ip"}.IsLoopbackBind())
}

func TestFrontDoor_ForbiddenConnectBlindRelaysWithoutRecords(t *testing.T) {
	sink, dir := newTestSink(t)
	recorder := NewRecorder(sink)

	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		conn, err := upstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		conn.Write([]byte("world"))
	}()

	front, err := NewFrontDoor(Options{
		ListenAddr: "127.0.0.1",
		ListenPort: 0,
		Allow:      NewAllowList(nil),
		Recorder:   recorder,
		Logger:     discardLogger(),
	})
	require.NoError(t, err)
	defer front.Close()

	go front.Serve()

	conn, err := net.Dial("tcp", front.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	authority := upstream.Addr().String()
	_, err = io.WriteString(conn, "CONNECT "+authority+" HTTP/1.1\r\nHost: "+authority+"\r\n\r\n")
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "200")
	// consume the blank line terminating the CONNECT response headers.
	reader.ReadString('\n')

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	resp := make([]byte, 5)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(reader, resp)
	require.NoError(t, err)
	assert.Equal(t, "world", string(resp))

	conn.Close()
	<-upstreamDone

	assert.Empty(t, readAllRecords(t, dir), "blind relay must not write any records")
}
