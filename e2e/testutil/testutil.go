package testutil

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/http2/hpack"
)

// StartTLSUpstream starts an HTTPS upstream that negotiates HTTP/2 via ALPN.
// The server is closed when the test ends; use its Client() to reach it.
func StartTLSUpstream(t testing.TB, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(h)
	srv.EnableHTTP2 = true
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

// StartH2CUpstream starts a cleartext upstream that accepts HTTP/2 with prior knowledge.
func StartH2CUpstream(t testing.TB, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h2c.NewHandler(h, &http2.Server{}))
	t.Cleanup(srv.Close)
	return srv
}

// H2CRequest opens a prior-knowledge HTTP/2 connection to srv and sends a GET
// for path on stream 1. The returned conn yields the server's frames; the
// client preface and SETTINGS have already been written.
func H2CRequest(t testing.TB, srv *httptest.Server, path string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Listener.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dialing upstream: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.Write([]byte(http2.ClientPreface)); err != nil {
		t.Fatalf("writing client preface: %v", err)
	}
	fr := http2.NewFramer(conn, nil)
	if err := fr.WriteSettings(); err != nil {
		t.Fatalf("writing SETTINGS: %v", err)
	}

	var block bytes.Buffer
	enc := hpack.NewEncoder(&block)
	for _, f := range []hpack.HeaderField{
		{Name: ":method", Value: http.MethodGet},
		{Name: ":scheme", Value: "http"},
		{Name: ":authority", Value: srv.Listener.Addr().String()},
		{Name: ":path", Value: path},
	} {
		if err := enc.WriteField(f); err != nil {
			t.Fatalf("encoding %s: %v", f.Name, err)
		}
	}
	if err := fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: block.Bytes(),
		EndStream:     true,
		EndHeaders:    true,
	}); err != nil {
		t.Fatalf("writing request HEADERS: %v", err)
	}
	return conn
}
