package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/streambridge/internal/abi"
	"example.com/streambridge/internal/stream"
	"example.com/streambridge/internal/testutil"
)

func newTestStream(t *testing.T, rec *testutil.Recorder) *stream.Stream {
	t.Helper()
	s, err := stream.New(1, rec.Callbacks(nil), stream.Options{})
	require.NoError(t, err)
	return s
}

func response(status int, body io.ReadCloser) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       body,
	}
}

func TestHTTPResponseSource_ChunkedBody(t *testing.T) {
	before := abi.Outstanding()
	rec := testutil.NewRecorder()
	s := newTestStream(t, rec)

	resp := response(200, io.NopCloser(strings.NewReader("hello world!")))
	resp.ContentLength = 12
	src := HTTPResponseSource{ChunkSize: 5, AttemptCount: abi.AttemptCountNotApplicable}
	err := src.Run(context.Background(), s, resp)
	require.NoError(t, err)
	rec.Wait(t, time.Second)
	<-s.Done()

	assert.Equal(t, "headers data data data+end complete", rec.Sequence())
	assert.Equal(t, "hello world!", string(rec.Body()))
	first := rec.Records()[0]
	require.NotEmpty(t, first.Fields)
	assert.Equal(t, ":status", first.Fields[0].Name)
	assert.Equal(t, "200", first.Fields[0].Value)
	assert.Equal(t, before, abi.Outstanding())
}

func TestHTTPResponseSource_UnknownLengthEndsWithEmptyChunk(t *testing.T) {
	rec := testutil.NewRecorder()
	s := newTestStream(t, rec)

	resp := response(200, io.NopCloser(strings.NewReader("hello")))
	resp.ContentLength = -1
	require.NoError(t, HTTPResponseSource{}.Run(context.Background(), s, resp))
	rec.Wait(t, time.Second)
	assert.Equal(t, "headers data data+end complete", rec.Sequence())
	assert.Equal(t, "hello", string(rec.Body()))
}

func TestHTTPResponseSource_NoBody(t *testing.T) {
	rec := testutil.NewRecorder()
	s := newTestStream(t, rec)

	require.NoError(t, HTTPResponseSource{}.Run(context.Background(), s, response(204, http.NoBody)))
	rec.Wait(t, time.Second)
	assert.Equal(t, "headers+end complete", rec.Sequence())
}

func TestHTTPResponseSource_EmptyBody(t *testing.T) {
	rec := testutil.NewRecorder()
	s := newTestStream(t, rec)

	require.NoError(t, HTTPResponseSource{}.Run(context.Background(), s, response(200, io.NopCloser(strings.NewReader("")))))
	rec.Wait(t, time.Second)
	assert.Equal(t, "headers data+end complete", rec.Sequence())
	assert.Empty(t, rec.Body())
}

func TestHTTPResponseSource_Trailers(t *testing.T) {
	rec := testutil.NewRecorder()
	s := newTestStream(t, rec)

	resp := response(200, io.NopCloser(strings.NewReader("payload")))
	resp.Trailer = http.Header{"X-Checksum": {"abc"}, "X-Announced-Only": nil}
	require.NoError(t, HTTPResponseSource{}.Run(context.Background(), s, resp))
	rec.Wait(t, time.Second)

	assert.Equal(t, "headers data trailers complete", rec.Sequence())
	recs := rec.Records()
	trailers := recs[2].Fields
	require.Len(t, trailers, 1)
	assert.Equal(t, "x-checksum", trailers[0].Name)
	assert.Equal(t, "abc", trailers[0].Value)
}

func TestHTTPResponseSource_ReadFailure(t *testing.T) {
	before := abi.Outstanding()
	rec := testutil.NewRecorder()
	s := newTestStream(t, rec)

	body := io.NopCloser(io.MultiReader(strings.NewReader("abc"), iotest.ErrReader(errors.New("connection reset"))))
	err := HTTPResponseSource{AttemptCount: 2}.Run(context.Background(), s, response(200, body))
	assert.ErrorIs(t, err, ErrUpstreamFailed)
	assert.ErrorContains(t, err, "connection reset")
	rec.Wait(t, time.Second)
	<-s.Done()

	assert.Equal(t, "headers data error", rec.Sequence())
	last := rec.Records()[2]
	assert.Equal(t, abi.ErrorCodeConnectionFailure, last.ErrorCode)
	assert.Equal(t, int32(2), last.AttemptCount)
	assert.Contains(t, last.ErrorMessage, "connection reset")
	assert.Equal(t, stream.Errored{Code: abi.ErrorCodeConnectionFailure, AttemptCount: 2}, s.Outcome())
	assert.Equal(t, before, abi.Outstanding())
}

func TestHTTPResponseSource_ContextCancel(t *testing.T) {
	rec := testutil.NewRecorder()
	s := newTestStream(t, rec)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	rec.Hook = func(r testutil.Record) {
		if r.Event == "headers" {
			cancel()
		}
	}
	err := HTTPResponseSource{}.Run(ctx, s, response(200, pr))
	assert.ErrorIs(t, err, context.Canceled)
	rec.Wait(t, time.Second)
	assert.Equal(t, "headers cancel", rec.Sequence())
}

func TestHTTPResponseSource_ConsumerCancels(t *testing.T) {
	before := abi.Outstanding()
	rec := testutil.NewRecorder()
	var s *stream.Stream
	cancelled := make(chan struct{})
	rec.Hook = func(r testutil.Record) {
		if r.Event == "headers" {
			s.Cancel()
			close(cancelled)
		}
	}
	s = newTestStream(t, rec)

	pr, pw := io.Pipe()
	go func() {
		<-cancelled
		pw.Write([]byte("late"))
		pw.Close()
	}()

	err := HTTPResponseSource{}.Run(context.Background(), s, response(200, pr))
	assert.ErrorIs(t, err, stream.ErrStreamClosed)
	rec.Wait(t, time.Second)
	<-s.Done()
	assert.Equal(t, "headers cancel", rec.Sequence())
	assert.Equal(t, before, abi.Outstanding(), "rejected chunk must be released")
}

func TestHTTPResponseSource_LiveServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Trailer", "X-Digest")
		w.Header().Set("X-Request", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 3; i++ {
			io.WriteString(w, "chunk-")
			w.(http.Flusher).Flush()
		}
		w.Header().Set("X-Digest", "d41d8")
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/things")
	require.NoError(t, err)

	rec := testutil.NewRecorder()
	s := newTestStream(t, rec)
	require.NoError(t, HTTPResponseSource{ChunkSize: 4}.Run(context.Background(), s, resp))
	rec.Wait(t, time.Second)

	seq := rec.Sequence()
	assert.True(t, testutil.LegalSequence(seq), seq)
	assert.True(t, strings.HasSuffix(seq, "trailers complete"), seq)
	assert.Equal(t, "chunk-chunk-chunk-", string(rec.Body()))
	for _, r := range rec.Records() {
		assert.LessOrEqual(t, len(r.Data), 4)
	}
	headers := abi.HeadersFromFields(rec.Records()[0].Fields)
	defer headers.Release()
	v, ok := headers.Get("x-request")
	assert.True(t, ok)
	assert.Equal(t, "/things", v)
}
