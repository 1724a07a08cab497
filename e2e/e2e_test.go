package e2e

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/streambridge/e2e/testutil"
	"example.com/streambridge/internal/abi"
	"example.com/streambridge/internal/engine"
	"example.com/streambridge/internal/stream"
	rectest "example.com/streambridge/internal/testutil"
	"example.com/streambridge/internal/upstream"
)

const body = "the quick brown fox jumps over the lazy dog"

func trailerHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Trailer", "X-Checksum")
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, body)
	w.Header().Set("X-Checksum", "fox")
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(nil, abi.EngineCallbacks{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Terminate(context.Background()) })
	return eng
}

func startStream(t *testing.T, eng *engine.Engine, rec *rectest.Recorder) (abi.StreamHandle, *stream.Stream) {
	t.Helper()
	h, s, status := eng.StartStream(rec.Callbacks(nil))
	require.Equal(t, abi.StatusSuccess, status)
	return h, s
}

func TestEndToEnd_HTTP2OverTLS(t *testing.T) {
	srv := testutil.StartTLSUpstream(t, http.HandlerFunc(trailerHandler))
	eng := newEngine(t)
	rec := rectest.NewRecorder()
	_, s := startStream(t, eng, rec)

	resp, err := srv.Client().Get(srv.URL + "/fox")
	require.NoError(t, err)
	require.Equal(t, 2, resp.ProtoMajor, "upstream should negotiate HTTP/2")

	err = upstream.HTTPResponseSource{ChunkSize: 8, AttemptCount: 1}.Run(context.Background(), s, resp)
	require.NoError(t, err)
	rec.Wait(t, 5*time.Second)

	seq := rec.Sequence()
	assert.True(t, rectest.LegalSequence(seq), seq)
	assert.True(t, strings.HasSuffix(seq, "trailers complete"), seq)
	assert.Equal(t, body, string(rec.Body()))
	assert.Equal(t, stream.Completed{}, s.Outcome())
}

func TestEndToEnd_H2CFrames(t *testing.T) {
	srv := testutil.StartH2CUpstream(t, http.HandlerFunc(trailerHandler))
	eng := newEngine(t)
	rec := rectest.NewRecorder()
	_, s := startStream(t, eng, rec)

	conn := testutil.H2CRequest(t, srv, "/fox")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := upstream.H2Source{StreamID: 1, AttemptCount: abi.AttemptCountNotApplicable}.Run(ctx, s, conn)
	require.NoError(t, err)
	rec.Wait(t, 5*time.Second)

	seq := rec.Sequence()
	assert.True(t, rectest.LegalSequence(seq), seq)
	assert.True(t, strings.HasSuffix(seq, "trailers complete"), seq)
	assert.Equal(t, body, string(rec.Body()))

	recs := rec.Records()
	headers := abi.HeadersFromFields(recs[0].Fields)
	defer headers.Release()
	status, ok := headers.Get(":status")
	assert.True(t, ok)
	assert.Equal(t, "200", status)

	trailers := abi.HeadersFromFields(recs[len(recs)-2].Fields)
	defer trailers.Release()
	sum, _ := trailers.Get("x-checksum")
	assert.Equal(t, "fox", sum)
}

func TestEndToEnd_CancelMidStream(t *testing.T) {
	unblock := make(chan struct{})
	srv := testutil.StartTLSUpstream(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "first")
		w.(http.Flusher).Flush()
		select {
		case <-unblock:
		case <-r.Context().Done():
		}
	}))
	defer close(unblock)

	eng := newEngine(t)
	rec := rectest.NewRecorder()
	var handle abi.StreamHandle
	rec.Hook = func(r rectest.Record) {
		if r.Event == "headers" {
			assert.Equal(t, abi.StatusSuccess, eng.CancelStream(handle))
		}
	}
	h, s := startStream(t, eng, rec)
	handle = h

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- upstream.HTTPResponseSource{}.Run(ctx, s, resp) }()

	rec.Wait(t, 5*time.Second)
	seq := rec.Sequence()
	assert.True(t, rectest.LegalSequence(seq), seq)
	assert.True(t, strings.HasSuffix(seq, " cancel"), seq)
	<-s.Done()
	assert.Equal(t, stream.Cancelled{}, s.Outcome())

	// The producer may still be blocked on the body; ending its context releases it.
	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled) || errors.Is(err, stream.ErrStreamClosed), "unexpected producer error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not return after its context ended")
	}
}

func TestEndToEnd_TerminateCancelsInFlight(t *testing.T) {
	var exits int
	eng, err := engine.New(nil, abi.EngineCallbacks{OnExit: func(any) { exits++ }}, nil)
	require.NoError(t, err)

	recs := make([]*rectest.Recorder, 4)
	for i := range recs {
		recs[i] = rectest.NewRecorder()
		_, s := startStream(t, eng, recs[i])
		require.NoError(t, s.SendHeaders(abi.NewHeaders(":status", "200"), false))
		require.NoError(t, s.SendData(abi.CopyData(3, []byte("abc")), false))
	}

	require.NoError(t, eng.Terminate(context.Background()))
	for _, rec := range recs {
		assert.Equal(t, "headers data cancel", rec.Sequence())
	}
	assert.Equal(t, 1, exits)
	assert.Equal(t, 0, eng.ActiveStreams())
}
