package testutil

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/http2/hpack"

	"example.com/streambridge/internal/abi"
)

// Record is one callback invocation observed by a Recorder.
type Record struct {
	Event        string // headers, data, metadata, trailers, error, complete, cancel
	EndStream    bool
	Fields       []hpack.HeaderField // headers, metadata and trailers
	Data         []byte
	ErrorCode    abi.ErrorCode
	ErrorMessage string
	AttemptCount int32
	Ctx          any // context the callback received
}

// Token renders the record for Sequence, e.g. "data+end".
func (r Record) Token() string {
	if r.EndStream {
		return r.Event + "+end"
	}
	return r.Event
}

// Recorder is a consumer that records every event and releases every payload it receives.
//
// Example:
//
//	rec := testutil.NewRecorder()
//	s, _ := stream.New(1, rec.Callbacks(nil), stream.Options{})
//	// drive s ...
//	rec.Wait(t, time.Second)
//	if rec.Sequence() != "headers data+end complete" { ... }
type Recorder struct {
	// Next computes the context returned by a callback from the one it received.
	// Nil returns the received context unchanged.
	Next func(ctx any) any
	// Hook, if set, runs inside every callback after recording.
	Hook func(r Record)

	mu      sync.Mutex
	records []Record

	inFlight atomic.Int32
	overlap  atomic.Bool
	terminal chan struct{}
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{terminal: make(chan struct{})}
}

// Callbacks returns a fully wired callback set with ctx as the initial context.
func (r *Recorder) Callbacks(ctx any) abi.HTTPCallbacks {
	return abi.HTTPCallbacks{
		OnHeaders: func(h abi.Headers, end bool, ctx any) any {
			defer h.Release()
			return r.record(Record{Event: "headers", EndStream: end, Fields: h.Fields(), Ctx: ctx})
		},
		OnData: func(d abi.Buffer, end bool, ctx any) any {
			defer d.Release()
			return r.record(Record{Event: "data", EndStream: end, Data: append([]byte(nil), d.Bytes()...), Ctx: ctx})
		},
		OnMetadata: func(h abi.Headers, ctx any) any {
			defer h.Release()
			return r.record(Record{Event: "metadata", Fields: h.Fields(), Ctx: ctx})
		},
		OnTrailers: func(h abi.Headers, ctx any) any {
			defer h.Release()
			return r.record(Record{Event: "trailers", Fields: h.Fields(), Ctx: ctx})
		},
		OnError: func(e abi.Error, ctx any) any {
			defer e.Release()
			return r.record(Record{Event: "error", ErrorCode: e.Code, ErrorMessage: e.Message.String(), AttemptCount: e.AttemptCount, Ctx: ctx})
		},
		OnComplete: func(ctx any) any {
			return r.record(Record{Event: "complete", Ctx: ctx})
		},
		OnCancel: func(ctx any) any {
			return r.record(Record{Event: "cancel", Ctx: ctx})
		},
		Context: ctx,
	}
}

func (r *Recorder) record(rec Record) any {
	if r.inFlight.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.inFlight.Add(-1)

	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()

	if r.Hook != nil {
		r.Hook(rec)
	}
	switch rec.Event {
	case "error", "complete", "cancel":
		close(r.terminal)
	}
	if r.Next != nil {
		return r.Next(rec.Ctx)
	}
	return rec.Ctx
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Sequence returns the space-separated event tokens, e.g. "headers data data+end complete".
func (r *Recorder) Sequence() string {
	recs := r.Records()
	tokens := make([]string, len(recs))
	for i, rec := range recs {
		tokens[i] = rec.Token()
	}
	return strings.Join(tokens, " ")
}

// Body concatenates every data chunk.
func (r *Recorder) Body() []byte {
	var out []byte
	for _, rec := range r.Records() {
		if rec.Event == "data" {
			out = append(out, rec.Data...)
		}
	}
	return out
}

// Overlapped reports whether two callbacks ever ran at the same time.
func (r *Recorder) Overlapped() bool { return r.overlap.Load() }

// Terminal is closed once a terminal callback has run. A second terminal
// callback panics on the double close, which fails the test loudly.
func (r *Recorder) Terminal() <-chan struct{} { return r.terminal }

// Wait blocks until a terminal callback ran or fails the test after timeout.
func (r *Recorder) Wait(t testing.TB, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.terminal:
	case <-time.After(timeout):
		t.Fatalf("no terminal event after %v; saw %q", timeout, r.Sequence())
	}
}

// legalSequence is the grammar every stream must follow.
var legalSequence = regexp.MustCompile(
	`^(?:(?:headers(?: metadata| data)*(?: data\+end| trailers)?(?: complete| error| cancel))` +
		`|(?:headers\+end(?: complete| error| cancel))` +
		`|(?:error|cancel))$`)

// LegalSequence reports whether seq (as returned by Sequence) is a legal stream history.
// complete is only legal once the response ended; the regexp alone cannot express
// that, so it is checked separately.
func LegalSequence(seq string) bool {
	if !legalSequence.MatchString(seq) {
		return false
	}
	if strings.HasSuffix(seq, " complete") {
		body := strings.TrimSuffix(seq, " complete")
		return strings.HasSuffix(body, "+end") || strings.HasSuffix(body, "trailers")
	}
	return true
}
