package main

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"example.com/streambridge/internal/abi"
)

// printer is a stream consumer that writes one line per event.
// The context threaded through the callbacks counts delivered events.
type printer struct {
	w         io.Writer
	bodyBytes atomic.Uint64
	chunks    atomic.Int64
	exitCode  atomic.Int32
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

func (p *printer) seq(ctx any) int {
	n, _ := ctx.(int)
	return n + 1
}

func (p *printer) OnHeaders(h abi.Headers, endStream bool, ctx any) any {
	defer h.Release()
	n := p.seq(ctx)
	fmt.Fprintf(p.w, "#%d headers%s %s\n", n, endMark(endStream), formatHeaders(h))
	return n
}

func (p *printer) OnData(d abi.Buffer, endStream bool, ctx any) any {
	defer d.Release()
	n := p.seq(ctx)
	p.bodyBytes.Add(uint64(d.Len()))
	p.chunks.Add(1)
	fmt.Fprintf(p.w, "#%d data%s %s\n", n, endMark(endStream), humanize.Bytes(uint64(d.Len())))
	return n
}

func (p *printer) OnMetadata(h abi.Headers, ctx any) any {
	defer h.Release()
	n := p.seq(ctx)
	fmt.Fprintf(p.w, "#%d metadata %s\n", n, formatHeaders(h))
	return n
}

func (p *printer) OnTrailers(h abi.Headers, ctx any) any {
	defer h.Release()
	n := p.seq(ctx)
	fmt.Fprintf(p.w, "#%d trailers %s\n", n, formatHeaders(h))
	return n
}

func (p *printer) OnError(e abi.Error, ctx any) any {
	defer e.Release()
	n := p.seq(ctx)
	p.exitCode.Store(1)
	fmt.Fprintf(p.w, "#%d error %s\n", n, e.Error())
	p.summary()
	return n
}

func (p *printer) OnComplete(ctx any) any {
	n := p.seq(ctx)
	fmt.Fprintf(p.w, "#%d complete\n", n)
	p.summary()
	return n
}

func (p *printer) OnCancel(ctx any) any {
	n := p.seq(ctx)
	p.exitCode.Store(2)
	fmt.Fprintf(p.w, "#%d cancel\n", n)
	p.summary()
	return n
}

func (p *printer) summary() {
	fmt.Fprintf(p.w, "body: %s in %s chunks\n",
		humanize.Bytes(p.bodyBytes.Load()), humanize.Comma(p.chunks.Load()))
}

func endMark(end bool) string {
	if end {
		return "+end"
	}
	return ""
}

func formatHeaders(h abi.Headers) string {
	parts := make([]string, 0, h.Len())
	h.Each(func(k, v []byte) {
		parts = append(parts, string(k)+"="+string(v))
	})
	return strings.Join(parts, " ")
}
