package abi

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/net/http2/hpack"
)

// DefaultMaxHeaderListSize bounds a decoded block when the codec is given no limit.
const DefaultMaxHeaderListSize = 1 << 20

// ErrHeaderListTooLarge is returned by Decode when a block exceeds the configured list size.
var ErrHeaderListTooLarge = errors.New("hpack: header list exceeds maximum size")

// HeaderCodec HPACK-encodes and decodes whole Headers blocks.
// It keeps encoder and decoder dynamic table state across calls, so one codec
// serves one direction of one connection. It is not safe for concurrent use.
type HeaderCodec struct {
	encoder   *hpack.Encoder
	decoder   *hpack.Decoder
	encodeBuf bytes.Buffer

	maxListSize uint32
	listSize    uint32
	overflow    bool
	decoded     []hpack.HeaderField
}

// NewHeaderCodec creates a codec whose dynamic tables hold at most tableSize
// bytes and whose decoded blocks are limited to maxListSize.
//
// tableSize plays the role of SETTINGS_HEADER_TABLE_SIZE (RFC 9113 Section 6.5.2):
// the encoder never grows its dynamic table past it, and the decoder rejects a
// dynamic table size update that exceeds it (RFC 7541 Section 6.3). maxListSize
// follows SETTINGS_MAX_HEADER_LIST_SIZE, counting each field as its name and
// value lengths plus 32 octets of overhead (RFC 7541 Section 4.1). Zero selects
// DefaultMaxHeaderListSize.
//
// Encoder and decoder keep independent dynamic tables. A peer that encodes
// METADATA with its own HPACK context therefore needs its own codec, separate
// from the one used for HEADERS.
func NewHeaderCodec(tableSize, maxListSize uint32) *HeaderCodec {
	if maxListSize == 0 {
		maxListSize = DefaultMaxHeaderListSize
	}
	c := &HeaderCodec{maxListSize: maxListSize}
	c.encoder = hpack.NewEncoder(&c.encodeBuf)
	c.encoder.SetMaxDynamicTableSize(tableSize)
	c.decoder = hpack.NewDecoder(tableSize, c.emit)
	return c
}

func (c *HeaderCodec) emit(f hpack.HeaderField) {
	c.listSize += f.Size()
	if c.listSize > c.maxListSize {
		c.overflow = true
		c.decoder.SetEmitEnabled(false)
		return
	}
	c.decoded = append(c.decoded, f)
}

// Encode returns the HPACK block for h. The returned slice is owned by the caller.
func (c *HeaderCodec) Encode(h Headers) ([]byte, error) {
	c.encodeBuf.Reset()
	for _, e := range h.Entries {
		if e.Key.Len() == 0 {
			return nil, fmt.Errorf("hpack: empty header name (value %q)", e.Value.String())
		}
		f := hpack.HeaderField{Name: e.Key.String(), Value: e.Value.String()}
		if err := c.encoder.WriteField(f); err != nil {
			return nil, fmt.Errorf("hpack: writing field %q: %w", f.Name, err)
		}
	}
	out := make([]byte, c.encodeBuf.Len())
	copy(out, c.encodeBuf.Bytes())
	return out, nil
}

// Decode decodes one complete HPACK block into a Headers block owned by the caller.
// On error nothing is returned and nothing needs releasing.
func (c *HeaderCodec) Decode(block []byte) (Headers, error) {
	c.decoded, c.listSize, c.overflow = nil, 0, false
	defer c.decoder.SetEmitEnabled(true)

	if _, err := c.decoder.Write(block); err != nil {
		return Headers{}, fmt.Errorf("hpack: decoding block: %w", err)
	}
	if err := c.decoder.Close(); err != nil {
		return Headers{}, fmt.Errorf("hpack: closing block: %w", err)
	}
	if c.overflow {
		return Headers{}, fmt.Errorf("%w (%d bytes allowed)", ErrHeaderListTooLarge, c.maxListSize)
	}
	h := HeadersFromFields(c.decoded)
	c.decoded = nil
	return h, nil
}
