package http2

import (
	"errors"
	"sync"

	"example.com/h2resp/internal/logger"
	"example.com/h2resp/internal/metrics"
)

// ResponseCodec joins a connection's HPACK state with a ResponseConverter:
// response header blocks go straight from wire bytes to a *Response and back.
//
// Failures come back as *ConnectionError (COMPRESSION_ERROR) when the HPACK
// context is broken and as *StreamError when only the one response is bad.
// HPACK work is serialized because its state is per connection; the
// header-list methods share no state and need no locking.
type ResponseCodec struct {
	mu      sync.Mutex
	hpack   *HpackAdapter
	conv    *ResponseConverter
	log     *logger.Logger
	metrics *metrics.Recorder
}

// CodecOption configures a ResponseCodec.
type CodecOption func(*ResponseCodec)

// WithLogger sets the logger used for conversion outcomes.
func WithLogger(lg *logger.Logger) CodecOption {
	return func(c *ResponseCodec) { c.log = lg }
}

// WithMetrics sets the recorder used for conversion outcomes.
func WithMetrics(rec *metrics.Recorder) CodecOption {
	return func(c *ResponseCodec) { c.metrics = rec }
}

// WithMaxStringLength bounds the length of any single decoded header name or
// value. Zero removes the bound.
func WithMaxStringLength(n uint32) CodecOption {
	return func(c *ResponseCodec) { c.hpack.SetMaxStringLength(n) }
}

// NewResponseCodec creates a codec whose HPACK tables start at maxTableSize.
// A nil conv selects DefaultResponseConverter.
func NewResponseCodec(conv *ResponseConverter, maxTableSize uint32, opts ...CodecOption) *ResponseCodec {
	if conv == nil {
		conv = DefaultResponseConverter
	}
	c := &ResponseCodec{
		hpack: NewHpackAdapter(maxTableSize),
		conv:  conv,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetMaxTableSize changes the decoder's dynamic table size after a new
// SETTINGS_HEADER_TABLE_SIZE has been advertised to the peer.
func (c *ResponseCodec) SetMaxTableSize(size uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.hpack.MaxTableSize()
	if err := c.hpack.SetMaxDecoderDynamicTableSize(size); err != nil {
		return err
	}
	c.log.Debug("HPACK decoder table size changed", logger.LogFields{"previous": prev, "size": size})
	return nil
}

// SetPeerMaxTableSize applies the peer's SETTINGS_HEADER_TABLE_SIZE to the encoder.
func (c *ResponseCodec) SetPeerMaxTableSize(size uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hpack.SetMaxEncoderDynamicTableSize(size)
}

// DecodeBlock HPACK-decodes the fragments of one response header block
// received on streamID and converts the result to a *Response.
func (c *ResponseCodec) DecodeBlock(streamID uint32, fragments ...[]byte) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, frag := range fragments {
		if err := c.hpack.DecodeFragment(frag); err != nil {
			c.hpack.ResetDecoderState()
			return nil, c.compressionError(streamID, err)
		}
	}
	headers, err := c.hpack.FinishDecoding()
	if err != nil {
		return nil, c.compressionError(streamID, err)
	}

	return c.DecodeHeaders(streamID, headers)
}

// DecodeHeaders converts an already decompressed response header list
// received on streamID. Conversion failures are returned as a *StreamError
// with PROTOCOL_ERROR wrapping the *ConversionError.
func (c *ResponseCodec) DecodeHeaders(streamID uint32, headers []HeaderField) (*Response, error) {
	resp, err := c.conv.Decode(headers)
	if err != nil {
		c.conversionFailed(metrics.Decode, streamID, err)
		return nil, NewStreamError(streamID, ErrCodeProtocolError, "malformed response header block", err)
	}
	c.metrics.Success(metrics.Decode)
	c.log.Debug("Decoded response headers", logger.LogFields{
		"stream_id": streamID, "status": resp.StatusCode, "header_count": len(resp.Header),
	})
	return resp, nil
}

// EncodeBlock converts resp to a header list and HPACK-encodes it for streamID.
// A response that cannot legally be sent yields a *StreamError with
// INTERNAL_ERROR; the HPACK context is untouched in that case.
func (c *ResponseCodec) EncodeBlock(streamID uint32, resp *Response) ([]byte, error) {
	headers, err := c.EncodeHeaders(streamID, resp)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	block, err := c.hpack.Encode(headers)
	if err != nil {
		// EncodeHeaders already counted the conversion; this counts the block.
		c.metrics.Failure(metrics.Encode, "hpack")
		c.log.Error("HPACK encoding of response headers failed", logger.LogFields{"stream_id": streamID, "error": err.Error()})
		return nil, NewStreamError(streamID, ErrCodeInternalError, "response header encoding failed", err)
	}
	c.log.Debug("Compressed response header block", logger.LogFields{
		"stream_id": streamID, "block_len": len(block),
	})
	return block, nil
}

// EncodeHeaders converts resp to the header list to send on streamID without
// compressing it. A response that cannot legally be sent yields a
// *StreamError with INTERNAL_ERROR.
func (c *ResponseCodec) EncodeHeaders(streamID uint32, resp *Response) ([]HeaderField, error) {
	headers, err := c.conv.Encode(resp)
	if err != nil {
		c.conversionFailed(metrics.Encode, streamID, err)
		return nil, NewStreamError(streamID, ErrCodeInternalError, "invalid response headers", err)
	}
	c.metrics.Success(metrics.Encode)
	c.log.Debug("Encoded response headers", logger.LogFields{
		"stream_id": streamID, "status": resp.StatusCode, "header_count": len(headers),
	})
	return headers, nil
}

func (c *ResponseCodec) compressionError(streamID uint32, err error) error {
	c.metrics.Failure(metrics.Decode, "hpack")
	c.log.Error("HPACK decoding of response header block failed", logger.LogFields{"stream_id": streamID, "error": err.Error()})
	return NewConnectionError(streamID, ErrCodeCompressionError, "header block decompression failed", err)
}

func (c *ResponseCodec) conversionFailed(d metrics.Direction, streamID uint32, err error) {
	kind := "other"
	if k, ok := ConversionErrorKind(err); ok {
		kind = k.String()
	} else if errors.Is(err, ErrNilResponse) {
		kind = "nil_response"
	}
	c.metrics.Failure(d, kind)
	c.log.Warn("Response header conversion failed", logger.LogFields{
		"stream_id": streamID, "direction": string(d), "kind": kind, "error": err.Error(),
	})
}
