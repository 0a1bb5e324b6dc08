package http2

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/net/http2/hpack"

	"example.com/h2resp/internal/config"
	"example.com/h2resp/internal/logger"
	"example.com/h2resp/internal/metrics"
)

// newTestCodec returns a codec logging at DEBUG into the returned buffer and
// recording into a fresh registry.
func newTestCodec(t *testing.T) (*ResponseCodec, *bytes.Buffer, *metrics.Recorder) {
	t.Helper()
	var logBuf bytes.Buffer
	rec, err := metrics.NewRecorder(prometheus.NewRegistry(), "test")
	if err != nil {
		t.Fatalf("metrics.NewRecorder failed: %v", err)
	}
	codec := NewResponseCodec(nil, defaultMaxTableSize,
		WithLogger(logger.New(&logBuf, config.LogLevelDebug)),
		WithMetrics(rec))
	return codec, &logBuf, rec
}

// peerEncode encodes headers the way the remote endpoint would.
func peerEncode(t *testing.T, peer *HpackAdapter, headers []HeaderField) []byte {
	t.Helper()
	block, err := peer.Encode(headers)
	if err != nil {
		t.Fatalf("peer Encode failed: %v", err)
	}
	return block
}

// logEntries parses the JSON lines written by the logger.
func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestResponseCodec_DecodeBlock(t *testing.T) {
	codec, logBuf, rec := newTestCodec(t)
	peer := newTestHpackAdapter(t)

	in := hdrs(":status", "200", "content-type", "application/json", "x-trace", "abc")
	resp, err := codec.DecodeBlock(1, peerEncode(t, peer, in))
	if err != nil {
		t.Fatalf("DecodeBlock failed: %v", err)
	}
	if resp.StatusCode != 200 || resp.Proto != ProtoHTTP2 {
		t.Errorf("response = %d %q, want 200 %q", resp.StatusCode, resp.Proto, ProtoHTTP2)
	}
	if diff := cmp.Diff(in[1:], resp.Headers()); diff != "" {
		t.Errorf("Headers() mismatch (-want +got):\n%s", diff)
	}

	// Same headers again: the second block uses the dynamic table.
	resp, err = codec.DecodeBlock(3, peerEncode(t, peer, in))
	if err != nil {
		t.Fatalf("DecodeBlock (second) failed: %v", err)
	}
	if diff := cmp.Diff(in[1:], resp.Headers()); diff != "" {
		t.Errorf("second Headers() mismatch (-want +got):\n%s", diff)
	}

	if got := testutil.ToFloat64(rec.Conversions(metrics.Decode, "ok")); got != 2 {
		t.Errorf("decode ok counter = %v, want 2", got)
	}
	entries := logEntries(t, logBuf)
	if len(entries) != 2 || entries[0]["level"] != "DEBUG" || entries[0]["stream_id"] != float64(1) {
		t.Errorf("unexpected log entries: %v", entries)
	}
}

func TestResponseCodec_DecodeBlock_Fragments(t *testing.T) {
	codec, _, _ := newTestCodec(t)
	peer := newTestHpackAdapter(t)
	in := hdrs(":status", "302", "location", "https://example.com/somewhere/else")
	block := peerEncode(t, peer, in)

	resp, err := codec.DecodeBlock(5, block[:3], block[3:])
	if err != nil {
		t.Fatalf("DecodeBlock failed: %v", err)
	}
	if resp.StatusCode != 302 {
		t.Errorf("StatusCode = %d, want 302", resp.StatusCode)
	}
}

func TestResponseCodec_DecodeBlock_ConversionFailure(t *testing.T) {
	tests := []struct {
		name     string
		headers  []HeaderField
		sentinel error
	}{
		{"missing status", hdrs("content-type", "text/plain"), ErrMissingStatus},
		{"connection header", hdrs(":status", "200", "connection", "close"), ErrProhibitedHeader},
		{"uppercase name", hdrs(":status", "200", "X-A", "1"), ErrInvalidHeaderName},
		{"pseudo after regular", hdrs(":status", "200", "x-a", "1", ":status", "200"), ErrHeaderOrderViolation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			codec, logBuf, rec := newTestCodec(t)
			peer := newTestHpackAdapter(t)

			resp, err := codec.DecodeBlock(7, peerEncode(t, peer, tc.headers))
			if resp != nil {
				t.Errorf("DecodeBlock returned response %+v on failure", resp)
			}
			var se *StreamError
			if !errors.As(err, &se) {
				t.Fatalf("expected *StreamError, got %T: %v", err, err)
			}
			if se.StreamID != 7 || se.Code != ErrCodeProtocolError {
				t.Errorf("StreamError = stream %d code %s, want stream 7 PROTOCOL_ERROR", se.StreamID, se.Code)
			}
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("errors.Is(err, %v) = false; err = %v", tc.sentinel, err)
			}

			kind, _ := ConversionErrorKind(err)
			if got := testutil.ToFloat64(rec.Errors(metrics.Decode, kind.String())); got != 1 {
				t.Errorf("decode error counter for %s = %v, want 1", kind, got)
			}
			entries := logEntries(t, logBuf)
			if len(entries) != 1 || entries[0]["level"] != "WARNING" || entries[0]["kind"] != kind.String() {
				t.Errorf("unexpected log entries: %v", entries)
			}
		})
	}
}

func TestResponseCodec_DecodeBlock_CompressionError(t *testing.T) {
	codec, _, rec := newTestCodec(t)

	// Indexed header field with index 0 is never valid.
	_, err := codec.DecodeBlock(9, []byte{0x80})
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
	if ce.Code != ErrCodeCompressionError {
		t.Errorf("ConnectionError.Code = %s, want COMPRESSION_ERROR", ce.Code)
	}
	if ce.LastStreamID != 9 {
		t.Errorf("ConnectionError.LastStreamID = %d, want 9", ce.LastStreamID)
	}
	if len(ce.DebugData) == 0 {
		t.Error("ConnectionError.DebugData is empty")
	}
	if got := testutil.ToFloat64(rec.Errors(metrics.Decode, "hpack")); got != 1 {
		t.Errorf("hpack error counter = %v, want 1", got)
	}

	// Truncated block is caught when the block is finished.
	codec, _, _ = newTestCodec(t)
	_, err = codec.DecodeBlock(11, []byte{0x48, 0x03, '2', '0'})
	if !errors.As(err, &ce) || ce.Code != ErrCodeCompressionError || ce.LastStreamID != 11 {
		t.Errorf("truncated block: got %v, want COMPRESSION_ERROR connection error for stream 11", err)
	}
}

func TestResponseCodec_EncodeBlock(t *testing.T) {
	codec, _, rec := newTestCodec(t)
	peer := newTestHpackAdapter(t)

	resp := &Response{Proto: ProtoHTTP2, StatusCode: 201, Header: hdrs("location", "/items/1", "content-length", "0")}
	for i := 0; i < 2; i++ {
		block, err := codec.EncodeBlock(uint32(1+2*i), resp)
		if err != nil {
			t.Fatalf("EncodeBlock failed: %v", err)
		}
		got := decodeAll(t, peer, block)
		want := hdrs(":status", "201", "location", "/items/1", "content-length", "0")
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("peer decoded mismatch (-want +got):\n%s", diff)
		}
	}
	if got := testutil.ToFloat64(rec.Conversions(metrics.Encode, "ok")); got != 2 {
		t.Errorf("encode ok counter = %v, want 2", got)
	}
}

func TestResponseCodec_EncodeBlock_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		resp     *Response
		sentinel error
	}{
		{"status out of range", &Response{StatusCode: 600}, ErrInvalidStatusCode},
		{"stored pseudo-header", &Response{StatusCode: 200, Header: hdrs(":status", "200")}, ErrUnexpectedPseudoHeader},
		{"connection header", &Response{StatusCode: 200, Header: hdrs("connection", "close")}, ErrProhibitedHeader},
		{"nil response", nil, ErrNilResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			codec, _, _ := newTestCodec(t)
			block, err := codec.EncodeBlock(3, tc.resp)
			if block != nil {
				t.Errorf("EncodeBlock returned block %x on failure", block)
			}
			var se *StreamError
			if !errors.As(err, &se) || se.Code != ErrCodeInternalError || se.StreamID != 3 {
				t.Fatalf("expected INTERNAL_ERROR *StreamError on stream 3, got %T: %v", err, err)
			}
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("errors.Is(err, %v) = false; err = %v", tc.sentinel, err)
			}
		})
	}
}

func TestResponseCodec_EncodeBlock_EmptyHeaderName(t *testing.T) {
	codec, _, rec := newTestCodec(t)
	peer := newTestHpackAdapter(t)

	_, err := codec.EncodeBlock(1, &Response{StatusCode: 200, Header: hdrs("x-a", "1", "", "v")})
	var se *StreamError
	if !errors.As(err, &se) || se.Code != ErrCodeInternalError {
		t.Fatalf("expected INTERNAL_ERROR *StreamError, got %T: %v", err, err)
	}
	if got := testutil.ToFloat64(rec.Errors(metrics.Encode, "hpack")); got != 1 {
		t.Errorf("encode hpack error counter = %v, want 1", got)
	}

	// The connection's HPACK context is still usable.
	block, err := codec.EncodeBlock(3, &Response{StatusCode: 200, Header: hdrs("x-a", "1")})
	if err != nil {
		t.Fatalf("EncodeBlock after failure: %v", err)
	}
	if diff := cmp.Diff(hdrs(":status", "200", "x-a", "1"), decodeAll(t, peer, block)); diff != "" {
		t.Errorf("peer decoded mismatch (-want +got):\n%s", diff)
	}
}

func TestResponseCodec_HeaderListRoundTrip(t *testing.T) {
	codec := NewResponseCodec(nil, defaultMaxTableSize) // No logger or metrics configured
	in := hdrs(":status", "418", "x-teapot", "short and stout")

	resp, err := codec.DecodeHeaders(1, in)
	if err != nil {
		t.Fatalf("DecodeHeaders failed: %v", err)
	}
	out, err := codec.EncodeHeaders(1, resp)
	if err != nil {
		t.Fatalf("EncodeHeaders failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-in +out):\n%s", diff)
	}
}

func TestResponseCodec_SetPeerMaxTableSize(t *testing.T) {
	codec, _, _ := newTestCodec(t)
	peer := newTestHpackAdapter(t)
	codec.SetPeerMaxTableSize(0)

	resp := &Response{StatusCode: 200, Header: hdrs("x-a", "1")}
	for i := 0; i < 2; i++ {
		block, err := codec.EncodeBlock(1, resp)
		if err != nil {
			t.Fatalf("EncodeBlock failed: %v", err)
		}
		if diff := cmp.Diff(hdrs(":status", "200", "x-a", "1"), decodeAll(t, peer, block)); diff != "" {
			t.Errorf("peer decoded mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestResponseCodec_EncodeHeaders_CountsSuccess(t *testing.T) {
	codec, logBuf, rec := newTestCodec(t)

	headers, err := codec.EncodeHeaders(1, &Response{StatusCode: 200, Header: hdrs("x-a", "1")})
	if err != nil {
		t.Fatalf("EncodeHeaders failed: %v", err)
	}
	if diff := cmp.Diff(hdrs(":status", "200", "x-a", "1"), headers); diff != "" {
		t.Errorf("EncodeHeaders mismatch (-want +got):\n%s", diff)
	}
	if _, err := codec.DecodeHeaders(3, headers); err != nil {
		t.Fatalf("DecodeHeaders failed: %v", err)
	}

	if got := testutil.ToFloat64(rec.Conversions(metrics.Encode, "ok")); got != 1 {
		t.Errorf("encode ok counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.Conversions(metrics.Decode, "ok")); got != 1 {
		t.Errorf("decode ok counter = %v, want 1", got)
	}
	entries := logEntries(t, logBuf)
	if len(entries) != 2 || entries[0]["message"] != "Encoded response headers" || entries[0]["status"] != float64(200) {
		t.Errorf("unexpected log entries: %v", entries)
	}

	// A full block is still one successful encode.
	if _, err := codec.EncodeBlock(5, &Response{StatusCode: 204}); err != nil {
		t.Fatalf("EncodeBlock failed: %v", err)
	}
	if got := testutil.ToFloat64(rec.Conversions(metrics.Encode, "ok")); got != 2 {
		t.Errorf("encode ok counter after EncodeBlock = %v, want 2", got)
	}
}

func TestResponseCodec_SetMaxTableSize(t *testing.T) {
	codec, logBuf, _ := newTestCodec(t)
	if err := codec.SetMaxTableSize(1024); err != nil {
		t.Fatalf("SetMaxTableSize failed: %v", err)
	}
	if got := codec.hpack.MaxTableSize(); got != 1024 {
		t.Errorf("decoder MaxTableSize() = %d, want 1024", got)
	}
	entries := logEntries(t, logBuf)
	if len(entries) != 1 || entries[0]["previous"] != float64(defaultMaxTableSize) || entries[0]["size"] != float64(1024) {
		t.Errorf("unexpected log entries: %v", entries)
	}

	// The entry fits the peer's 4096-byte table but not ours, so the peer's
	// later reference to it cannot be resolved.
	peer := newTestHpackAdapter(t)
	big := hdrs(":status", "200", "x-big", strings.Repeat("b", 2000))
	if _, err := codec.DecodeBlock(1, peerEncode(t, peer, big)); err != nil {
		t.Fatalf("DecodeBlock (first) failed: %v", err)
	}
	_, err := codec.DecodeBlock(3, peerEncode(t, peer, big))
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Code != ErrCodeCompressionError {
		t.Errorf("second DecodeBlock: got %v, want COMPRESSION_ERROR connection error", err)
	}
}

func TestResponseCodec_MaxStringLength(t *testing.T) {
	codec := NewResponseCodec(nil, defaultMaxTableSize, WithMaxStringLength(16))
	peer := newTestHpackAdapter(t)

	resp, err := codec.DecodeBlock(1, peerEncode(t, peer, hdrs(":status", "200", "x-short", "ok")))
	if err != nil {
		t.Fatalf("DecodeBlock (short) failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}

	_, err = codec.DecodeBlock(3, peerEncode(t, peer, hdrs(":status", "200", "x-long", strings.Repeat("v", 17))))
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Code != ErrCodeCompressionError || ce.LastStreamID != 3 {
		t.Fatalf("expected COMPRESSION_ERROR connection error for stream 3, got %T: %v", err, err)
	}
	if !errors.Is(err, hpack.ErrStringLength) {
		t.Errorf("errors.Is(err, hpack.ErrStringLength) = false; err = %v", err)
	}
}
