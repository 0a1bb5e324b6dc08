package http2

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/net/http2/hpack"
)

// DefaultMaxStringLength bounds a single decoded header name or value unless
// SetMaxStringLength says otherwise.
const DefaultMaxStringLength = 64 << 10

// HpackAdapter wraps golang.org/x/net/http2/hpack.Encoder and hpack.Decoder
// for one connection, managing their dynamic tables and buffers.
//
// HPACK state is shared by every header block on a connection, so an
// HpackAdapter is not safe for concurrent use.
type HpackAdapter struct {
	encoder       *hpack.Encoder
	decoder       *hpack.Decoder
	encodeBuf     *bytes.Buffer
	decodedFields []hpack.HeaderField // Reset per header block
	maxTableSize  uint32              // Current decoder dynamic table size
}

// emitHeaderField is the hpack.Decoder callback. HeaderField holds only
// strings, so appending without copying is safe.
func (h *HpackAdapter) emitHeaderField(hf hpack.HeaderField) {
	h.decodedFields = append(h.decodedFields, hf)
}

// NewHpackAdapter creates an HpackAdapter whose encoder and decoder dynamic
// tables start at initialMaxTableSize.
//
// The decoder size should match the SETTINGS_HEADER_TABLE_SIZE advertised to
// the peer; the encoder size should be updated with
// SetMaxEncoderDynamicTableSize once the peer's setting is known
// (RFC 7541 Section 4.2, RFC 7540 Section 6.5.2).
func NewHpackAdapter(initialMaxTableSize uint32) *HpackAdapter {
	adapter := &HpackAdapter{
		encodeBuf:    new(bytes.Buffer),
		maxTableSize: initialMaxTableSize,
	}
	adapter.encoder = hpack.NewEncoder(adapter.encodeBuf)
	adapter.encoder.SetMaxDynamicTableSize(initialMaxTableSize)
	adapter.decoder = hpack.NewDecoder(initialMaxTableSize, adapter.emitHeaderField)
	adapter.decoder.SetMaxStringLength(DefaultMaxStringLength)
	return adapter
}

// MaxTableSize returns the decoder's current dynamic table size.
func (h *HpackAdapter) MaxTableSize() uint32 {
	return h.maxTableSize
}

// DecodeFragment processes one fragment of an HPACK-encoded header block
// (HEADERS followed by any CONTINUATION payloads). Decoded fields accumulate
// until FinishDecoding is called.
func (h *HpackAdapter) DecodeFragment(fragment []byte) error {
	if h.decoder == nil {
		return errors.New("hpack: HpackAdapter.decoder not initialized")
	}
	if _, err := h.decoder.Write(fragment); err != nil {
		return fmt.Errorf("hpack: HpackAdapter.decoder.Write failed: %w", err)
	}
	return nil
}

// FinishDecoding closes the current header block and returns its fields.
// The accumulated fields are cleared even when Close reports an error, and
// fields decoded before the error are still returned.
func (h *HpackAdapter) FinishDecoding() ([]HeaderField, error) {
	if h.decoder == nil {
		return nil, errors.New("hpack: HpackAdapter.decoder not initialized")
	}
	err := h.decoder.Close()

	fields := hpackToHeaderFields(h.decodedFields)
	h.decodedFields = nil

	if err != nil {
		return fields, fmt.Errorf("hpack: HpackAdapter.decoder.Close failed: %w", err)
	}
	return fields, nil
}

// ResetDecoderState drops any fields collected for an aborted header block.
// The decoder's dynamic table is left untouched.
func (h *HpackAdapter) ResetDecoderState() {
	h.decodedFields = nil
}

// SetMaxDecoderDynamicTableSize updates the decoder's dynamic table size,
// i.e. the SETTINGS_HEADER_TABLE_SIZE we advertise.
func (h *HpackAdapter) SetMaxDecoderDynamicTableSize(size uint32) error {
	if h.decoder == nil {
		return errors.New("hpack: HpackAdapter.decoder not initialized")
	}
	h.decoder.SetMaxDynamicTableSize(size)
	h.maxTableSize = size
	return nil
}

// SetMaxStringLength bounds the length of a decoded header name or value.
// Longer strings fail with hpack.ErrStringLength. Zero means no bound.
func (h *HpackAdapter) SetMaxStringLength(n uint32) {
	if h.decoder != nil {
		h.decoder.SetMaxStringLength(int(n))
	}
}

// SetMaxEncoderDynamicTableSize limits the encoder's dynamic table to the
// SETTINGS_HEADER_TABLE_SIZE received from the peer.
func (h *HpackAdapter) SetMaxEncoderDynamicTableSize(size uint32) {
	if h.encoder != nil {
		h.encoder.SetMaxDynamicTableSize(size)
	}
}

// Encode HPACK-encodes headers into a new slice.
func (h *HpackAdapter) Encode(headers []HeaderField) ([]byte, error) {
	if h.encoder == nil {
		return nil, errors.New("hpack: HpackAdapter.encoder not initialized")
	}
	// RFC 7540 Section 8.1.2: empty names are malformed. Checked up front so a
	// rejected block never reaches the encoder's dynamic table.
	for _, hf := range headers {
		if hf.Name == "" {
			return nil, fmt.Errorf("hpack: invalid header field name: name is empty (value: %q)", hf.Value)
		}
	}
	h.encodeBuf.Reset()
	for _, hf := range headerFieldsToHpack(headers) {
		if err := h.encoder.WriteField(hf); err != nil {
			return nil, fmt.Errorf("hpack: HpackAdapter.encoder.WriteField failed for header field %q: %w", hf.Name, err)
		}
	}
	// Copy out; encodeBuf is reused by the next call.
	encoded := make([]byte, h.encodeBuf.Len())
	copy(encoded, h.encodeBuf.Bytes())
	return encoded, nil
}
