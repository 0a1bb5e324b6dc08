package http2

import (
	"strings"

	"golang.org/x/net/http2/hpack"
)

// Reserved names used when converting response header blocks.
const (
	// PseudoHeaderPrefix marks transport-synthesized pseudo-header fields.
	PseudoHeaderPrefix = ":"
	// PseudoHeaderStatus carries the response status code.
	PseudoHeaderStatus = ":status"
	// HeaderConnection is hop-by-hop and never allowed on an HTTP/2 message.
	// Compared case-insensitively.
	HeaderConnection = "Connection"
)

// HeaderField represents a single HTTP header field (name-value pair).
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// IsPseudo reports whether the field is a pseudo-header field.
func (hf HeaderField) IsPseudo() bool {
	return strings.HasPrefix(hf.Name, PseudoHeaderPrefix)
}

// isConnectionHeader reports whether name is the hop-by-hop Connection header.
func isConnectionHeader(name string) bool {
	return strings.EqualFold(name, HeaderConnection)
}

// String renders the field the way it appears in error messages.
func (hf HeaderField) String() string {
	return hf.Name + ": " + hf.Value
}

// hpackToHeaderFields converts []hpack.HeaderField to []HeaderField.
func hpackToHeaderFields(hpackHeaders []hpack.HeaderField) []HeaderField {
	if hpackHeaders == nil {
		return nil
	}
	headers := make([]HeaderField, len(hpackHeaders))
	for i, hf := range hpackHeaders {
		headers[i] = HeaderField{Name: hf.Name, Value: hf.Value}
	}
	return headers
}

// headerFieldsToHpack converts []HeaderField to []hpack.HeaderField.
// Sensitive is left false; the converter never marks fields as never-indexed.
func headerFieldsToHpack(headers []HeaderField) []hpack.HeaderField {
	if headers == nil {
		return nil
	}
	hpackHeaders := make([]hpack.HeaderField, len(headers))
	for i, hf := range headers {
		hpackHeaders[i] = hpack.HeaderField{Name: hf.Name, Value: hf.Value}
	}
	return hpackHeaders
}
