package http2

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
)

// ErrNilResponse is returned by Encode when called without a response.
var ErrNilResponse = errors.New("http2: nil response")

// ResponseConverter translates between HTTP/2 response header blocks and
// Response messages, enforcing the HTTP/2 rules for response headers in both
// directions (RFC 7540 Section 8.1.2).
//
// A ResponseConverter holds no mutable state and may be shared freely.
type ResponseConverter struct {
	factory ResponseFactory
}

// DefaultResponseConverter uses DefaultResponseFactory.
var DefaultResponseConverter = NewResponseConverter(nil)

// NewResponseConverter returns a converter that builds responses with factory.
// A nil factory selects DefaultResponseFactory.
func NewResponseConverter(factory ResponseFactory) *ResponseConverter {
	if factory == nil {
		factory = DefaultResponseFactory
	}
	return &ResponseConverter{factory: factory}
}

// Decode builds a Response from a decoded response header block.
//
// All pseudo-header fields must precede regular fields, ':status' is the only
// pseudo-header allowed and must appear exactly once, names must be lowercase
// and the Connection header is rejected. The first violation is returned as a
// *ConversionError; no partial response is returned.
func (c *ResponseConverter) Decode(headers []HeaderField) (*Response, error) {
	var (
		statusText  string
		statusFound bool
		msgHeaders  []HeaderField
	)

	for _, hf := range headers {
		for _, r := range hf.Name {
			if unicode.IsLetter(r) && !unicode.IsLower(r) {
				return nil, newConversionError(InvalidHeaderName,
					fmt.Sprintf("Header name '%s' is invalid (header name contains uppercase characters)", hf.Name))
			}
		}

		if hf.IsPseudo() {
			if len(msgHeaders) > 0 {
				return nil, newConversionError(HeaderOrderViolation,
					"Invalid sequence of headers (pseudo-headers must precede message headers)")
			}
			if hf.Name != PseudoHeaderStatus {
				return nil, newConversionError(UnsupportedPseudoHeader,
					fmt.Sprintf("Unsupported response header '%s'", hf.Name))
			}
			if statusFound {
				return nil, newConversionError(DuplicateStatus,
					fmt.Sprintf("Multiple '%s' response headers are illegal", hf.Name))
			}
			statusText, statusFound = hf.Value, true
			continue
		}

		if isConnectionHeader(hf.Name) {
			return nil, newConversionError(ProhibitedHeader,
				fmt.Sprintf("Header '%s' is illegal for HTTP/2 messages", hf))
		}
		msgHeaders = append(msgHeaders, hf)
	}

	if !statusFound {
		return nil, newConversionError(MissingStatus,
			fmt.Sprintf("Mandatory response header '%s' not found", PseudoHeaderStatus))
	}
	statusCode, err := parseStatus(statusText)
	if err != nil {
		return nil, &ConversionError{
			Kind:  InvalidStatusFormat,
			Msg:   "Invalid response status: " + statusText,
			Cause: err,
		}
	}

	resp := c.factory.NewResponse(ProtoHTTP2, statusCode, nil)
	for _, hf := range msgHeaders {
		resp.AddHeader(hf)
	}
	return resp, nil
}

// Encode produces the response header block for resp: the ':status'
// pseudo-header followed by the regular headers in stored order.
//
// The status code must lie in [100, 600). Stored headers must not be
// pseudo-headers or Connection; these are rejected rather than trusted.
func (c *ResponseConverter) Encode(resp *Response) ([]HeaderField, error) {
	if resp == nil {
		return nil, ErrNilResponse
	}
	code := resp.StatusCode
	if code < 100 || code >= 600 {
		return nil, newConversionError(InvalidStatusCode,
			fmt.Sprintf("Response status %d is invalid", code))
	}

	stored := resp.Headers()
	headers := make([]HeaderField, 0, len(stored)+1)
	headers = append(headers, HeaderField{Name: PseudoHeaderStatus, Value: strconv.Itoa(code)})
	for _, hf := range stored {
		if hf.IsPseudo() {
			return nil, newConversionError(UnexpectedPseudoHeader,
				fmt.Sprintf("Header name '%s' is invalid", hf.Name))
		}
		if isConnectionHeader(hf.Name) {
			return nil, newConversionError(ProhibitedHeader,
				fmt.Sprintf("Header '%s' is illegal for HTTP/2 messages", hf))
		}
		headers = append(headers, hf)
	}
	return headers, nil
}

// parseStatus parses a base-10 status code. A leading sign is accepted;
// whitespace and anything outside the int32 range are not.
func parseStatus(s string) (int, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
