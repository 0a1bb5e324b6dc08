package http2

import "io"

// ProtoHTTP2 is the protocol version carried by every decoded response.
const ProtoHTTP2 = "HTTP/2.0"

// Response is an HTTP response message as seen above the HTTP/2 framing layer.
// Header holds regular header fields only, in the order they were added.
type Response struct {
	Proto      string
	StatusCode int
	Header     []HeaderField
	Body       io.Reader
}

// AddHeader appends hf to the response headers.
func (r *Response) AddHeader(hf HeaderField) {
	r.Header = append(r.Header, hf)
}

// Headers returns the response headers in stored order.
func (r *Response) Headers() []HeaderField {
	return r.Header
}

// ResponseFactory constructs responses for the converter.
// Implementations must be safe for concurrent use.
type ResponseFactory interface {
	NewResponse(proto string, statusCode int, body io.Reader) *Response
}

// ResponseFactoryFunc adapts an ordinary function to ResponseFactory.
type ResponseFactoryFunc func(proto string, statusCode int, body io.Reader) *Response

// NewResponse calls f(proto, statusCode, body).
func (f ResponseFactoryFunc) NewResponse(proto string, statusCode int, body io.Reader) *Response {
	return f(proto, statusCode, body)
}

// DefaultResponseFactory builds a plain *Response with no headers.
var DefaultResponseFactory ResponseFactory = ResponseFactoryFunc(func(proto string, statusCode int, body io.Reader) *Response {
	return &Response{Proto: proto, StatusCode: statusCode, Body: body}
})
