package http2

import (
	"errors"
	"fmt"
)

// ErrorCode is an RFC 7540 Section 7 error code, carried by RST_STREAM and
// GOAWAY.
type ErrorCode uint32

const (
	ErrCodeNoError            ErrorCode = 0x0
	ErrCodeProtocolError      ErrorCode = 0x1
	ErrCodeInternalError      ErrorCode = 0x2
	ErrCodeFlowControlError   ErrorCode = 0x3
	ErrCodeSettingsTimeout    ErrorCode = 0x4
	ErrCodeStreamClosed       ErrorCode = 0x5
	ErrCodeFrameSizeError     ErrorCode = 0x6
	ErrCodeRefusedStream      ErrorCode = 0x7
	ErrCodeCancel             ErrorCode = 0x8
	ErrCodeCompressionError   ErrorCode = 0x9
	ErrCodeConnectError       ErrorCode = 0xa
	ErrCodeEnhanceYourCalm    ErrorCode = 0xb
	ErrCodeInadequateSecurity ErrorCode = 0xc
	ErrCodeHTTP11Required     ErrorCode = 0xd
)

var errorCodeNames = [...]string{
	ErrCodeNoError:            "NO_ERROR",
	ErrCodeProtocolError:      "PROTOCOL_ERROR",
	ErrCodeInternalError:      "INTERNAL_ERROR",
	ErrCodeFlowControlError:   "FLOW_CONTROL_ERROR",
	ErrCodeSettingsTimeout:    "SETTINGS_TIMEOUT",
	ErrCodeStreamClosed:       "STREAM_CLOSED",
	ErrCodeFrameSizeError:     "FRAME_SIZE_ERROR",
	ErrCodeRefusedStream:      "REFUSED_STREAM",
	ErrCodeCancel:             "CANCEL",
	ErrCodeCompressionError:   "COMPRESSION_ERROR",
	ErrCodeConnectError:       "CONNECT_ERROR",
	ErrCodeEnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	ErrCodeInadequateSecurity: "INADEQUATE_SECURITY",
	ErrCodeHTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (e ErrorCode) String() string {
	if int(e) < len(errorCodeNames) {
		return errorCodeNames[e]
	}
	return fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", uint32(e))
}

// StreamError means one response is unusable; the stream is reset with Code
// and the connection carries on.
type StreamError struct {
	StreamID uint32
	Code     ErrorCode
	Msg      string
	Cause    error
}

// NewStreamError returns a StreamError for streamID. cause may be nil.
func NewStreamError(streamID uint32, code ErrorCode, msg string, cause error) *StreamError {
	return &StreamError{StreamID: streamID, Code: code, Msg: msg, Cause: cause}
}

func (e *StreamError) Error() string {
	s := fmt.Sprintf("stream error on stream %d: %s (code %s, %d)", e.StreamID, e.Msg, e.Code, uint32(e.Code))
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *StreamError) Unwrap() error { return e.Cause }

// ConnectionError means the whole connection must be torn down with a GOAWAY
// carrying Code, LastStreamID and DebugData.
type ConnectionError struct {
	LastStreamID uint32
	Code         ErrorCode
	Msg          string
	Cause        error
	// DebugData is sent as GOAWAY additional debug data; keep it free of
	// header values.
	DebugData []byte
}

// NewConnectionError returns a ConnectionError whose GOAWAY debug data is msg.
// cause may be nil.
func NewConnectionError(lastStreamID uint32, code ErrorCode, msg string, cause error) *ConnectionError {
	return &ConnectionError{
		LastStreamID: lastStreamID,
		Code:         code,
		Msg:          msg,
		Cause:        cause,
		DebugData:    []byte(msg),
	}
}

func (e *ConnectionError) Error() string {
	s := fmt.Sprintf("connection error: %s (last_stream_id %d, code %s, %d)", e.Msg, e.LastStreamID, e.Code, uint32(e.Code))
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// ErrorKind classifies a response header conversion failure.
type ErrorKind int

const (
	// InvalidHeaderName: a header name contains an uppercase letter.
	InvalidHeaderName ErrorKind = iota + 1
	// HeaderOrderViolation: a pseudo-header follows a regular header.
	HeaderOrderViolation
	// DuplicateStatus: ':status' appears more than once.
	DuplicateStatus
	// UnsupportedPseudoHeader: a pseudo-header other than ':status' was received.
	UnsupportedPseudoHeader
	// ProhibitedHeader: the hop-by-hop Connection header is present.
	ProhibitedHeader
	// MissingStatus: no ':status' pseudo-header was received.
	MissingStatus
	// InvalidStatusFormat: the ':status' value is not a decimal integer.
	InvalidStatusFormat
	// InvalidStatusCode: the response status is outside [100, 600).
	InvalidStatusCode
	// UnexpectedPseudoHeader: a response to be sent carries a pseudo-header.
	UnexpectedPseudoHeader
)

var errorKindNames = map[ErrorKind]string{
	InvalidHeaderName:       "InvalidHeaderName",
	HeaderOrderViolation:    "HeaderOrderViolation",
	DuplicateStatus:         "DuplicateStatus",
	UnsupportedPseudoHeader: "UnsupportedPseudoHeader",
	ProhibitedHeader:        "ProhibitedHeader",
	MissingStatus:           "MissingStatus",
	InvalidStatusFormat:     "InvalidStatusFormat",
	InvalidStatusCode:       "InvalidStatusCode",
	UnexpectedPseudoHeader:  "UnexpectedPseudoHeader",
}

// String returns the name of the ErrorKind.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_ERROR_KIND_%d", int(k))
}

// ConversionError reports a protocol violation found while converting a
// response header block. None of these are retryable: the peer (decode) or
// the local application (encode) broke the protocol for this message.
type ConversionError struct {
	Kind  ErrorKind
	Msg   string
	Cause error // Optional underlying cause
}

func newConversionError(kind ErrorKind, msg string) *ConversionError {
	return &ConversionError{Kind: kind, Msg: msg}
}

// Error returns the human-readable description of the violation.
func (e *ConversionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s", e.Msg, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s (%s)", e.Msg, e.Kind)
}

// Unwrap returns the underlying cause of the error, if any.
func (e *ConversionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *ConversionError of the same kind, so the
// sentinel values below can be used with errors.Is.
func (e *ConversionError) Is(target error) bool {
	t, ok := target.(*ConversionError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is matching on the conversion error kind.
var (
	ErrInvalidHeaderName       = &ConversionError{Kind: InvalidHeaderName, Msg: "invalid header name"}
	ErrHeaderOrderViolation    = &ConversionError{Kind: HeaderOrderViolation, Msg: "pseudo-header after regular header"}
	ErrDuplicateStatus         = &ConversionError{Kind: DuplicateStatus, Msg: "duplicate status pseudo-header"}
	ErrUnsupportedPseudoHeader = &ConversionError{Kind: UnsupportedPseudoHeader, Msg: "unsupported pseudo-header"}
	ErrProhibitedHeader        = &ConversionError{Kind: ProhibitedHeader, Msg: "prohibited header"}
	ErrMissingStatus           = &ConversionError{Kind: MissingStatus, Msg: "missing status pseudo-header"}
	ErrInvalidStatusFormat     = &ConversionError{Kind: InvalidStatusFormat, Msg: "invalid status format"}
	ErrInvalidStatusCode       = &ConversionError{Kind: InvalidStatusCode, Msg: "invalid status code"}
	ErrUnexpectedPseudoHeader  = &ConversionError{Kind: UnexpectedPseudoHeader, Msg: "unexpected pseudo-header"}
)

// ConversionErrorKind extracts the ErrorKind from err, if err wraps a
// *ConversionError.
func ConversionErrorKind(err error) (ErrorKind, bool) {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}
