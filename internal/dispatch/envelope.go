package dispatch

import "net/http"

// ErrorKind classifies a failed request.
type ErrorKind string

const (
	KindValidation ErrorKind = "VALIDATION_ERROR"
	KindNotFound   ErrorKind = "NOT_FOUND"
	KindProbe      ErrorKind = "PROBE_FAILURE"
	KindTimeout    ErrorKind = "TIMEOUT"
	KindUpstream   ErrorKind = "UPSTREAM_FAILURE"
	KindInternal   ErrorKind = "INTERNAL_ERROR"
)

// Code is the machine-readable operation error code.
type Code string

const (
	CodeMissingInput Code = "MISSING_INPUT"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeLookupFailed Code = "LOOKUP_FAILED"
	CodeProbeFailed  Code = "PROBE_FAILED"
	CodeInternal     Code = "INTERNAL"
)

// Response is the uniform result envelope.
//
// Successful and negative-but-valid outcomes carry OK=true and Data. Failures
// carry OK=false, ErrorKind, Code and a human-readable Message.
//
//	{"ok": true, "data": {"host": "10.0.0.1", "port": 22, "status": "open"}}
//	{"ok": false, "error_kind": "VALIDATION_ERROR", "code": "MISSING_INPUT", "message": "host is required"}
type Response struct {
	OK        bool      `json:"ok"`
	Data      any       `json:"data,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Code      Code      `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Success wraps data in a successful envelope.
func Success(data any) Response {
	return Response{OK: true, Data: data}
}

// Failure builds an error envelope.
func Failure(kind ErrorKind, code Code, message string) Response {
	return Response{OK: false, ErrorKind: kind, Code: code, Message: message}
}

// HTTPStatus returns the HTTP status code the envelope is served with.
func (r Response) HTTPStatus() int {
	if r.OK {
		return http.StatusOK
	}
	return r.ErrorKind.HTTPStatus()
}

// HTTPStatus maps an error kind to an HTTP status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
