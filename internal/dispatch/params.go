package dispatch

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Params carries the raw request parameters, as decoded from a query string,
// a JSON body or CLI arguments.
type Params map[string]any

// Parameter errors.
var (
	errMissing = errors.New("missing")
	errInvalid = errors.New("invalid")
)

// paramError describes a single bad parameter.
type paramError struct {
	name   string
	reason error
	detail string
}

func (e *paramError) Error() string {
	if e.detail != "" {
		return e.detail
	}
	if errors.Is(e.reason, errMissing) {
		return e.name + " is required"
	}
	return e.name + " is invalid"
}

func (e *paramError) Unwrap() error {
	return e.reason
}

// response converts the error into a validation envelope.
func (e *paramError) response() Response {
	code := CodeInvalidInput
	if errors.Is(e.reason, errMissing) {
		code = CodeMissingInput
	}
	return Failure(KindValidation, code, e.Error())
}

// String returns the named parameter as a trimmed string.
func (p Params) String(name string) (string, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return "", &paramError{name: name, reason: errMissing}
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return "", &paramError{name: name, reason: errInvalid, detail: fmt.Sprintf("%s must be a string", name)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &paramError{name: name, reason: errMissing}
	}
	return s, nil
}

// First returns the first non-empty string parameter among names.
func (p Params) First(names ...string) (string, error) {
	var firstErr error
	for _, name := range names {
		s, err := p.String(name)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, errMissing) {
			return "", err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", firstErr
}

// Port returns the named parameter as a TCP port number.
//
// Integers, integral floats (JSON numbers) and decimal strings are accepted.
func (p Params) Port(name string) (int, error) {
	raw, ok := p[name]
	if !ok || raw == nil {
		return 0, &paramError{name: name, reason: errMissing}
	}

	invalid := &paramError{name: name, reason: errInvalid, detail: fmt.Sprintf("%s must be an integer between 1 and 65535", name)}

	var port int
	switch v := raw.(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, &paramError{name: name, reason: errMissing}
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, invalid
		}
		port = n
	case bool:
		return 0, invalid
	case float64:
		if !integral(v) {
			return 0, invalid
		}
		port = int(v)
	case float32:
		if !integral(float64(v)) {
			return 0, invalid
		}
		port = int(v)
	default:
		n, err := cast.ToIntE(v)
		if err != nil {
			return 0, invalid
		}
		port = n
	}

	if port < 1 || port > 65535 {
		return 0, invalid
	}
	return port, nil
}

// integral reports whether f is a whole number small enough to be a port.
func integral(f float64) bool {
	return f == math.Trunc(f) && f >= 0 && f <= 65536
}
