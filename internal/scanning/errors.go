package scanning

import (
	"errors"
	"fmt"
)

// Kind classifies a scanning failure so callers can report it without
// inspecting transport errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidImage
	KindRequestConstruction
	KindNetwork
	KindInvalidResponseShape
	KindDecoding
	KindProviderReported
)

func (k Kind) String() string {
	switch k {
	case KindInvalidImage:
		return "invalid image"
	case KindRequestConstruction:
		return "request construction error"
	case KindNetwork:
		return "network error"
	case KindInvalidResponseShape:
		return "invalid response shape"
	case KindDecoding:
		return "decoding error"
	case KindProviderReported:
		return "provider reported error"
	default:
		return "unknown error"
	}
}

// Error is returned by the OCR and extraction clients.
type Error struct {
	Kind   Kind
	Detail string // provider text or short context, may be empty
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindInvalidImage:         "invalid_image",
	KindRequestConstruction:  "request_construction",
	KindNetwork:              "network",
	KindInvalidResponseShape: "invalid_response_shape",
	KindDecoding:             "decoding",
	KindProviderReported:     "provider_reported",
}

func (k Kind) MarshalText() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		name = kindNames[KindUnknown]
	}
	return []byte(name), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", text)
}
