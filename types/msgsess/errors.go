package msgsess

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// Malformed is a truncated, inconsistent, or otherwise invalid datagram.
	Malformed ErrorKind = iota + 1
	// UnknownType is a well-formed header with a type tag this version does not know.
	UnknownType
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case UnknownType:
		return "unknown type"
	default:
		return "unknown error"
	}
}

// ProtocolError is returned by Decode for every datagram it cannot turn into a Message.
type ProtocolError struct {
	Kind   ErrorKind
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Reason == "" {
		return "protocol error: " + e.Kind.String()
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Kind, e.Reason)
}

// Is makes errors.Is(err, ErrMalformed) and errors.Is(err, ErrUnknownType) match on Kind alone.
func (e *ProtocolError) Is(target error) bool {
	var t *ProtocolError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrMalformed   = &ProtocolError{Kind: Malformed}
	ErrUnknownType = &ProtocolError{Kind: UnknownType}

	// ErrTooLarge is returned by Encode for messages that do not fit MaxDatagramSize.
	ErrTooLarge = errors.New("message exceeds datagram size")

	// ErrInvalidField is returned by Encode for ids, groups, endpoints or text that cannot be put on the wire.
	ErrInvalidField = errors.New("invalid message field")
)

func malformed(format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: Malformed, Reason: fmt.Sprintf(format, args...)}
}
