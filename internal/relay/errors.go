package relay

import "errors"

// Error taxonomy surfaced to clients. All of these are recoverable: the
// connection stays open and the error is returned to the sender as an Error
// event. Only transport failures and liveness timeouts close a connection.
var (
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInvalidIdentity     = errors.New("invalid identity")
	ErrUnknownChannel      = errors.New("unknown channel")
	ErrUnknownUser         = errors.New("unknown user")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrEmptyBody           = errors.New("empty message body")
	ErrNotIdentified       = errors.New("not identified")
	ErrConnectionLimit     = errors.New("connection limit reached")
)

// errorCode maps a taxonomy error to the code surfaced in Error events.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidIdentity):
		return "INVALID_IDENTITY"
	case errors.Is(err, ErrUnknownChannel):
		return "UNKNOWN_CHANNEL"
	case errors.Is(err, ErrEmptyBody):
		return "EMPTY_BODY"
	case errors.Is(err, ErrNotIdentified):
		return "NOT_IDENTIFIED"
	case errors.Is(err, ErrUnknownConnection):
		return "UNKNOWN_CONNECTION"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	default:
		return "INTERNAL"
	}
}
