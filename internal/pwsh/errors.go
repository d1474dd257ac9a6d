package pwsh

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies bridge failures. Every error the pwsh and services layers
// produce carries exactly one kind; the HTTP layer maps kinds to status codes.
type Kind int

const (
	// KindMissingCredential - a required connection field is unset both in the
	// request and in the ambient configuration
	KindMissingCredential Kind = iota

	// KindConnectionFailed - Connect-CWM was rejected by the remote API
	KindConnectionFailed

	// KindProcessSpawnFailed - the PowerShell interpreter could not be started
	KindProcessSpawnFailed

	// KindExternalCommandFailed - the interpreter ran but exited non-zero
	KindExternalCommandFailed

	// KindMalformedResponse - the interpreter's stdout was not valid JSON
	KindMalformedResponse
)

// String returns a human-readable kind name
func (k Kind) String() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindConnectionFailed:
		return "connection_failed"
	case KindProcessSpawnFailed:
		return "process_spawn_failed"
	case KindExternalCommandFailed:
		return "external_command_failed"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Error is the typed failure the executor and connection layers return.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an *Error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Redact replaces every secret value in msg with a placeholder. Credential
// material is passed to the interpreter through its environment, but the
// remote API or the interpreter itself may still echo a value back in a
// diagnostic; nothing leaves the services layer without passing through here.
func Redact(msg string, secrets []string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, s, "[REDACTED]")
	}
	return msg
}
