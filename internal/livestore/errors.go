package livestore

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	// AuthError covers bad credentials, an email already in use and an
	// unconfigured provider.
	AuthError Kind = iota + 1
	// WriteError is any mutation the document store rejected.
	WriteError
	// SubscriptionError is a live subscription that failed.
	SubscriptionError
	// PermissionGap is a user lacking a reference needed for scoping.
	PermissionGap
	// Forbidden is a write the session's roles and levels do not allow.
	Forbidden
)

func (k Kind) String() string {
	switch k {
	case AuthError:
		return "auth"
	case WriteError:
		return "write"
	case SubscriptionError:
		return "subscription"
	case PermissionGap:
		return "permission_gap"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Error is returned by the mutation gateway. Message is the one-line
// notification shown to the user.
type Error struct {
	Kind     Kind
	Op       string
	Resource string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Kind, e.Op, e.Resource, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrNotSignedIn = errors.New("no active session")
	ErrUnknownPage = errors.New("unknown page")
	ErrMissingID   = errors.New("document id required")
	ErrForbidden   = errors.New("not allowed for this session")
)

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
