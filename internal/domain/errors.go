package domain

import "errors"

var (
	ErrAuth          = errors.New("authentication failed")
	ErrNetwork       = errors.New("network failure")
	ErrResourceFetch = errors.New("resource fetch failed")
	ErrUnhandled     = errors.New("unhandled session failure")
)

var (
	ErrConversationNotFound     = errors.New("conversation not found")
	ErrEventNotFound            = errors.New("event not found")
	ErrSecretNotFound           = errors.New("secret not found")
	ErrProfileNotFound          = errors.New("profile not found")
	ErrInvalidNotificationLevel = errors.New("invalid notification level")
	ErrSessionActive            = errors.New("a session is already active")
	ErrNotRunning               = errors.New("session is not running")
)

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAuth
	KindNetwork
	KindResourceFetch
	KindUnhandled
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindResourceFetch:
		return "resource_fetch"
	case KindUnhandled:
		return "unhandled"
	default:
		return "none"
	}
}

// KindOf classifies err. Errors carrying no kind sentinel are unhandled.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrResourceFetch):
		return KindResourceFetch
	default:
		return KindUnhandled
	}
}
