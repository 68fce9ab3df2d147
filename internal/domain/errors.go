package domain

import "errors"

var (
	ErrPermissionDenied   = errors.New("media permission denied")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrSessionClosed      = errors.New("session closed")
)
