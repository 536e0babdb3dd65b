package auth

import "errors"

// Authentication errors.
var (
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrSecretEmpty  = errors.New("auth: signing secret is empty")
	ErrInvalidRole  = errors.New("auth: unknown role")
	ErrForbidden    = errors.New("auth: insufficient permissions")
)
