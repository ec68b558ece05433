package auth

import "errors"

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrUserInactive       = errors.New("auth: user account is inactive")
	ErrUsernameExists     = errors.New("auth: username already exists")
	ErrInvalidUsername    = errors.New("auth: invalid username")
	ErrInvalidRole        = errors.New("auth: invalid role")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrMalformedHash      = errors.New("auth: malformed password hash")
)
