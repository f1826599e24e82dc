package services

import "errors"

// Error kinds returned by the service layer. The transport layer maps each
// kind to an HTTP status in one place; anything unrecognized is internal.
var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("account does not exist")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrUploadFailed       = errors.New("upload failed")
)
