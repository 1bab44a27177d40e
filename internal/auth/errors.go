package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrBuildingScope indicates the token is not scoped to the requested building.
	ErrBuildingScope = errors.New("auth: building outside token scope")
)
