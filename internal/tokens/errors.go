package tokens

import "errors"

var (
	ErrTokenNotFound    = errors.New("access token not found")
	ErrTokenInactive    = errors.New("access token revoked")
	ErrTokenExpired     = errors.New("access token expired")
	ErrTokenNotYetValid = errors.New("access token not yet valid")
	ErrTokenExhausted   = errors.New("access token view limit reached")

	// ErrDuplicateToken is returned by Store when the id is already taken.
	ErrDuplicateToken = errors.New("access token already stored")

	ErrInvalidShareType = errors.New("invalid share type")
	ErrInvalidOptions   = errors.New("invalid share options")
)
