package auth

import (
	"crypto/subtle"
	"errors"
)

// ErrInvalidCredentials covers every verification failure; callers must not
// tell the client which part of the check failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

// APIKeyVerifier checks the signaling credential against one static key. An
// unset key verifies nothing, so a relay missing its API_KEY fails closed.
type APIKeyVerifier struct {
	Key string
}

func (v APIKeyVerifier) Verify(credential string) error {
	// Rule out empties first; ConstantTimeCompare considers two empty slices
	// equal.
	if credential == "" || v.Key == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(v.Key)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
