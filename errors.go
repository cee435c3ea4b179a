package authflow

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthenticated is returned for bad credentials, failed code
	// verification and invalid or expired tokens. It never says which
	// check failed.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound is returned when a verification channel is not registered
	// for the principal or a refresh-token subject no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrNotConfigured is returned when a TOTP provisioning URI is requested
	// but no TOTP secret has been provisioned.
	ErrNotConfigured = errors.New("not configured")
	// ErrInvalidToken is returned for malformed or unparseable tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidVerificationType is returned for an unknown verification type.
	ErrInvalidVerificationType = errors.New("invalid verification type")
	// ErrCollaboratorUnavailable wraps transient failures of injected
	// collaborators (store, network, code delivery).
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrRateLimited is returned by SendCode when the principal exceeded the
	// delivery budget of the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCollaboratorUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
}

// HTTPStatus maps an error returned by Engine to the status code a transport
// adapter should respond with. A nil error maps to 200.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotConfigured):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidVerificationType):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}
