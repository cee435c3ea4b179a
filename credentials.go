package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authflow/password"
)

// CredentialLookup returns the principal and stored password hash for a
// username. Unknown users return an error wrapping ErrNotFound.
type CredentialLookup interface {
	PasswordHash(ctx context.Context, username string) (*Principal, string, error)
}

// PasswordRehasher is optionally implemented by a CredentialLookup to
// receive upgraded hashes after a successful login.
type PasswordRehasher interface {
	UpdatePasswordHash(ctx context.Context, username, hash string) error
}

// PasswordVerifier is the default CredentialVerifier: an Argon2id check of
// the stored hash. Unknown users are checked against a fixed dummy hash so
// both failure paths cost one Argon2 evaluation.
type PasswordVerifier struct {
	lookup    CredentialLookup
	hasher    *password.Hasher
	dummyHash string
}

// NewPasswordVerifier returns a verifier over lookup using hasher.
func NewPasswordVerifier(lookup CredentialLookup, hasher *password.Hasher) (*PasswordVerifier, error) {
	if lookup == nil {
		return nil, errors.New("credential lookup required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher required")
	}
	dummy, err := hasher.Hash("authflow-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}
	return &PasswordVerifier{lookup: lookup, hasher: hasher, dummyHash: dummy}, nil
}

// Authenticate implements CredentialVerifier.
func (v *PasswordVerifier) Authenticate(ctx context.Context, username, pw string) (*Principal, error) {
	principal, hash, err := v.lookup.PasswordHash(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_, _ = v.hasher.Verify(pw, v.dummyHash)
			return nil, ErrUnauthenticated
		}
		return nil, unavailable(err)
	}

	ok, err := v.hasher.Verify(pw, hash)
	if err != nil {
		// A corrupt stored hash cannot authenticate anyone.
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !ok {
		return nil, ErrUnauthenticated
	}

	if r, isRehasher := v.lookup.(PasswordRehasher); isRehasher {
		if stale, _ := v.hasher.NeedsRehash(hash); stale {
			if fresh, err := v.hasher.Hash(pw); err == nil {
				_ = r.UpdatePasswordHash(ctx, username, fresh)
			}
		}
	}
	return principal, nil
}
