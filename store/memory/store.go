// Package memory is an in-process identity store for tests, demos and the
// load-test driver. It implements authflow.IdentityStore,
// authflow.CredentialLookup and authflow.PasswordRehasher.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrEthical07/authflow"
)

// User is one stored account. Roles are role names resolved against the
// roles registered with PutRole.
type User struct {
	ID            string
	Username      string
	PasswordHash  string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	TOTPSecret    string
	EmailVerified bool
	PhoneVerified bool
	TOTPVerified  bool
	TempPassword  bool
	MFAEnabled    bool
	Banned        bool
	Approved      bool
	Roles         []string
}

// Store keeps users and roles in maps guarded by one RWMutex.
type Store struct {
	mu    sync.RWMutex
	users map[string]*User
	roles map[string]authflow.Role
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users: make(map[string]*User),
		roles: make(map[string]authflow.Role),
	}
}

// PutRole registers or replaces a role.
func (s *Store) PutRole(role authflow.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role.Permissions = append([]string(nil), role.Permissions...)
	s.roles[role.Name] = role
}

// PutUser inserts or replaces u, keyed by username.
func (s *Store) PutUser(u User) error {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" || u.ID == "" {
		return errors.New("memory store: user id and username required")
	}
	u.Roles = append([]string(nil), u.Roles...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = &u
	return nil
}

// DeleteUser removes username. Deleting an unknown user is a no-op.
func (s *Store) DeleteUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, username)
}

// SetRoles replaces the role names held by username.
func (s *Store) SetRoles(username string, roles ...string) error {
	return s.update(username, func(u *User) { u.Roles = append([]string(nil), roles...) })
}

// SetTOTPSecret stores a provisioned TOTP secret.
func (s *Store) SetTOTPSecret(username, secret string) error {
	return s.update(username, func(u *User) { u.TOTPSecret = secret })
}

// SetMFAEnabled toggles the second factor for username.
func (s *Store) SetMFAEnabled(username string, enabled bool) error {
	return s.update(username, func(u *User) { u.MFAEnabled = enabled })
}

func (s *Store) update(username string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return fmt.Errorf("%w: %s", authflow.ErrNotFound, username)
	}
	fn(u)
	return nil
}

// get returns a copy of the user so callers never race with writers.
func (s *Store) get(username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", authflow.ErrNotFound, username)
	}
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	return cp, nil
}

// PasswordHash implements authflow.CredentialLookup. Banned and unapproved
// accounts are reported as unknown so they cannot log in.
func (s *Store) PasswordHash(_ context.Context, username string) (*authflow.Principal, string, error) {
	u, err := s.get(username)
	if err != nil {
		return nil, "", err
	}
	if u.Banned || !u.Approved {
		return nil, "", fmt.Errorf("%w: %s", authflow.ErrNotFound, username)
	}
	return &authflow.Principal{ID: u.ID, Username: u.Username}, u.PasswordHash, nil
}

// UpdatePasswordHash implements authflow.PasswordRehasher.
func (s *Store) UpdatePasswordHash(_ context.Context, username, hash string) error {
	return s.update(username, func(u *User) { u.PasswordHash = hash })
}

func (s *Store) LoadByUsername(_ context.Context, username string) (*authflow.Principal, error) {
	u, err := s.get(username)
	if err != nil {
		return nil, err
	}
	return &authflow.Principal{ID: u.ID, Username: u.Username}, nil
}

func (s *Store) IsMFAEnabled(_ context.Context, username string) (bool, error) {
	u, err := s.get(username)
	if err != nil {
		return false, err
	}
	return u.MFAEnabled, nil
}

// Roles resolves the user's role names. Names with no registered role are
// skipped.
func (s *Store) Roles(_ context.Context, username string) ([]authflow.Role, error) {
	u, err := s.get(username)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]authflow.Role, 0, len(u.Roles))
	for _, name := range u.Roles {
		role, ok := s.roles[name]
		if !ok {
			continue
		}
		role.Permissions = append([]string(nil), role.Permissions...)
		out = append(out, role)
	}
	return out, nil
}

func (s *Store) MFAProfile(_ context.Context, username string) (*authflow.MFAProfile, error) {
	u, err := s.get(username)
	if err != nil {
		return nil, err
	}
	return &authflow.MFAProfile{
		Enabled:       u.MFAEnabled,
		TOTPSecret:    u.TOTPSecret,
		Phone:         u.Phone,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		PhoneVerified: u.PhoneVerified,
		TOTPVerified:  u.TOTPVerified,
	}, nil
}

func (s *Store) UserProfile(_ context.Context, username string) (*authflow.UserProfile, error) {
	u, err := s.get(username)
	if err != nil {
		return nil, err
	}
	return &authflow.UserProfile{
		ID:            u.ID,
		Username:      u.Username,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Email:         u.Email,
		Phone:         u.Phone,
		EmailVerified: u.EmailVerified,
		PhoneVerified: u.PhoneVerified,
		TOTPVerified:  u.TOTPVerified,
		TempPassword:  u.TempPassword,
		MFAEnabled:    u.MFAEnabled,
		Banned:        u.Banned,
		Approved:      u.Approved,
		Roles:         u.Roles,
	}, nil
}

var (
	_ authflow.IdentityStore    = (*Store)(nil)
	_ authflow.CredentialLookup = (*Store)(nil)
	_ authflow.PasswordRehasher = (*Store)(nil)
)
