package authflow

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Principal is the authenticated identity a request acts as. ID keys
// out-of-band codes; Username is the token subject.
type Principal struct {
	ID       string
	Username string
}

// Role is a named set of permission codes.
type Role struct {
	Name        string
	Permissions []string
}

// MFAProfile is the second-factor configuration of one user. The verified
// flags are informational; the engine does not enforce them.
type MFAProfile struct {
	Enabled       bool
	TOTPSecret    string
	Phone         string
	Email         string
	EmailVerified bool
	PhoneVerified bool
	TOTPVerified  bool
}

// TokenPair is what a successful login, verification or refresh returns.
// ExpiresAt is the access token's own expiry. RefreshToken is empty for
// MFA-pending logins.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LoginResult is returned by Engine.Login.
type LoginResult struct {
	TokenPair
	MFARequired bool `json:"mfa_required"`
}

// UserProfile is the caller-facing view of a user. It never carries the
// password hash.
type UserProfile struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	FirstName     string   `json:"first_name,omitempty"`
	LastName      string   `json:"last_name,omitempty"`
	Email         string   `json:"email,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	PhoneVerified bool     `json:"phone_verified"`
	TOTPVerified  bool     `json:"totp_verified"`
	TempPassword  bool     `json:"temp_password"`
	MFAEnabled    bool     `json:"mfa_enabled"`
	Banned        bool     `json:"banned"`
	Approved      bool     `json:"approved"`
	Roles         []string `json:"roles"`
}

// Session is what Engine.Authenticate resolves from an access token.
// Permissions is never nil. MFAPending is true whenever the token carries
// no permissions, which always holds for tokens issued by a login still
// waiting for its second factor.
type Session struct {
	Principal   Principal
	Permissions []string
	ExpiresAt   time.Time
	MFAPending  bool
}

// HasPermission reports whether the session carries perm.
func (s *Session) HasPermission(perm string) bool {
	if s == nil {
		return false
	}
	for _, p := range s.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// VerificationType selects a second-factor channel.
type VerificationType uint8

const (
	VerificationTOTP VerificationType = iota + 1
	VerificationPhone
	VerificationEmail
)

func (t VerificationType) String() string {
	switch t {
	case VerificationTOTP:
		return "TOTP"
	case VerificationPhone:
		return "PHONE"
	case VerificationEmail:
		return "EMAIL"
	default:
		return fmt.Sprintf("VerificationType(%d)", uint8(t))
	}
}

// ParseVerificationType accepts TOTP, PHONE or EMAIL in any case.
func ParseVerificationType(s string) (VerificationType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TOTP":
		return VerificationTOTP, nil
	case "PHONE":
		return VerificationPhone, nil
	case "EMAIL":
		return VerificationEmail, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidVerificationType, s)
	}
}

// CredentialVerifier checks a username and password. It returns an error
// wrapping ErrUnauthenticated for bad credentials; any other error is
// treated as a collaborator failure.
type CredentialVerifier interface {
	Authenticate(ctx context.Context, username, password string) (*Principal, error)
}

// IdentityStore resolves users, roles and MFA configuration. Lookups of
// unknown users return an error wrapping ErrNotFound.
type IdentityStore interface {
	LoadByUsername(ctx context.Context, username string) (*Principal, error)
	IsMFAEnabled(ctx context.Context, username string) (bool, error)
	Roles(ctx context.Context, username string) ([]Role, error)
	MFAProfile(ctx context.Context, username string) (*MFAProfile, error)
	UserProfile(ctx context.Context, username string) (*UserProfile, error)
}

// TOTPCodes provisions and checks time-based codes against a shared secret.
type TOTPCodes interface {
	URIForImage(secret, account string) (string, error)
	Verify(code, secret string) (bool, error)
}

// OTPCodes sends and checks one-time codes delivered out of band.
type OTPCodes interface {
	Send(ctx context.Context, destination, principalID string) error
	Verify(ctx context.Context, code, principalID string) (bool, error)
}

// TokenCodec mints and reads access and refresh tokens. ExpiryOf and
// SubjectOf decode without verifying; ValidateRefresh and ParseAccess
// verify signature and expiry.
type TokenCodec interface {
	GenerateAccess(subject string, permissions []string) (string, error)
	GenerateRefresh(subject string) (string, error)
	ExpiryOf(token string) (time.Time, error)
	SubjectOf(token string) (string, error)
	ValidateRefresh(token, subject string) bool
	ParseAccess(token string) (subject string, permissions []string, err error)
}
