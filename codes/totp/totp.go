// Package totp is the default TOTP code provider. It renders otpauth://
// provisioning URIs for an existing shared secret and verifies RFC 6238
// codes against it.
package totp

import (
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const secretBytes = 20

// Config mirrors the otpauth parameters shared with authenticator apps.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string
}

// DefaultConfig returns the parameters every mainstream authenticator app
// understands: 6 digits, 30 second period, SHA1, one step of skew.
func DefaultConfig() Config {
	return Config{
		Issuer:    "authflow",
		Digits:    6,
		Period:    30,
		Skew:      1,
		Algorithm: "SHA1",
	}
}

// Provider implements the TOTP code provider. Secrets are base32 strings
// without padding, the format authenticator apps expect.
type Provider struct {
	issuer    string
	digits    otp.Digits
	period    uint
	skew      uint
	algorithm otp.Algorithm
	now       func() time.Time
}

// New validates cfg and returns a Provider.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("totp issuer required")
	}
	if cfg.Period <= 0 {
		return nil, errors.New("totp period must be > 0")
	}
	if cfg.Skew < 0 || cfg.Skew > 3 {
		return nil, errors.New("totp skew must be between 0 and 3")
	}
	var digits otp.Digits
	switch cfg.Digits {
	case 6:
		digits = otp.DigitsSix
	case 8:
		digits = otp.DigitsEight
	default:
		return nil, errors.New("totp digits must be 6 or 8")
	}
	algorithm, err := parseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	return &Provider{
		issuer:    cfg.Issuer,
		digits:    digits,
		period:    uint(cfg.Period),
		skew:      uint(cfg.Skew),
		algorithm: algorithm,
		now:       time.Now,
	}, nil
}

// GenerateSecret creates a fresh secret for account and returns it together
// with its provisioning URI. Persisting the secret is the caller's job.
func (p *Provider) GenerateSecret(account string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: account,
		Period:      p.period,
		SecretSize:  secretBytes,
		Digits:      p.digits,
		Algorithm:   p.algorithm,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// URIForImage renders the otpauth:// URI for an existing secret, suitable
// for a QR code.
func (p *Provider) URIForImage(secret, account string) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.issuer,
		AccountName: account,
		Period:      p.period,
		Secret:      raw,
		Digits:      p.digits,
		Algorithm:   p.algorithm,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// Verify reports whether code is valid for secret at the current time
// within the configured skew. Codes of the wrong length are simply invalid.
func (p *Provider) Verify(code, secret string) (bool, error) {
	if _, err := decodeSecret(secret); err != nil {
		return false, err
	}
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), normalizeSecret(secret), p.now().UTC(), totp.ValidateOpts{
		Period:    p.period,
		Skew:      p.skew,
		Digits:    p.digits,
		Algorithm: p.algorithm,
	})
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	return ok, err
}

// Code returns the code valid at t. It exists for enrollment checks and
// tests.
func (p *Provider) Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(normalizeSecret(secret), t.UTC(), totp.ValidateOpts{
		Period:    p.period,
		Skew:      p.skew,
		Digits:    p.digits,
		Algorithm: p.algorithm,
	})
}

func normalizeSecret(secret string) string {
	return strings.ToUpper(strings.TrimRight(strings.TrimSpace(secret), "="))
}

func decodeSecret(secret string) ([]byte, error) {
	s := normalizeSecret(secret)
	if s == "" {
		return nil, errors.New("empty totp secret")
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
	if err != nil {
		return nil, errors.New("totp secret is not valid base32")
	}
	return raw, nil
}

func parseAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return 0, errors.New("unsupported totp algorithm")
	}
}
