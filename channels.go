package authflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/authflow/codes/otp"
	"github.com/MrEthical07/authflow/codes/totp"
)

// codeChannel is one second-factor channel. send returns a provisioning URI
// for TOTP and "" for out-of-band channels. verify reports (false, nil) for
// any rejected code and an error only when the backing provider failed.
type codeChannel interface {
	send(ctx context.Context, p Principal, profile *MFAProfile) (string, error)
	verify(ctx context.Context, p Principal, profile *MFAProfile, code string) (bool, error)
}

var errTOTPSecretInvalid = errors.New("stored totp secret is unusable")

// attemptLimiter bounds failed TOTP verifications per principal. Check
// returns an error wrapping totp.ErrLocked while the principal is locked.
type attemptLimiter interface {
	Check(ctx context.Context, principalID string) error
	RecordFailure(ctx context.Context, principalID string) error
	Reset(ctx context.Context, principalID string) error
}

type totpChannel struct {
	codes   TOTPCodes
	limiter attemptLimiter
}

func (c totpChannel) send(_ context.Context, p Principal, profile *MFAProfile) (string, error) {
	if strings.TrimSpace(profile.TOTPSecret) == "" {
		return "", fmt.Errorf("%w: no totp secret provisioned", ErrNotConfigured)
	}
	uri, err := c.codes.URIForImage(profile.TOTPSecret, p.Username)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	return uri, nil
}

func (c totpChannel) verify(ctx context.Context, p Principal, profile *MFAProfile, code string) (bool, error) {
	if strings.TrimSpace(profile.TOTPSecret) == "" {
		return false, nil
	}
	key := p.ID
	if key == "" {
		key = p.Username
	}
	if c.limiter != nil {
		if err := c.limiter.Check(ctx, key); err != nil {
			return false, limiterFailure(err)
		}
	}

	ok, err := c.codes.Verify(code, profile.TOTPSecret)
	if err != nil {
		return false, fmt.Errorf("%w: %v", errTOTPSecretInvalid, err)
	}
	if c.limiter == nil {
		return ok, nil
	}
	if !ok {
		if err := c.limiter.RecordFailure(ctx, key); err != nil {
			return false, limiterFailure(err)
		}
		return false, nil
	}
	if err := c.limiter.Reset(ctx, key); err != nil {
		return false, limiterFailure(err)
	}
	return true, nil
}

func limiterFailure(err error) error {
	if errors.Is(err, totp.ErrLocked) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return unavailable(err)
}

// otpChannel sends codes to the destination picked from the profile.
type otpChannel struct {
	codes       OTPCodes
	destination func(*MFAProfile) string
}

func phoneDestination(p *MFAProfile) string { return p.Phone }
func emailDestination(p *MFAProfile) string { return p.Email }

func phoneChannel(codes OTPCodes) otpChannel {
	return otpChannel{codes: codes, destination: phoneDestination}
}

func emailChannel(codes OTPCodes) otpChannel {
	return otpChannel{codes: codes, destination: emailDestination}
}

func (c otpChannel) send(ctx context.Context, p Principal, profile *MFAProfile) (string, error) {
	dest := strings.TrimSpace(c.destination(profile))
	if dest == "" {
		return "", ErrNotFound
	}
	if err := c.codes.Send(ctx, dest, p.ID); err != nil {
		if errors.Is(err, otp.ErrRateLimited) {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", unavailable(err)
	}
	return "", nil
}

func (c otpChannel) verify(ctx context.Context, p Principal, _ *MFAProfile, code string) (bool, error) {
	ok, err := c.codes.Verify(ctx, code, p.ID)
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// unconfiguredChannel stands in for a channel the engine was built without.
// A missing destination is still reported as ErrNotFound first.
type unconfiguredChannel struct {
	kind        VerificationType
	destination func(*MFAProfile) string
}

func (c unconfiguredChannel) send(_ context.Context, _ Principal, profile *MFAProfile) (string, error) {
	if c.destination != nil && strings.TrimSpace(c.destination(profile)) == "" {
		return "", ErrNotFound
	}
	return "", fmt.Errorf("%w: %s channel not enabled", ErrNotConfigured, c.kind)
}

func (c unconfiguredChannel) verify(context.Context, Principal, *MFAProfile, string) (bool, error) {
	return false, nil
}
