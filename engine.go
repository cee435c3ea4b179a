package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/authflow/internal/audit"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/logging"
	"go.uber.org/zap"
)

// Engine orchestrates login, second-factor verification and token refresh
// over injected collaborators. It holds no per-user state and is safe for
// concurrent use. Build one with New and Builder.Build.
type Engine struct {
	config      Config
	credentials CredentialVerifier
	identities  IdentityStore
	tokens      TokenCodec
	channels    map[VerificationType]codeChannel
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// Close drains and stops the audit dispatcher. Injected collaborators are
// not closed.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// AuditDropped returns the number of audit events discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() error {
	if e == nil || e.credentials == nil || e.identities == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) log(ctx context.Context, op string) *zap.Logger {
	return logging.From(ctx, e.logger).With(logging.Op(op))
}

// collaboratorFailure records and wraps a failure of an injected
// collaborator.
func (e *Engine) collaboratorFailure(ctx context.Context, op string, err error) error {
	e.metrics.Inc(MetricCollaboratorError)
	e.log(ctx, op).Warn("collaborator failed", logging.Err(err))
	return unavailable(err)
}

// Login checks credentials and either issues a full token pair or, when
// the user has MFA enabled, a permission-less access token that can only
// be used to complete verification.
func (e *Engine) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := e.now()
	defer func() { e.metrics.Observe(MetricLoginLatency, e.now().Sub(start)) }()

	principal, err := e.credentials.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			e.metrics.Inc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{username: username, reason: reasonBadCredentials})
			e.log(ctx, "login").Debug("credentials rejected", logging.Username(username))
			return nil, ErrUnauthenticated
		}
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{username: username, reason: reasonBackendUnavail})
		return nil, e.collaboratorFailure(ctx, "login", err)
	}
	if principal == nil {
		return nil, e.collaboratorFailure(ctx, "login", errors.New("credential verifier returned no principal"))
	}
	p := *principal
	if p.Username == "" {
		p.Username = username
	}

	mfa, err := e.identities.IsMFAEnabled(ctx, p.Username)
	if err != nil {
		return nil, e.loginStoreFailure(ctx, p, err)
	}

	if mfa {
		pair, err := e.issuePendingToken(p)
		if err != nil {
			return nil, e.collaboratorFailure(ctx, "login", err)
		}
		e.metrics.Inc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, auditFields{userID: p.ID, username: p.Username})
		e.log(ctx, "login").Debug("second factor required", logging.UserID(p.ID))
		return &LoginResult{TokenPair: *pair, MFARequired: true}, nil
	}

	roles, err := e.identities.Roles(ctx, p.Username)
	if err != nil {
		return nil, e.loginStoreFailure(ctx, p, err)
	}
	pair, err := e.issueTokenPair(p, roles)
	if err != nil {
		return nil, e.collaboratorFailure(ctx, "login", err)
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, auditFields{userID: p.ID, username: p.Username})
	e.log(ctx, "login").Debug("login succeeded", logging.UserID(p.ID))
	return &LoginResult{TokenPair: *pair}, nil
}

// loginStoreFailure handles a store error after credentials passed. A user
// the store no longer knows cannot log in.
func (e *Engine) loginStoreFailure(ctx context.Context, p Principal, err error) error {
	e.metrics.Inc(MetricLoginFailure)
	if errors.Is(err, ErrNotFound) {
		e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{userID: p.ID, username: p.Username, reason: reasonSubjectMissing})
		return ErrUnauthenticated
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{userID: p.ID, username: p.Username, reason: reasonBackendUnavail})
	return e.collaboratorFailure(ctx, "login", err)
}

// SendCode starts verification over the channel t. For TOTP it returns the
// otpauth provisioning URI; for PHONE and EMAIL it triggers delivery of a
// fresh code to the registered destination and returns "".
func (e *Engine) SendCode(ctx context.Context, principal Principal, t VerificationType) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	ch, ok := e.channels[t]
	if !ok {
		e.emitAudit(ctx, auditEventCodeSendFailure, false, auditFields{userID: principal.ID, username: principal.Username, reason: reasonUnknownType})
		return "", fmt.Errorf("%w: %s", ErrInvalidVerificationType, t)
	}
	fields := auditFields{userID: principal.ID, username: principal.Username, channel: t.String()}

	profile, err := e.identities.MFAProfile(ctx, principal.Username)
	if err != nil {
		e.metrics.Inc(MetricCodeSendFailure)
		if errors.Is(err, ErrNotFound) {
			fields.reason = reasonSubjectMissing
			e.emitAudit(ctx, auditEventCodeSendFailure, false, fields)
			return "", ErrNotFound
		}
		fields.reason = reasonBackendUnavail
		e.emitAudit(ctx, auditEventCodeSendFailure, false, fields)
		return "", e.collaboratorFailure(ctx, "send_code", err)
	}

	uri, err := ch.send(ctx, principal, profile)
	if err != nil {
		fields.reason = reasonFor(err)
		e.emitAudit(ctx, auditEventCodeSendFailure, false, fields)
		switch {
		case errors.Is(err, ErrRateLimited):
			e.metrics.Inc(MetricCodeRateLimited)
		case errors.Is(err, ErrCollaboratorUnavailable):
			e.metrics.Inc(MetricCodeSendFailure)
			return "", e.collaboratorFailure(ctx, "send_code", err)
		default:
			e.metrics.Inc(MetricCodeSendFailure)
		}
		e.log(ctx, "send_code").Debug("code not sent", logging.Channel(t.String()), logging.Err(err))
		return "", err
	}

	e.metrics.Inc(MetricCodeSent)
	e.emitAudit(ctx, auditEventCodeSent, true, fields)
	return uri, nil
}

// Verify checks code on channel t and, on success, escalates the principal
// to a full token pair with permissions read from the store now. Any
// rejected code yields ErrUnauthenticated; nothing is revoked, so the
// caller may retry.
func (e *Engine) Verify(ctx context.Context, principal Principal, t VerificationType, code string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ch, ok := e.channels[t]
	if !ok {
		e.emitAudit(ctx, auditEventVerifyFailure, false, auditFields{userID: principal.ID, username: principal.Username, reason: reasonUnknownType})
		return nil, fmt.Errorf("%w: %s", ErrInvalidVerificationType, t)
	}
	fields := auditFields{userID: principal.ID, username: principal.Username, channel: t.String()}
	reject := func(reason auditReason) error {
		e.metrics.Inc(MetricVerifyFailure)
		fields.reason = reason
		e.emitAudit(ctx, auditEventVerifyFailure, false, fields)
		return ErrUnauthenticated
	}

	profile, err := e.identities.MFAProfile(ctx, principal.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(reasonSubjectMissing)
		}
		e.metrics.Inc(MetricVerifyFailure)
		return nil, e.collaboratorFailure(ctx, "verify", err)
	}

	ok, err = ch.verify(ctx, principal, profile, code)
	switch {
	case errors.Is(err, errTOTPSecretInvalid):
		e.log(ctx, "verify").Warn("totp secret unusable", logging.UserID(principal.ID), logging.Err(err))
		return nil, reject(reasonTOTPSecretBad)
	case errors.Is(err, ErrRateLimited):
		e.metrics.Inc(MetricVerifyFailure)
		fields.reason = reasonRateLimited
		e.emitAudit(ctx, auditEventVerifyFailure, false, fields)
		e.log(ctx, "verify").Info("verification locked", logging.UserID(principal.ID), logging.Channel(t.String()))
		return nil, ErrRateLimited
	case err != nil:
		e.metrics.Inc(MetricVerifyFailure)
		return nil, e.collaboratorFailure(ctx, "verify", err)
	case !ok:
		return nil, reject(reasonCodeRejected)
	}

	roles, err := e.identities.Roles(ctx, principal.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(reasonSubjectMissing)
		}
		e.metrics.Inc(MetricVerifyFailure)
		return nil, e.collaboratorFailure(ctx, "verify", err)
	}
	pair, err := e.issueTokenPair(principal, roles)
	if err != nil {
		e.metrics.Inc(MetricVerifyFailure)
		return nil, e.collaboratorFailure(ctx, "verify", err)
	}

	e.metrics.Inc(MetricVerifySuccess)
	e.emitAudit(ctx, auditEventVerifySuccess, true, fields)
	return pair, nil
}

// VerifyTOTP is Verify over the TOTP channel.
func (e *Engine) VerifyTOTP(ctx context.Context, principal Principal, code string) (*TokenPair, error) {
	return e.Verify(ctx, principal, VerificationTOTP, code)
}

// VerifyPhone is Verify over the phone channel.
func (e *Engine) VerifyPhone(ctx context.Context, principal Principal, code string) (*TokenPair, error) {
	return e.Verify(ctx, principal, VerificationPhone, code)
}

// VerifyEmail is Verify over the email channel.
func (e *Engine) VerifyEmail(ctx context.Context, principal Principal, code string) (*TokenPair, error) {
	return e.Verify(ctx, principal, VerificationEmail, code)
}

// Refresh exchanges a refresh token for a brand-new pair whose permissions
// reflect the subject's roles at refresh time. Prior refresh tokens stay
// valid until they expire.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	fail := func(f auditFields, err error) (*TokenPair, error) {
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, f)
		return nil, err
	}

	subject, err := e.tokens.SubjectOf(refreshToken)
	if err != nil || subject == "" {
		return fail(auditFields{reason: reasonMalformedToken}, ErrInvalidToken)
	}

	principal, err := e.identities.LoadByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(auditFields{username: subject, reason: reasonSubjectMissing}, ErrNotFound)
		}
		return fail(auditFields{username: subject, reason: reasonBackendUnavail}, e.collaboratorFailure(ctx, "refresh", err))
	}
	if principal == nil {
		return fail(auditFields{username: subject, reason: reasonBackendUnavail},
			e.collaboratorFailure(ctx, "refresh", errors.New("identity store returned no principal")))
	}
	p := *principal
	if p.Username == "" {
		p.Username = subject
	}
	fields := auditFields{userID: p.ID, username: p.Username}

	roles, err := e.identities.Roles(ctx, p.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			fields.reason = reasonSubjectMissing
			return fail(fields, ErrNotFound)
		}
		fields.reason = reasonBackendUnavail
		return fail(fields, e.collaboratorFailure(ctx, "refresh", err))
	}

	if !e.tokens.ValidateRefresh(refreshToken, p.Username) {
		fields.reason = reasonTokenRejected
		return fail(fields, ErrUnauthenticated)
	}

	pair, err := e.issueTokenPair(p, roles)
	if err != nil {
		fields.reason = reasonBackendUnavail
		return fail(fields, e.collaboratorFailure(ctx, "refresh", err))
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, fields)
	e.log(ctx, "refresh").Debug("token pair refreshed", logging.UserID(p.ID))
	return pair, nil
}

// CurrentUser returns the profile of an explicitly resolved principal.
func (e *Engine) CurrentUser(ctx context.Context, principal Principal) (*UserProfile, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	profile, err := e.identities.UserProfile(ctx, principal.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, e.collaboratorFailure(ctx, "current_user", err)
	}
	return profile, nil
}

// Authenticate resolves an access token to a Session. Tokens minted by an
// MFA-pending login resolve with no permissions and MFAPending set; so do
// full tokens of users who hold no permissions at all.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	fail := func(reason auditReason, err error) (*Session, error) {
		e.metrics.Inc(MetricAuthenticateFailure)
		e.emitAudit(ctx, auditEventAuthenticateFailure, false, auditFields{reason: reason})
		return nil, err
	}

	subject, perms, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrMalformed) || errors.Is(err, ErrInvalidToken) {
			return fail(reasonMalformedToken, ErrInvalidToken)
		}
		return fail(reasonTokenRejected, ErrUnauthenticated)
	}

	principal, err := e.identities.LoadByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(reasonSubjectMissing, ErrUnauthenticated)
		}
		e.metrics.Inc(MetricAuthenticateFailure)
		return nil, e.collaboratorFailure(ctx, "authenticate", err)
	}
	if principal == nil {
		e.metrics.Inc(MetricAuthenticateFailure)
		return nil, e.collaboratorFailure(ctx, "authenticate", errors.New("identity store returned no principal"))
	}
	p := *principal
	if p.Username == "" {
		p.Username = subject
	}

	exp, err := e.tokens.ExpiryOf(accessToken)
	if err != nil {
		return fail(reasonMalformedToken, ErrInvalidToken)
	}
	if perms == nil {
		perms = []string{}
	}

	e.metrics.Inc(MetricAuthenticateSuccess)
	return &Session{
		Principal:   p,
		Permissions: perms,
		ExpiresAt:   exp,
		MFAPending:  len(perms) == 0,
	}, nil
}
