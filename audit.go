package authflow

import (
	"context"
	"errors"
	"io"

	internalaudit "github.com/MrEthical07/authflow/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant engine outcome.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink discards events.
type NoOpSink = internalaudit.NoOpSink

// NewChannelSink returns a sink that buffers events in a channel.
func NewChannelSink(buffer int) *internalaudit.ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *internalaudit.JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink returns a sink that logs events through logger.
func NewZapSink(logger *zap.Logger) *internalaudit.ZapSink {
	return internalaudit.NewZapSink(logger)
}

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventMFARequired         = "mfa_required"
	auditEventCodeSent            = "code_sent"
	auditEventCodeSendFailure     = "code_send_failure"
	auditEventVerifySuccess       = "verify_success"
	auditEventVerifyFailure       = "verify_failure"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshFailure      = "refresh_failure"
	auditEventAuthenticateFailure = "authenticate_failure"
)

// auditReason is the machine-readable failure cause recorded in events.
// Callers only ever see the error kind.
type auditReason string

const (
	reasonBadCredentials auditReason = "bad_credentials"
	reasonCodeRejected   auditReason = "code_rejected"
	reasonTOTPSecretBad  auditReason = "totp_secret_invalid"
	reasonChannelMissing auditReason = "channel_not_registered"
	reasonNotConfigured  auditReason = "not_configured"
	reasonRateLimited    auditReason = "rate_limited"
	reasonMalformedToken auditReason = "malformed_token"
	reasonTokenRejected  auditReason = "token_rejected"
	reasonSubjectMissing auditReason = "subject_not_found"
	reasonUnknownType    auditReason = "unknown_verification_type"
	reasonBackendUnavail auditReason = "backend_unavailable"
)

func reasonFor(err error) auditReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidToken):
		return reasonMalformedToken
	case errors.Is(err, ErrNotConfigured):
		return reasonNotConfigured
	case errors.Is(err, ErrNotFound):
		return reasonChannelMissing
	case errors.Is(err, ErrRateLimited):
		return reasonRateLimited
	case errors.Is(err, ErrInvalidVerificationType):
		return reasonUnknownType
	case errors.Is(err, ErrUnauthenticated):
		return reasonTokenRejected
	default:
		return reasonBackendUnavail
	}
}

type auditFields struct {
	userID   string
	username string
	channel  string
	reason   auditReason
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, f auditFields) {
	if e == nil || e.audit == nil {
		return
	}
	e.audit.Emit(ctx, AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    f.userID,
		Username:  f.username,
		Channel:   f.channel,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Error:     string(f.reason),
	})
}
