package authflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authflow/codes/otp"
	"github.com/MrEthical07/authflow/codes/totp"
	internalaudit "github.com/MrEthical07/authflow/internal/audit"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/password"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine. Collaborators that are not injected are
// built from Config: a jwt.Manager token codec, a TOTP provider, and
// Redis-backed phone and email code providers when a Redis client and the
// matching Sender are supplied. A Builder can be used once.
type Builder struct {
	config Config

	credentials CredentialVerifier
	lookup      CredentialLookup
	identities  IdentityStore
	tokens      TokenCodec
	totp        TOTPCodes
	phone       OTPCodes
	email       OTPCodes

	redis       redis.UniversalClient
	phoneSender otp.Sender
	emailSender otp.Sender

	auditSink AuditSink
	logger    *zap.Logger

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. Build validates it.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithCredentialVerifier injects the password check. Without it the builder
// wraps the CredentialLookup (explicit, or implemented by the identity
// store) in a PasswordVerifier.
func (b *Builder) WithCredentialVerifier(v CredentialVerifier) *Builder {
	b.credentials = v
	return b
}

// WithCredentialLookup sets where the default PasswordVerifier reads
// password hashes. It is only needed when the identity store does not
// implement CredentialLookup itself.
func (b *Builder) WithCredentialLookup(l CredentialLookup) *Builder {
	b.lookup = l
	return b
}

// WithIdentityStore sets the store users, roles and MFA profiles are read
// from. Required.
func (b *Builder) WithIdentityStore(s IdentityStore) *Builder {
	b.identities = s
	return b
}

// WithTokenCodec injects the token codec, replacing the jwt.Manager built
// from Config.JWT.
func (b *Builder) WithTokenCodec(c TokenCodec) *Builder {
	b.tokens = c
	return b
}

// WithTOTP injects the TOTP provider, replacing the one built from
// Config.TOTP. The failed attempt lock still applies when Redis is set.
func (b *Builder) WithTOTP(c TOTPCodes) *Builder {
	b.totp = c
	return b
}

// WithPhoneCodes injects the phone code provider, replacing the Redis one.
func (b *Builder) WithPhoneCodes(c OTPCodes) *Builder {
	b.phone = c
	return b
}

// WithEmailCodes injects the email code provider, replacing the Redis one.
func (b *Builder) WithEmailCodes(c OTPCodes) *Builder {
	b.email = c
	return b
}

// WithRedis sets the client backing the default phone and email providers
// and the TOTP failed attempt lock.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPhoneSender sets how the Redis phone provider delivers codes. Without
// it, or without Redis, the phone channel is off.
func (b *Builder) WithPhoneSender(s otp.Sender) *Builder {
	b.phoneSender = s
	return b
}

// WithEmailSender sets how the Redis email provider delivers codes. Without
// it, or without Redis, the email channel is off.
func (b *Builder) WithEmailSender(s otp.Sender) *Builder {
	b.emailSender = s
	return b
}

// WithAuditSink sets where audit events go when Config.Audit.Enabled.
func (b *Builder) WithAuditSink(s AuditSink) *Builder {
	b.auditSink = s
	return b
}

// WithLogger sets the engine logger. The default discards everything.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	credentials, err := b.buildCredentials()
	if err != nil {
		return nil, err
	}

	tokens := b.tokens
	if tokens == nil {
		m, err := jwt.NewManager(b.config.jwtConfig())
		if err != nil {
			return nil, fmt.Errorf("token codec: %w", err)
		}
		tokens = m
	}

	totpCodes := b.totp
	if totpCodes == nil {
		p, err := totp.New(b.config.totpConfig())
		if err != nil {
			return nil, fmt.Errorf("totp provider: %w", err)
		}
		totpCodes = p
	}

	totpCh := totpChannel{codes: totpCodes}
	if b.redis != nil && b.config.TOTP.MaxAttempts > 0 {
		l, err := totp.NewLimiter(b.redis, totp.LimiterConfig{
			MaxAttempts: b.config.TOTP.MaxAttempts,
			Window:      b.config.TOTP.LockoutWindow,
			RedisPrefix: b.config.TOTP.RedisPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("totp limiter: %w", err)
		}
		totpCh.limiter = l
	}

	channels := map[VerificationType]codeChannel{
		VerificationTOTP: totpCh,
	}
	phone, err := b.otpCodes(b.phone, b.phoneSender, "phone", b.config.Phone)
	if err != nil {
		return nil, err
	}
	if phone != nil {
		channels[VerificationPhone] = phoneChannel(phone)
	} else {
		channels[VerificationPhone] = unconfiguredChannel{kind: VerificationPhone, destination: phoneDestination}
	}
	email, err := b.otpCodes(b.email, b.emailSender, "email", b.config.Email)
	if err != nil {
		return nil, err
	}
	if email != nil {
		channels[VerificationEmail] = emailChannel(email)
	} else {
		channels[VerificationEmail] = unconfiguredChannel{kind: VerificationEmail, destination: emailDestination}
	}

	sink := b.auditSink
	if sink == nil {
		sink = internalaudit.NewZapSink(logger)
	}

	b.built = true
	return &Engine{
		config:      b.config,
		credentials: credentials,
		identities:  b.identities,
		tokens:      tokens,
		channels:    channels,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    b.config.Audit.Enabled,
			BufferSize: b.config.Audit.BufferSize,
			DropIfFull: b.config.Audit.DropIfFull,
		}, sink),
		metrics: NewMetrics(b.config.Metrics),
		logger:  logger.Named("authflow"),
		now:     time.Now,
	}, nil
}

func (b *Builder) buildCredentials() (CredentialVerifier, error) {
	if b.credentials != nil {
		return b.credentials, nil
	}
	lookup := b.lookup
	if lookup == nil {
		if l, ok := b.identities.(CredentialLookup); ok {
			lookup = l
		}
	}
	if lookup == nil {
		return nil, errors.New("credential verifier or credential lookup required")
	}
	hasher, err := password.NewHasher(b.config.passwordConfig())
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}
	return NewPasswordVerifier(lookup, hasher)
}

// otpCodes returns the injected provider, a Redis provider when both a
// client and a sender are available, or nil when the channel stays off.
func (b *Builder) otpCodes(injected OTPCodes, sender otp.Sender, channel string, cfg OTPChannelConfig) (OTPCodes, error) {
	if injected != nil {
		return injected, nil
	}
	if b.redis == nil || sender == nil {
		return nil, nil
	}
	p, err := otp.New(b.redis, sender, otp.Config{
		Channel:     channel,
		Digits:      cfg.Digits,
		TTL:         cfg.TTL,
		MaxAttempts: cfg.MaxAttempts,
		SendLimit:   cfg.SendLimit,
		SendWindow:  cfg.SendWindow,
		RedisPrefix: cfg.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("%s code provider: %w", channel, err)
	}
	return p, nil
}
