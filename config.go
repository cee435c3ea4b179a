package authflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authflow/codes/totp"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/logging"
	"github.com/MrEthical07/authflow/password"
)

// Config groups engine settings. Start from DefaultConfig and override.
type Config struct {
	JWT      JWTConfig        `envPrefix:"JWT_"`
	TOTP     TOTPConfig       `envPrefix:"TOTP_"`
	Phone    OTPChannelConfig `envPrefix:"PHONE_"`
	Email    OTPChannelConfig `envPrefix:"EMAIL_"`
	Password PasswordConfig   `envPrefix:"PASSWORD_"`
	Audit    AuditConfig      `envPrefix:"AUDIT_"`
	Metrics  MetricsConfig    `envPrefix:"METRICS_"`
	Logging  logging.Config   `envPrefix:"LOG_"`
}

// JWTConfig configures the default token codec. PrivateKey is the HS256
// secret or an Ed25519 key (raw or PEM); PublicKey is the Ed25519 public key.
type JWTConfig struct {
	AccessTTL     time.Duration     `env:"ACCESS_TTL"`
	RefreshTTL    time.Duration     `env:"REFRESH_TTL"`
	SigningMethod jwt.SigningMethod `env:"SIGNING_METHOD"`
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string        `env:"ISSUER"`
	Audience      string        `env:"AUDIENCE"`
	Leeway        time.Duration `env:"LEEWAY"`
	KeyID         string        `env:"KEY_ID"`
}

// TOTPConfig configures the default TOTP provider. MaxAttempts failed
// verifications within LockoutWindow lock the principal out of TOTP until
// the window ends; the lock needs a Redis client and MaxAttempts 0 turns it
// off.
type TOTPConfig struct {
	Issuer        string        `env:"ISSUER"`
	Digits        int           `env:"DIGITS"`
	Period        int           `env:"PERIOD"`
	Skew          int           `env:"SKEW"`
	Algorithm     string        `env:"ALGORITHM"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS"`
	LockoutWindow time.Duration `env:"LOCKOUT_WINDOW"`
	RedisPrefix   string        `env:"REDIS_PREFIX"`
}

// OTPChannelConfig configures one Redis-backed out-of-band code channel.
type OTPChannelConfig struct {
	Digits      int           `env:"DIGITS"`
	TTL         time.Duration `env:"TTL"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	SendLimit   int           `env:"SEND_LIMIT"`
	SendWindow  time.Duration `env:"SEND_WINDOW"`
	RedisPrefix string        `env:"REDIS_PREFIX"`
}

// PasswordConfig configures the Argon2id hasher used by PasswordVerifier.
type PasswordConfig struct {
	Memory      uint32 `env:"MEMORY_KB"`
	Time        uint32 `env:"TIME"`
	Parallelism uint8  `env:"PARALLELISM"`
	SaltLength  uint32 `env:"SALT_LENGTH"`
	KeyLength   uint32 `env:"KEY_LENGTH"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns production defaults. Keys are left empty and must
// be supplied unless a TokenCodec is injected.
func DefaultConfig() Config {
	tc := totp.DefaultConfig()
	pc := password.DefaultConfig()
	otpDefaults := OTPChannelConfig{
		Digits:      6,
		TTL:         5 * time.Minute,
		MaxAttempts: 5,
		SendLimit:   5,
		SendWindow:  15 * time.Minute,
		RedisPrefix: "aotp",
	}
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: jwt.MethodEd25519,
			Leeway:        30 * time.Second,
		},
		TOTP: TOTPConfig{
			Issuer:        tc.Issuer,
			Digits:        tc.Digits,
			Period:        tc.Period,
			Skew:          tc.Skew,
			Algorithm:     tc.Algorithm,
			MaxAttempts:   5,
			LockoutWindow: time.Minute,
			RedisPrefix:   "aotp",
		},
		Phone: otpDefaults,
		Email: otpDefaults,
		Password: PasswordConfig{
			Memory:      pc.Memory,
			Time:        pc.Time,
			Parallelism: pc.Parallelism,
			SaltLength:  pc.SaltLength,
			KeyLength:   pc.KeyLength,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Logging: logging.Config{Env: "prod", Level: "info"},
	}
}

// Validate checks the settings the engine itself depends on. Collaborator
// configs are validated again by their constructors in Build.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt access ttl must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("jwt refresh ttl must exceed access ttl")
	}
	if c.TOTP.MaxAttempts < 0 {
		return errors.New("totp max attempts must be >= 0")
	}
	if c.TOTP.MaxAttempts > 0 && c.TOTP.LockoutWindow <= 0 {
		return errors.New("totp lockout window must be > 0 when max attempts is set")
	}
	for name, ch := range map[string]OTPChannelConfig{"phone": c.Phone, "email": c.Email} {
		if err := ch.validate(); err != nil {
			return fmt.Errorf("%s channel: %w", name, err)
		}
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be > 0 when audit is enabled")
	}
	return nil
}

func (c OTPChannelConfig) validate() error {
	if c.Digits < 6 || c.Digits > 10 {
		return errors.New("digits must be between 6 and 10")
	}
	if c.TTL <= 0 {
		return errors.New("ttl must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("max attempts must be > 0")
	}
	if c.SendLimit > 0 && c.SendWindow <= 0 {
		return errors.New("send window must be > 0 when send limit is set")
	}
	return nil
}

func (c Config) jwtConfig() jwt.Config {
	return jwt.Config{
		AccessTTL:     c.JWT.AccessTTL,
		RefreshTTL:    c.JWT.RefreshTTL,
		SigningMethod: c.JWT.SigningMethod,
		PrivateKey:    c.JWT.PrivateKey,
		PublicKey:     c.JWT.PublicKey,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		Leeway:        c.JWT.Leeway,
		KeyID:         c.JWT.KeyID,
	}
}

func (c Config) totpConfig() totp.Config {
	return totp.Config{
		Issuer:    c.TOTP.Issuer,
		Digits:    c.TOTP.Digits,
		Period:    c.TOTP.Period,
		Skew:      c.TOTP.Skew,
		Algorithm: c.TOTP.Algorithm,
	}
}

func (c Config) passwordConfig() password.Config {
	pc := password.DefaultConfig()
	pc.Memory = c.Password.Memory
	pc.Time = c.Password.Time
	pc.Parallelism = c.Password.Parallelism
	pc.SaltLength = c.Password.SaltLength
	pc.KeyLength = c.Password.KeyLength
	return pc
}
