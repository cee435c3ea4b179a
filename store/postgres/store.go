// Package postgres is an authflow identity store backed by PostgreSQL
// through a pgx connection pool. It implements authflow.IdentityStore,
// authflow.CredentialLookup and authflow.PasswordRehasher.
//
// Call Migrate once to create the tables in schema.sql.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// Config tunes the connection pool. Zero values keep pgx defaults.
type Config struct {
	DSN             string        `env:"DSN"`
	MaxConns        int32         `env:"MAX_CONNS"`
	MinConns        int32         `env:"MIN_CONNS"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME"`
}

// Store runs every lookup as a single query on the pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects a pool for cfg. A failed startup ping is logged, not
// returned, so the caller can start while the database is still coming up.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
		pcfg.MaxConnIdleTime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	s := NewFromPool(pool, logger)
	if err := pool.Ping(ctx); err != nil {
		s.logger.Warn("postgres startup ping failed", logging.Err(err))
	} else {
		s.logger.Info("postgres pool ready", zap.Int32("max_conns", pcfg.MaxConns))
	}
	return s, nil
}

// NewFromPool wraps an existing pool. The store does not own it unless
// Close is called.
func NewFromPool(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logging.OrNop(logger).With(logging.Component("store.postgres"))}
}

// Close closes the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Migrate creates the authflow tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// notFound maps pgx.ErrNoRows to authflow.ErrNotFound.
func notFound(err error, username string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", authflow.ErrNotFound, username)
	}
	return err
}

// PasswordHash implements authflow.CredentialLookup. Banned and unapproved
// accounts are reported as unknown so they cannot log in.
func (s *Store) PasswordHash(ctx context.Context, username string) (*authflow.Principal, string, error) {
	const q = `
SELECT id, username, password_hash
FROM authflow_users
WHERE username = $1 AND NOT banned AND approved`
	var (
		p    authflow.Principal
		hash string
	)
	if err := s.pool.QueryRow(ctx, q, username).Scan(&p.ID, &p.Username, &hash); err != nil {
		return nil, "", notFound(err, username)
	}
	return &p, hash, nil
}

// UpdatePasswordHash implements authflow.PasswordRehasher.
func (s *Store) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE authflow_users SET password_hash = $2, updated_at = now() WHERE username = $1`,
		username, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", authflow.ErrNotFound, username)
	}
	return nil
}

func (s *Store) LoadByUsername(ctx context.Context, username string) (*authflow.Principal, error) {
	var p authflow.Principal
	err := s.pool.QueryRow(ctx,
		`SELECT id, username FROM authflow_users WHERE username = $1`,
		username).Scan(&p.ID, &p.Username)
	if err != nil {
		return nil, notFound(err, username)
	}
	return &p, nil
}

func (s *Store) IsMFAEnabled(ctx context.Context, username string) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT mfa_enabled FROM authflow_users WHERE username = $1`,
		username).Scan(&enabled)
	if err != nil {
		return false, notFound(err, username)
	}
	return enabled, nil
}

// Roles returns the user's roles with their permission codes. A role with
// no permissions is returned with an empty list.
func (s *Store) Roles(ctx context.Context, username string) ([]authflow.Role, error) {
	const q = `
SELECT ur.role, COALESCE(array_agg(rp.permission ORDER BY rp.permission) FILTER (WHERE rp.permission IS NOT NULL), '{}')
FROM authflow_users u
JOIN authflow_user_roles ur ON ur.user_id = u.id
LEFT JOIN authflow_role_permissions rp ON rp.role = ur.role
WHERE u.username = $1
GROUP BY ur.role
ORDER BY ur.role`
	rows, err := s.pool.Query(ctx, q, username)
	if err != nil {
		return nil, err
	}
	roles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (authflow.Role, error) {
		var r authflow.Role
		err := row.Scan(&r.Name, &r.Permissions)
		return r, err
	})
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		// Distinguish a user without roles from an unknown user.
		if _, err := s.LoadByUsername(ctx, username); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func (s *Store) MFAProfile(ctx context.Context, username string) (*authflow.MFAProfile, error) {
	const q = `
SELECT mfa_enabled, totp_secret, phone, email, email_verified, phone_verified, totp_verified
FROM authflow_users
WHERE username = $1`
	var m authflow.MFAProfile
	err := s.pool.QueryRow(ctx, q, username).Scan(
		&m.Enabled, &m.TOTPSecret, &m.Phone, &m.Email,
		&m.EmailVerified, &m.PhoneVerified, &m.TOTPVerified,
	)
	if err != nil {
		return nil, notFound(err, username)
	}
	return &m, nil
}

func (s *Store) UserProfile(ctx context.Context, username string) (*authflow.UserProfile, error) {
	const q = `
SELECT u.id, u.username, u.first_name, u.last_name, u.email, u.phone,
       u.email_verified, u.phone_verified, u.totp_verified, u.temp_password,
       u.mfa_enabled, u.banned, u.approved,
       COALESCE(array_agg(ur.role ORDER BY ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
FROM authflow_users u
LEFT JOIN authflow_user_roles ur ON ur.user_id = u.id
WHERE u.username = $1
GROUP BY u.id`
	var p authflow.UserProfile
	err := s.pool.QueryRow(ctx, q, username).Scan(
		&p.ID, &p.Username, &p.FirstName, &p.LastName, &p.Email, &p.Phone,
		&p.EmailVerified, &p.PhoneVerified, &p.TOTPVerified, &p.TempPassword,
		&p.MFAEnabled, &p.Banned, &p.Approved,
		&p.Roles,
	)
	if err != nil {
		return nil, notFound(err, username)
	}
	return &p, nil
}

var (
	_ authflow.IdentityStore    = (*Store)(nil)
	_ authflow.CredentialLookup = (*Store)(nil)
	_ authflow.PasswordRehasher = (*Store)(nil)
)
