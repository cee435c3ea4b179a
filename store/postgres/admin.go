package postgres

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authflow"
	"github.com/jackc/pgx/v5"
)

// NewUser is the input of CreateUser.
type NewUser struct {
	ID           string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	TOTPSecret   string
	MFAEnabled   bool
	Approved     bool
	Roles        []string
}

// PutRole creates role or replaces its permission set.
func (s *Store) PutRole(ctx context.Context, role authflow.Role) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO authflow_roles (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
			role.Name); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM authflow_role_permissions WHERE role = $1`, role.Name); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO authflow_role_permissions (role, permission) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				role.Name, perm); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateUser inserts u and its role assignments in one transaction.
func (s *Store) CreateUser(ctx context.Context, u NewUser) error {
	if u.ID == "" || u.Username == "" {
		return fmt.Errorf("postgres store: user id and username required")
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const q = `
INSERT INTO authflow_users
    (id, username, password_hash, first_name, last_name, email, phone, totp_secret, mfa_enabled, approved)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		if _, err := tx.Exec(ctx, q,
			u.ID, u.Username, u.PasswordHash, u.FirstName, u.LastName,
			u.Email, u.Phone, u.TOTPSecret, u.MFAEnabled, u.Approved,
		); err != nil {
			return err
		}
		return assignRoles(ctx, tx, u.ID, u.Roles)
	})
}

// SetRoles replaces the roles held by username.
func (s *Store) SetRoles(ctx context.Context, username string, roles ...string) error {
	p, err := s.LoadByUsername(ctx, username)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM authflow_user_roles WHERE user_id = $1`, p.ID); err != nil {
			return err
		}
		return assignRoles(ctx, tx, p.ID, roles)
	})
}

// DeleteUser removes username and its role assignments.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM authflow_users WHERE username = $1`, username)
	return err
}

func assignRoles(ctx context.Context, tx pgx.Tx, userID string, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, role := range roles {
		batch.Queue(`INSERT INTO authflow_user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, role)
	}
	return tx.SendBatch(ctx, batch).Close()
}
