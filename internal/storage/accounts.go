// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations and sign-in records in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMissingIdentity is returned when a sign-in has no email or no provider.
var ErrMissingIdentity = errors.New("sign-in requires an email and a provider")

// SignIn is the identity reported by an external identity provider.
type SignIn struct {
	SSOID    string `json:"sso_id"`
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
	Provider string `json:"provider" validate:"required"`
}

// User is a recorded account.
type User struct {
	ID        int64     `json:"id"`
	SSOID     string    `json:"sso_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login,omitempty"`
	Credits   int64     `json:"credits"`
}

// Accounts records sign-ins. Users are keyed by (email, provider).
type Accounts struct {
	db  *sql.DB
	log *zap.Logger
}

// Accounts returns the account store backed by s.
func (s *Store) Accounts() *Accounts {
	return &Accounts{db: s.db, log: s.log}
}

// RecordSignIn records a successful sign-in and returns the user ID.
//
// The first sign-in for an (email, provider) pair creates the user and an
// empty credits row. Later sign-ins update last_login and sso_id.
func (a *Accounts) RecordSignIn(ctx context.Context, in SignIn) (int64, error) {
	email := strings.TrimSpace(in.Email)
	provider := strings.TrimSpace(in.Provider)
	if email == "" || provider == "" {
		return 0, ErrMissingIdentity
	}

	var (
		userID  int64
		created bool
	)
	now := time.Now().UnixNano()

	err := withTx(ctx, a.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM users WHERE email = ? AND provider = ?`, email, provider,
		).Scan(&userID)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO users (sso_id, email, name, provider, created_at, last_login)
				VALUES (?, ?, ?, ?, ?, ?)`,
				in.SSOID, email, in.Name, provider, now, now)
			if err != nil {
				return fmt.Errorf("insert user: %w", err)
			}
			if userID, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("insert user: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO credits (user_id) VALUES (?)`, userID); err != nil {
				return fmt.Errorf("insert credits: %w", err)
			}
			created = true
			return nil

		case err != nil:
			return fmt.Errorf("query user: %w", err)

		default:
			_, err := tx.ExecContext(ctx,
				`UPDATE users SET last_login = ?, sso_id = ? WHERE id = ?`, now, in.SSOID, userID)
			if err != nil {
				return fmt.Errorf("update user: %w", err)
			}
			return nil
		}
	})
	if err != nil {
		return 0, fmt.Errorf("record sign-in: %w", err)
	}

	a.log.Info("sign-in recorded",
		zap.Int64("user_id", userID),
		zap.String("provider", provider),
		zap.Bool("new_user", created))
	return userID, nil
}

// LookupUserID returns the ID of the user with the given email and provider.
func (a *Accounts) LookupUserID(ctx context.Context, email, provider string) (int64, error) {
	var id int64
	err := a.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE email = ? AND provider = ?`,
		strings.TrimSpace(email), strings.TrimSpace(provider),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup user: %w", err)
	}
	return id, nil
}

// User returns a recorded user with their credit balance.
func (a *Accounts) User(ctx context.Context, id int64) (*User, error) {
	var (
		u         User
		created   int64
		lastLogin sql.NullInt64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT u.id, u.sso_id, u.email, u.name, u.provider, u.created_at, u.last_login,
		       COALESCE(c.balance, 0)
		FROM users u LEFT JOIN credits c ON c.user_id = u.id
		WHERE u.id = ?`, id,
	).Scan(&u.ID, &u.SSOID, &u.Email, &u.Name, &u.Provider, &created, &lastLogin, &u.Credits)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.CreatedAt = time.Unix(0, created)
	if lastLogin.Valid {
		u.LastLogin = time.Unix(0, lastLogin.Int64)
	}
	return &u, nil
}
