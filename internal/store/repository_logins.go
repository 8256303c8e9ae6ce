package store

import (
	"context"
	"fmt"
	"time"
)

// CreatePendingLogin opens a two-phase login for the given player login
// name and returns the polling handle.
func (s *Store) CreatePendingLogin(ctx context.Context, login, secret string) (int64, error) {
	var handle int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO pending_logins (login, secret)
		VALUES ($1, $2)
		RETURNING id`, login, secret).Scan(&handle)
	if err != nil {
		return 0, fmt.Errorf("create pending login: %w", err)
	}
	return handle, nil
}

// PendingLoginByHandle loads one pending login.
func (s *Store) PendingLoginByHandle(ctx context.Context, handle int64) (*PendingLogin, error) {
	var pl PendingLogin
	err := s.pool.QueryRow(ctx, `
		SELECT id, created_at, login, secret, ready, valid, profile_url, profile_url_rml
		FROM pending_logins
		WHERE id = $1`, handle).
		Scan(&pl.Handle, &pl.CreatedAt, &pl.Login, &pl.Secret, &pl.Ready, &pl.Valid, &pl.ProfileURL, &pl.ProfileURLRML)
	if err != nil {
		return nil, fmt.Errorf("pending login by handle: %w", mapNotFound(err))
	}
	return &pl, nil
}

// ResolvePendingLogin marks a pending login ready with the auth service's
// verdict and profile URLs.
func (s *Store) ResolvePendingLogin(ctx context.Context, handle int64, valid bool, profileURL, profileURLRML string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_logins
		SET ready = true, valid = $2, profile_url = $3, profile_url_rml = $4
		WHERE id = $1`,
		handle, valid, profileURL, profileURLRML)
	if err != nil {
		return fmt.Errorf("resolve pending login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePendingLogin removes a pending login once claimed.
func (s *Store) DeletePendingLogin(ctx context.Context, handle int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pending_logins WHERE id = $1`, handle)
	if err != nil {
		return fmt.Errorf("delete pending login: %w", err)
	}
	return nil
}

// DeleteExpiredPendingLogins removes pending logins created before cutoff
// and reports how many were dropped.
func (s *Store) DeleteExpiredPendingLogins(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pending_logins WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending logins: %w", err)
	}
	return tag.RowsAffected(), nil
}
