package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/profman-api/internal/models"
)

// GoogleTokenRepository stores OAuth2 credentials per user.
type GoogleTokenRepository struct {
	db *sqlx.DB
}

// NewGoogleTokenRepository constructs the repository.
func NewGoogleTokenRepository(db *sqlx.DB) *GoogleTokenRepository {
	return &GoogleTokenRepository{db: db}
}

// Get returns the stored token for a user.
func (r *GoogleTokenRepository) Get(ctx context.Context, userID string) (*models.GoogleToken, error) {
	const query = `SELECT user_id, access_token, refresh_token, token_type, expiry, email, created_at, updated_at FROM google_tokens WHERE user_id = $1`
	var token models.GoogleToken
	if err := r.db.GetContext(ctx, &token, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get google token: %w", err)
	}
	return &token, nil
}

// Upsert stores the token. An empty refresh token keeps the one already on file,
// since Google only returns it on first consent.
func (r *GoogleTokenRepository) Upsert(ctx context.Context, token *models.GoogleToken) error {
	now := time.Now().UTC()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now
	const query = `INSERT INTO google_tokens (user_id, access_token, refresh_token, token_type, expiry, email, created_at, updated_at)
VALUES (:user_id, :access_token, :refresh_token, :token_type, :expiry, :email, :created_at, :updated_at)
ON CONFLICT (user_id) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), google_tokens.refresh_token),
	token_type = EXCLUDED.token_type,
	expiry = EXCLUDED.expiry,
	email = COALESCE(NULLIF(EXCLUDED.email, ''), google_tokens.email),
	updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("upsert google token: %w", err)
	}
	return nil
}

// Delete removes the stored token.
func (r *GoogleTokenRepository) Delete(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM google_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete google token: %w", err)
	}
	return requireAffected(res)
}
