package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
	"github.com/noah-isme/profman-api/pkg/signing"
)

type googleTokenStore interface {
	Get(ctx context.Context, userID string) (*models.GoogleToken, error)
	Upsert(ctx context.Context, token *models.GoogleToken) error
	Delete(ctx context.Context, userID string) error
}

type googleOAuth interface {
	Enabled() bool
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// GoogleIntegrationService connects a user's Google account for Drive and Sheets exports.
type GoogleIntegrationService struct {
	tokens googleTokenStore
	oauth  googleOAuth
	states *signing.Signer
	audit  auditRecorder
	logger *zap.Logger
}

// NewGoogleIntegrationService constructs the service. states signs the OAuth state parameter.
func NewGoogleIntegrationService(tokens googleTokenStore, oauth googleOAuth, states *signing.Signer, audit auditRecorder, logger *zap.Logger) *GoogleIntegrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleIntegrationService{tokens: tokens, oauth: oauth, states: states, audit: audit, logger: logger}
}

// AuthURL returns the consent URL with a short-lived state bound to the actor.
func (s *GoogleIntegrationService) AuthURL(ctx context.Context, actor models.Actor) (*dto.GoogleAuthURLResponse, error) {
	if err := s.requireEnabled(); err != nil {
		return nil, err
	}
	state, expiresAt, err := s.states.Sign(actor.ID, uuid.NewString())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign oauth state")
	}
	return &dto.GoogleAuthURLResponse{URL: s.oauth.AuthCodeURL(state), ExpiresAt: expiresAt}, nil
}

// Callback exchanges the authorization code and stores the token for the user the state names.
func (s *GoogleIntegrationService) Callback(ctx context.Context, code, state string) (*models.GoogleStatus, error) {
	if err := s.requireEnabled(); err != nil {
		return nil, err
	}
	if code == "" || state == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "code and state are required")
	}
	claims, err := s.states.Verify(state, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired oauth state")
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Sugar().Warnw("google code exchange failed", "user_id", claims.Subject, "error", err)
		return nil, appErrors.Clone(appErrors.ErrValidation, "authorization code rejected by google")
	}
	record := fromOAuthToken(claims.Subject, tok)
	if err := s.tokens.Upsert(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store google token")
	}

	actor := models.Actor{ID: claims.Subject}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionGoogleConnect, "google_token", claims.Subject, nil, nil)
	return s.Status(ctx, actor)
}

// Status reports whether the actor has a stored Google token.
func (s *GoogleIntegrationService) Status(ctx context.Context, actor models.Actor) (*models.GoogleStatus, error) {
	status := &models.GoogleStatus{Enabled: s.requireEnabled() == nil}
	record, err := s.tokens.Get(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return status, nil
		}
		return nil, lookupError(err, "google token")
	}
	connectedAt := record.CreatedAt
	status.Connected = true
	status.ConnectedAt = &connectedAt
	status.Expiry = record.Expiry
	return status, nil
}

// Disconnect forgets the actor's Google token.
func (s *GoogleIntegrationService) Disconnect(ctx context.Context, actor models.Actor) error {
	if err := s.tokens.Delete(ctx, actor.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotConnected, "google account is not connected")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove google token")
	}
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionGoogleDisconnect, "google_token", actor.ID, nil, nil)
	return nil
}

func (s *GoogleIntegrationService) requireEnabled() error {
	if s.oauth == nil || !s.oauth.Enabled() {
		return appErrors.Clone(appErrors.ErrNotConnected, "google integration is not configured")
	}
	return nil
}

func fromOAuthToken(userID string, tok *oauth2.Token) *models.GoogleToken {
	record := &models.GoogleToken{
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		record.Expiry = &expiry
	}
	return record
}

func toOAuthToken(record *models.GoogleToken) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		TokenType:    record.TokenType,
	}
	if record.Expiry != nil {
		tok.Expiry = *record.Expiry
	}
	return tok
}

// tokenChanged reports whether Google refreshed the credential during a call.
func tokenChanged(before, after *oauth2.Token) bool {
	if after == nil {
		return false
	}
	return after.AccessToken != before.AccessToken || !after.Expiry.Equal(before.Expiry)
}
