package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
	"github.com/noah-isme/profman-api/pkg/mail"
)

type mockAuthRepo struct {
	user             *models.User
	findByEmailErr   error
	refreshTokens    map[string]*models.RefreshToken
	resets           map[string]*models.PasswordReset
	revokedAllFor    []string
	auditLogs        []*models.AuditLog
	lastLoginUpdated bool
}

func newMockAuthRepo(user *models.User) *mockAuthRepo {
	return &mockAuthRepo{
		user:          user,
		refreshTokens: make(map[string]*models.RefreshToken),
		resets:        make(map[string]*models.PasswordReset),
	}
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.user == nil || m.user.Email != email {
		return nil, sql.ErrNoRows
	}
	copy := *m.user
	return &copy, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.user == nil || m.user.ID != id {
		return nil, sql.ErrNoRows
	}
	copy := *m.user
	return &copy, nil
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.user != nil && m.user.ID == id {
		m.user.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedAllFor = append(m.revokedAllFor, userID)
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	stored, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *stored
	return &copy, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			if token.Revoked {
				return sql.ErrNoRows
			}
			token.Revoked = true
			token.RevokedAt = &revokedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockAuthRepo) CreatePasswordReset(ctx context.Context, reset *models.PasswordReset) error {
	for _, existing := range m.resets {
		if existing.UserID == reset.UserID && existing.UsedAt == nil {
			used := reset.CreatedAt
			existing.UsedAt = &used
		}
	}
	reset.ID = "reset-" + reset.TokenHash[:8]
	m.resets[reset.TokenHash] = reset
	return nil
}

func (m *mockAuthRepo) FindPasswordReset(ctx context.Context, tokenHash string) (*models.PasswordReset, error) {
	reset, ok := m.resets[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *reset
	return &copy, nil
}

func (m *mockAuthRepo) MarkPasswordResetUsed(ctx context.Context, id string, usedAt time.Time) error {
	for _, reset := range m.resets {
		if reset.ID == id {
			if reset.UsedAt != nil {
				return sql.ErrNoRows
			}
			reset.UsedAt = &usedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type captureMailer struct {
	sent []mail.Message
}

func (c *captureMailer) Send(ctx context.Context, msg mail.Message) error {
	c.sent = append(c.sent, msg)
	return nil
}

func testUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "user-1",
		Email:        "prof@example.com",
		FullName:     "Ada Lovelace",
		Role:         models.RoleProfessor,
		PasswordHash: string(hash),
		SoftDelete:   models.SoftDelete{IsActive: true},
	}
}

func newTestAuthService(repo *mockAuthRepo, mailer mail.Mailer) *AuthService {
	return NewAuthService(repo, mailer, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: time.Hour,
		ResetTokenExpiry:   time.Hour,
		Issuer:             "profman-test",
		FrontendBaseURL:    "https://app.example.com",
	})
}

func appErr(t *testing.T, err error) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	typed, ok := err.(*appErrors.Error)
	require.True(t, ok, "expected *errors.Error, got %T", err)
	return typed
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password123"))
	svc := newTestAuthService(repo, nil)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "prof@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(900), resp.ExpiresIn)
	assert.Equal(t, models.RoleProfessor, resp.User.Role)
	assert.True(t, repo.lastLoginUpdated)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleProfessor, claims.Role)
}

func TestAuthServiceLoginInvalidPassword(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password123"))
	svc := newTestAuthService(repo, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "prof@example.com", Password: "wrong-password"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr(t, err).Code)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErr(t, err).Code)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	user := testUser(t, "password123")
	user.IsActive = false
	svc := newTestAuthService(newMockAuthRepo(user), nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "prof@example.com", Password: "password123"})
	e := appErr(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, e.Code)
	assert.Equal(t, 403, e.Status)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password123"))
	svc := newTestAuthService(repo, nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "prof@example.com", Password: "password123"})
	require.NoError(t, err)

	pair, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, pair.RefreshToken)
	assert.True(t, repo.refreshTokens[login.RefreshToken].Revoked)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, appErrors.ErrTokenInvalid.Code, appErr(t, err).Code)
}

func TestAuthServiceRefreshExpired(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password123"))
	repo.refreshTokens["old"] = &models.RefreshToken{ID: "rt-1", UserID: "user-1", Token: "old", ExpiresAt: time.Now().Add(-time.Minute)}
	svc := newTestAuthService(repo, nil)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "old"})
	assert.Equal(t, appErrors.ErrTokenExpired.Code, appErr(t, err).Code)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "missing"})
	assert.Equal(t, appErrors.ErrTokenInvalid.Code, appErr(t, err).Code)
}

func TestAuthServiceLogoutRejectsForeignToken(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password123"))
	repo.refreshTokens["foreign"] = &models.RefreshToken{ID: "rt-2", UserID: "user-2", Token: "foreign", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestAuthService(repo, nil)

	err := svc.Logout(context.Background(), models.Actor{ID: "user-1"}, models.LogoutRequest{RefreshToken: "foreign"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr(t, err).Code)
	assert.False(t, repo.refreshTokens["foreign"].Revoked)
}

func TestAuthServiceChangePassword(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password123"))
	svc := newTestAuthService(repo, nil)
	actor := models.Actor{ID: "user-1", Role: models.RoleProfessor}

	err := svc.ChangePassword(context.Background(), actor, models.ChangePasswordRequest{OldPassword: "nope-nope", NewPassword: "newpassword1"})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr(t, err).Code)

	require.NoError(t, svc.ChangePassword(context.Background(), actor, models.ChangePasswordRequest{OldPassword: "password123", NewPassword: "newpassword1"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.user.PasswordHash), []byte("newpassword1")))
	assert.Equal(t, []string{"user-1"}, repo.revokedAllFor)
}

func TestAuthServiceForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	mailer := &captureMailer{}
	repo := newMockAuthRepo(testUser(t, "password123"))
	svc := newTestAuthService(repo, mailer)

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ghost@example.com"}))
	assert.Empty(t, mailer.sent)
	assert.Empty(t, repo.resets)
}

func TestAuthServiceResetPasswordSingleUse(t *testing.T) {
	mailer := &captureMailer{}
	repo := newMockAuthRepo(testUser(t, "password123"))
	svc := newTestAuthService(repo, mailer)

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "prof@example.com"}))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "prof@example.com", mailer.sent[0].ToAddress)
	assert.Contains(t, mailer.sent[0].Text, "https://app.example.com/reset-password?token=")

	link := mailer.sent[0].Text
	raw := strings.TrimSpace(link[strings.Index(link, "token=")+len("token="):])
	_, stored := repo.resets[hashToken(raw)]
	require.True(t, stored)

	require.NoError(t, svc.ResetPassword(context.Background(), models.ResetPasswordRequest{Token: raw, NewPassword: "brandnew123"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.user.PasswordHash), []byte("brandnew123")))

	err := svc.ResetPassword(context.Background(), models.ResetPasswordRequest{Token: raw, NewPassword: "another123"})
	e := appErr(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, e.Code)
	assert.Equal(t, "reset token is invalid or expired", e.Message)
}

func TestAuthServiceNewResetVoidsPrevious(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password123"))
	svc := newTestAuthService(repo, &captureMailer{})

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "prof@example.com"}))
	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "prof@example.com"}))

	var live int
	for _, reset := range repo.resets {
		if reset.UsedAt == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestAuthServiceResetPasswordExpired(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password123"))
	repo.resets[hashToken("stale")] = &models.PasswordReset{ID: "r1", UserID: "user-1", TokenHash: hashToken("stale"), ExpiresAt: time.Now().Add(-time.Minute)}
	svc := newTestAuthService(repo, nil)

	err := svc.ResetPassword(context.Background(), models.ResetPasswordRequest{Token: "stale", NewPassword: "brandnew123"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErr(t, err).Code)
}

func TestAuthServiceValidateTokenRejectsForeignSecret(t *testing.T) {
	repo := newMockAuthRepo(testUser(t, "password123"))
	other := NewAuthService(repo, nil, nil, nil, AuthConfig{AccessTokenSecret: "other", AccessTokenExpiry: time.Minute, Issuer: "profman-test"})
	login, err := other.Login(context.Background(), models.LoginRequest{Email: "prof@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = newTestAuthService(repo, nil).ValidateToken(login.AccessToken)
	assert.Equal(t, appErrors.ErrTokenInvalid.Code, appErr(t, err).Code)
}

func TestAuthServiceForgotPasswordEscapesHTML(t *testing.T) {
	mailer := &captureMailer{}
	user := testUser(t, "password123")
	user.FullName = `<script>alert("x")</script> & Co`
	svc := newTestAuthService(newMockAuthRepo(user), mailer)

	require.NoError(t, svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "prof@example.com"}))
	require.Len(t, mailer.sent, 1)
	body := mailer.sent[0].HTML
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt; &amp; Co")
	assert.Contains(t, mailer.sent[0].Text, user.FullName)
}
