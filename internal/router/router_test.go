package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/handler"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/internal/service"
	"github.com/noah-isme/profman-api/pkg/config"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

const (
	professorID = "1a2b3c4d-5e6f-4a1b-8c2d-3e4f5a6b7c8d"
	studentID   = "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b"
	otherID     = "5b1f7a2e-3c4d-4e5f-9a6b-7c8d9e0f1a2b"
)

type tokenTable map[string]*models.JWTClaims

func (t tokenTable) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.ErrTokenInvalid
}

// newTestEngine wires every route with nil services. Only requests rejected by
// middleware, or served by the probes, may be sent through it.
func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return New(Dependencies{
		Config:  &config.Config{Env: config.EnvDevelopment, APIPrefix: "/api/v1"},
		Logger:  zap.NewNop(),
		Metrics: service.NewMetricsService(),
		Tokens: tokenTable{
			"student":   {UserID: studentID, Role: models.RoleStudent},
			"professor": {UserID: professorID, Role: models.RoleProfessor},
		},
		Auth:       handler.NewAuthHandler(nil),
		Users:      handler.NewUserHandler(nil, nil),
		Subjects:   handler.NewSubjectHandler(nil),
		Branches:   handler.NewBranchHandler(nil),
		Quizzes:    handler.NewQuizHandler(nil),
		Exams:      handler.NewExamHandler(nil),
		Gradebooks: handler.NewGradebookHandler(nil, nil),
		Google:     handler.NewGoogleHandler(nil, ""),
		Probes:     handler.NewMetricsHandler(service.NewMetricsService(), nil),
	})
}

func request(r http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestProbesArePublic(t *testing.T) {
	r := newTestEngine(t)

	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/ready", "").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/metrics", "").Code)

	w := request(r, http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r := newTestEngine(t)
	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodGet, "/api/v1/users"},
		{http.MethodGet, "/api/v1/subjects"},
		{http.MethodGet, "/api/v1/branches"},
		{http.MethodGet, "/api/v1/quizzes"},
		{http.MethodGet, "/api/v1/exams"},
		{http.MethodGet, "/api/v1/quiz-attempts/" + otherID},
		{http.MethodPut, "/api/v1/exam-submissions/" + otherID + "/grade"},
		{http.MethodGet, "/api/v1/exports/" + otherID},
		{http.MethodGet, "/api/v1/integrations/google/status"},
		{http.MethodGet, "/api/v1/admin/stats"},
	}
	for _, route := range routes {
		w := request(r, route.method, route.path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}

	w := request(r, http.MethodGet, "/api/v1/branches", "forged")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleGates(t *testing.T) {
	r := newTestEngine(t)
	cases := []struct {
		method, path, token string
	}{
		{http.MethodGet, "/api/v1/users", "professor"},
		{http.MethodGet, "/api/v1/admin/stats", "professor"},
		{http.MethodPost, "/api/v1/subjects", "professor"},
		{http.MethodPost, "/api/v1/branches", "professor"},
		{http.MethodPost, "/api/v1/branches/" + otherID + "/students", "professor"},
		{http.MethodPut, "/api/v1/branches/" + otherID + "/weeks", "student"},
		{http.MethodGet, "/api/v1/branches/" + otherID + "/gradebook", "student"},
		{http.MethodPost, "/api/v1/branches/" + otherID + "/gradebook/exports", "student"},
		{http.MethodPost, "/api/v1/quizzes", "student"},
		{http.MethodPost, "/api/v1/quizzes/" + otherID + "/attempts", "professor"},
		{http.MethodPost, "/api/v1/exams/" + otherID + "/publish", "student"},
		{http.MethodPost, "/api/v1/exams/" + otherID + "/submissions", "professor"},
		{http.MethodPut, "/api/v1/exam-submissions/" + otherID + "/grade", "student"},
		{http.MethodGet, "/api/v1/integrations/google/auth-url", "student"},
		{http.MethodGet, "/api/v1/users/" + otherID, "student"},
	}
	for _, tc := range cases {
		w := request(r, tc.method, tc.path, tc.token)
		assert.Equal(t, http.StatusForbidden, w.Code, "%s %s as %s", tc.method, tc.path, tc.token)
	}
}

func TestUnknownRoute(t *testing.T) {
	w := request(newTestEngine(t), http.MethodGet, "/api/v1/nope", "student")
	require.Equal(t, http.StatusNotFound, w.Code)
}
