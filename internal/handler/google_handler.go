package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
	"github.com/noah-isme/profman-api/pkg/response"
)

type googleIntegration interface {
	AuthURL(ctx context.Context, actor models.Actor) (*dto.GoogleAuthURLResponse, error)
	Callback(ctx context.Context, code, state string) (*models.GoogleStatus, error)
	Status(ctx context.Context, actor models.Actor) (*models.GoogleStatus, error)
	Disconnect(ctx context.Context, actor models.Actor) error
}

// GoogleHandler connects professor accounts to Google Drive and Sheets.
type GoogleHandler struct {
	service     googleIntegration
	frontendURL string
}

// NewGoogleHandler constructs the handler. When frontendURL is set the OAuth
// callback redirects back to the web app instead of answering JSON.
func NewGoogleHandler(svc googleIntegration, frontendURL string) *GoogleHandler {
	return &GoogleHandler{service: svc, frontendURL: frontendURL}
}

// AuthURL godoc
// @Summary Google consent URL
// @Tags Integrations
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /integrations/google/auth-url [get]
func (h *GoogleHandler) AuthURL(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	res, err := h.service.AuthURL(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Callback godoc
// @Summary Google OAuth callback
// @Description Exchanges the authorization code. The signed state identifies the user.
// @Tags Integrations
// @Produce json
// @Param code query string true "Authorization code"
// @Param state query string true "Signed state"
// @Success 200 {object} response.Envelope
// @Success 302
// @Failure 403 {object} response.Envelope
// @Router /integrations/google/callback [get]
func (h *GoogleHandler) Callback(c *gin.Context) {
	var (
		status *models.GoogleStatus
		err    error
	)
	if denied := c.Query("error"); denied != "" {
		err = appErrors.Clone(appErrors.ErrValidation, "google authorization denied: "+denied)
	} else {
		status, err = h.service.Callback(c.Request.Context(), c.Query("code"), c.Query("state"))
	}

	if h.frontendURL != "" {
		c.Redirect(http.StatusFound, h.redirectTarget(err))
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

func (h *GoogleHandler) redirectTarget(err error) string {
	query := url.Values{}
	if err != nil {
		query.Set("google", "error")
		query.Set("reason", appErrors.Normalize(err).Code)
	} else {
		query.Set("google", "connected")
	}
	return h.frontendURL + "/integrations?" + query.Encode()
}

// Status godoc
// @Summary Google connection status
// @Tags Integrations
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /integrations/google/status [get]
func (h *GoogleHandler) Status(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	status, err := h.service.Status(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Disconnect godoc
// @Summary Disconnect Google account
// @Tags Integrations
// @Security BearerAuth
// @Success 204
// @Failure 412 {object} response.Envelope
// @Router /integrations/google [delete]
func (h *GoogleHandler) Disconnect(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	if err := h.service.Disconnect(c.Request.Context(), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
