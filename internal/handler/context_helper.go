package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/noah-isme/profman-api/internal/middleware"
	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
	"github.com/noah-isme/profman-api/pkg/response"
)

// actorFrom builds the acting user from the JWT claims and request metadata.
// It writes a 401 and reports false when the route was not authenticated.
func actorFrom(c *gin.Context) (models.Actor, bool) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return models.Actor{
		ID:   claims.UserID,
		Role: claims.Role,
		RequestMeta: models.RequestMeta{
			IP:        c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		},
	}, true
}

// pathID reads a uuid route parameter.
func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidID, "invalid "+name))
		return "", false
	}
	return id, true
}

// bindJSON decodes the request body, writing a 400 on malformed payloads.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

// listParams parses the shared paging query. include_deleted is honoured for admins only.
func listParams(c *gin.Context, actor models.Actor) (models.ListParams, bool) {
	params := models.ListParams{
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	var ok bool
	if params.Page, ok = queryInt(c, "page"); !ok {
		return params, false
	}
	if params.PageSize, ok = queryInt(c, "page_size"); !ok {
		return params, false
	}
	includeDeleted, ok := queryBool(c, "include_deleted")
	if !ok {
		return params, false
	}
	params.IncludeDeleted = includeDeleted != nil && *includeDeleted && actor.IsAdmin()
	return params.Normalize(), true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		response.Error(c, appErrors.WithDetails(appErrors.ErrValidation, map[string]string{key: "must be a positive integer"}))
		return 0, false
	}
	return n, true
}

func queryBool(c *gin.Context, key string) (*bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		response.Error(c, appErrors.WithDetails(appErrors.ErrValidation, map[string]string{key: "must be a boolean"}))
		return nil, false
	}
	return &b, true
}

// queryID reads an optional uuid filter from the query string.
func queryID(c *gin.Context, key string) (string, bool) {
	raw := c.Query(key)
	if raw == "" {
		return "", true
	}
	if _, err := uuid.Parse(raw); err != nil {
		response.Error(c, appErrors.WithDetails(appErrors.ErrValidation, map[string]string{key: "must be a valid uuid"}))
		return "", false
	}
	return raw, true
}
