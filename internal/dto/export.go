package dto

import (
	"time"

	"github.com/noah-isme/profman-api/internal/models"
)

// ExportRequest captures POST /branches/:id/gradebook/exports payload.
type ExportRequest struct {
	Format      models.ExportFormat      `json:"format" validate:"omitempty,oneof=csv pdf"`
	Destination models.ExportDestination `json:"destination" validate:"omitempty,oneof=download drive sheets"`
}

// ExportJobResponse is returned after enqueueing an export.
type ExportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ExportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ExportStatusResponse exposes job progress metadata.
type ExportStatusResponse struct {
	ID          string                   `json:"id"`
	BranchID    string                   `json:"branch_id"`
	Format      models.ExportFormat      `json:"format"`
	Destination models.ExportDestination `json:"destination"`
	Status      models.ExportStatus      `json:"status"`
	Progress    int                      `json:"progress"`
	ResultURL   *string                  `json:"result_url,omitempty"`
	ExternalID  *string                  `json:"external_id,omitempty"`
	Error       *string                  `json:"error,omitempty"`
	FinishedAt  *time.Time               `json:"finished_at,omitempty"`
}

// GoogleAuthURLResponse carries the consent URL for connecting Google.
type GoogleAuthURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
