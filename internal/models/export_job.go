package models

import "time"

// ExportFormat enumerates supported file formats.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportDestination selects where a finished gradebook export goes.
type ExportDestination string

const (
	DestinationDownload ExportDestination = "download"
	DestinationDrive    ExportDestination = "drive"
	DestinationSheets   ExportDestination = "sheets"
)

// ExportStatus captures background job lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusFinished   ExportStatus = "FINISHED"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJob persisted background job metadata.
type ExportJob struct {
	ID           string            `db:"id" json:"id"`
	BranchID     string            `db:"branch_id" json:"branch_id"`
	Format       ExportFormat      `db:"format" json:"format"`
	Destination  ExportDestination `db:"destination" json:"destination"`
	Status       ExportStatus      `db:"status" json:"status"`
	Progress     int               `db:"progress" json:"progress"`
	ResultURL    *string           `db:"result_url" json:"result_url,omitempty"`
	FilePath     *string           `db:"file_path" json:"-"`
	ExternalID   *string           `db:"external_id" json:"external_id,omitempty"`
	ErrorMessage *string           `db:"error_message" json:"error_message,omitempty"`
	CreatedBy    string            `db:"created_by" json:"created_by"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
	FinishedAt   *time.Time        `db:"finished_at" json:"finished_at,omitempty"`
}
