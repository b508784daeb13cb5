package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/internal/repository"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
	"github.com/noah-isme/profman-api/pkg/export"
	"github.com/noah-isme/profman-api/pkg/google"
	"github.com/noah-isme/profman-api/pkg/jobs"
	"github.com/noah-isme/profman-api/pkg/signing"
	"github.com/noah-isme/profman-api/pkg/storage"
)

// ExportJobType is the queue job type of gradebook exports.
const ExportJobType = "gradebook_export"

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
	ClearFile(ctx context.Context, id string) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type gradebookAuthorizer interface {
	Authorize(ctx context.Context, actor models.Actor, branchID string) (*models.Branch, error)
}

type googleConnections interface {
	Get(ctx context.Context, userID string) (*models.GoogleToken, error)
	Upsert(ctx context.Context, token *models.GoogleToken) error
}

// ExportJobConfig governs queue recovery and file retention.
type ExportJobConfig struct {
	APIPrefix       string
	CleanupInterval time.Duration
}

// ExportDownload is a resolved download stream. Callers close Body.
type ExportDownload struct {
	Body        io.ReadCloser
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// ExportJobService creates gradebook export jobs and serves their results.
type ExportJobService struct {
	repo       exportJobStore
	gradebooks gradebookAuthorizer
	tokens     googleConnections
	google     googleOAuth
	queue      jobDispatcher
	store      storage.Store
	signer     *signing.Signer
	audit      auditRecorder
	metrics    *MetricsService
	validate   *validator.Validate
	logger     *zap.Logger
	cfg        ExportJobConfig
}

// NewExportJobService constructs the export job service.
func NewExportJobService(repo exportJobStore, gradebooks gradebookAuthorizer, tokens googleConnections, googleClient googleOAuth, queue jobDispatcher, store storage.Store, signer *signing.Signer, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg ExportJobConfig) *ExportJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportJobService{
		repo:       repo,
		gradebooks: gradebooks,
		tokens:     tokens,
		google:     googleClient,
		queue:      queue,
		store:      store,
		signer:     signer,
		audit:      audit,
		metrics:    metrics,
		validate:   validate,
		logger:     logger,
		cfg:        cfg,
	}
}

// CreateJob validates the request, persists a QUEUED job and enqueues it.
func (s *ExportJobService) CreateJob(ctx context.Context, actor models.Actor, branchID string, req dto.ExportRequest) (*dto.ExportJobResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err, "invalid export request")
	}
	if req.Format == "" {
		req.Format = models.ExportFormatCSV
	}
	if req.Destination == "" {
		req.Destination = models.DestinationDownload
	}

	branch, err := s.gradebooks.Authorize(ctx, actor, branchID)
	if err != nil {
		return nil, err
	}
	if req.Destination != models.DestinationDownload {
		if err := s.requireGoogle(ctx, actor.ID); err != nil {
			return nil, err
		}
	}

	job := &models.ExportJob{
		BranchID:    branch.ID,
		Format:      req.Format,
		Destination: req.Destination,
		Status:      models.ExportStatusQueued,
		CreatedBy:   actor.ID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: ExportJobType}); err != nil {
		s.fail(ctx, job, "failed to enqueue job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}

	s.metrics.RecordExportJob(job.Destination, job.Status)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionExportCreate, "export_job", job.ID, nil, job)
	return &dto.ExportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus exposes job progress to its creator and to admins.
func (s *ExportJobService) GetStatus(ctx context.Context, actor models.Actor, id string) (*dto.ExportStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "export job")
	}
	if !actor.IsAdmin() && job.CreatedBy != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export job belongs to another user")
	}
	resp := &dto.ExportStatusResponse{
		ID:          job.ID,
		BranchID:    job.BranchID,
		Format:      job.Format,
		Destination: job.Destination,
		Status:      job.Status,
		Progress:    job.Progress,
		ResultURL:   job.ResultURL,
		ExternalID:  job.ExternalID,
		FinishedAt:  job.FinishedAt,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload validates a signed token and opens the stored export.
func (s *ExportJobService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	claims, err := s.signer.Verify(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, lookupError(err, "export job")
	}
	if job.Status != models.ExportStatusFinished || job.FilePath == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not available")
	}
	if *job.FilePath != claims.Payload {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	body, err := s.store.Open(ctx, claims.Payload)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	renderer := rendererFor(job.Format)
	return &ExportDownload{
		Body:        body,
		Filename:    path.Base(claims.Payload),
		ContentType: renderer.ContentType(),
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs after a restart.
func (s *ExportJobService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued export jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: ExportJobType}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending export job", "job_id", job.ID, "error", err)
		}
	}
}

// StartCleanup purges expired download files every CleanupInterval until ctx ends.
func (s *ExportJobService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired(ctx)
			}
		}
	}()
}

// CleanupExpired deletes files whose download links have expired and sweeps orphans from storage.
func (s *ExportJobService) CleanupExpired(ctx context.Context) {
	const batch = 100
	ttl := s.signer.TTL()
	cutoff := time.Now().UTC().Add(-ttl)
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, batch)
		if err != nil {
			s.logger.Sugar().Warnw("export cleanup list failed", "error", err)
			return
		}
		cleared := 0
		for _, job := range expired {
			if job.FilePath == nil {
				continue
			}
			if err := s.store.Delete(ctx, *job.FilePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
				s.logger.Sugar().Warnw("export cleanup delete failed", "job_id", job.ID, "error", err)
				continue
			}
			if err := s.repo.ClearFile(ctx, job.ID); err != nil {
				s.logger.Sugar().Warnw("export cleanup clear failed", "job_id", job.ID, "error", err)
				continue
			}
			cleared++
		}
		if len(expired) < batch || cleared == 0 {
			break
		}
	}
	if _, err := s.store.CleanupOlderThan(ctx, ttl); err != nil {
		s.logger.Sugar().Warnw("export storage cleanup failed", "error", err)
	}
}

// MarkExhausted records the terminal failure of a job the queue stopped retrying.
func (s *ExportJobService) MarkExhausted(ctx context.Context, job jobs.Job, cause error) {
	record, err := s.repo.GetByID(ctx, job.ID)
	if err != nil {
		s.logger.Sugar().Warnw("failed to load exhausted export job", "job_id", job.ID, "error", err)
		return
	}
	s.fail(ctx, record, cause.Error())
}

func (s *ExportJobService) fail(ctx context.Context, job *models.ExportJob, msg string) {
	markFailed(ctx, s.repo, s.logger, job.ID, msg)
	s.metrics.RecordExportJob(job.Destination, models.ExportStatusFailed)
}

func (s *ExportJobService) requireGoogle(ctx context.Context, userID string) error {
	if s.google == nil || !s.google.Enabled() {
		return appErrors.Clone(appErrors.ErrNotConnected, "google integration is not configured")
	}
	if _, err := s.tokens.Get(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotConnected, "connect a google account before exporting to drive or sheets")
		}
		return lookupError(err, "google token")
	}
	return nil
}

func markFailed(ctx context.Context, repo exportJobStore, logger *zap.Logger, id, msg string) {
	failed := models.ExportStatusFailed
	progress := 100
	now := time.Now().UTC()
	if err := repo.Update(ctx, id, repository.UpdateExportJobParams{
		Status:       &failed,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		logger.Sugar().Warnw("failed to mark export job failed", "job_id", id, "error", err)
	}
}

type exportRenderer interface {
	ContentType() string
	Extension() string
	Render(data export.Dataset) ([]byte, error)
}

func rendererFor(format models.ExportFormat) exportRenderer {
	if format == models.ExportFormatPDF {
		return export.NewPDFExporter()
	}
	return export.NewCSVExporter()
}

type exportBranches interface {
	FindByID(ctx context.Context, id string) (*models.Branch, error)
}

type gradebookBuilder interface {
	Build(ctx context.Context, branch *models.Branch) (*models.Gradebook, error)
}

type googleDocuments interface {
	UploadFile(ctx context.Context, tok *oauth2.Token, name, mimeType string, r io.Reader) (google.Document, *oauth2.Token, error)
	CreateSpreadsheet(ctx context.Context, tok *oauth2.Token, title string, rows [][]interface{}) (google.Document, *oauth2.Token, error)
}

// ExportWorker renders gradebooks for queued export jobs.
type ExportWorker struct {
	repo       exportJobStore
	branches   exportBranches
	gradebooks gradebookBuilder
	store      storage.Store
	signer     *signing.Signer
	docs       googleDocuments
	tokens     googleConnections
	metrics    *MetricsService
	logger     *zap.Logger
	apiPrefix  string
	now        func() time.Time
}

// NewExportWorker constructs the worker. docs may be nil when Google is not configured.
func NewExportWorker(repo exportJobStore, branches exportBranches, gradebooks gradebookBuilder, store storage.Store, signer *signing.Signer, docs googleDocuments, tokens googleConnections, metrics *MetricsService, apiPrefix string, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportWorker{
		repo:       repo,
		branches:   branches,
		gradebooks: gradebooks,
		store:      store,
		signer:     signer,
		docs:       docs,
		tokens:     tokens,
		metrics:    metrics,
		logger:     logger,
		apiPrefix:  strings.TrimRight(apiPrefix, "/"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// exportResult is what a destination produced.
type exportResult struct {
	URL        string
	FilePath   *string
	ExternalID *string
}

// Handle processes one queue job. A returned error asks the queue to retry.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if record.Status == models.ExportStatusFinished || record.Status == models.ExportStatusFailed {
		return nil
	}
	processing := models.ExportStatusProcessing
	progress := 10
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}

	result, err := w.run(ctx, record)
	if err != nil {
		msg := err.Error()
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Status < 500 {
			// Retrying cannot fix a missing branch or a disconnected account.
			markFailed(ctx, w.repo, w.logger, job.ID, msg)
			w.metrics.RecordExportJob(record.Destination, models.ExportStatusFailed)
			return nil
		}
		queued := models.ExportStatusQueued
		reset := 0
		if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &queued,
			Progress:     &reset,
			ErrorMessage: &msg,
		}); updateErr != nil {
			w.logger.Sugar().Warnw("failed to mark export job queued", "job_id", job.ID, "error", updateErr)
		}
		return err
	}

	finished := models.ExportStatusFinished
	progress = 100
	now := w.now()
	noError := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		Progress:     &progress,
		ResultURL:    &result.URL,
		FilePath:     result.FilePath,
		ExternalID:   result.ExternalID,
		ErrorMessage: &noError,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark export job finished", "job_id", job.ID, "error", err)
		return err
	}
	w.metrics.RecordExportJob(record.Destination, models.ExportStatusFinished)
	return nil
}

func (w *ExportWorker) run(ctx context.Context, job *models.ExportJob) (*exportResult, error) {
	branch, err := w.branches.FindByID(ctx, job.BranchID)
	if err != nil {
		return nil, lookupError(err, "branch")
	}
	if branch.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "branch not found")
	}
	book, err := w.gradebooks.Build(ctx, branch)
	if err != nil {
		return nil, err
	}
	data := GradebookDataset(book)

	if job.Destination == models.DestinationSheets {
		return w.toSheets(ctx, job, data)
	}

	renderer := rendererFor(job.Format)
	payload, err := renderer.Render(data)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", job.Format, err)
	}
	name := exportFilename(branch, w.now(), renderer.Extension())

	if job.Destination == models.DestinationDrive {
		return w.toDrive(ctx, job, name, renderer.ContentType(), payload)
	}
	return w.toDownload(ctx, job, name, renderer.ContentType(), payload)
}

func (w *ExportWorker) toDownload(ctx context.Context, job *models.ExportJob, name, contentType string, payload []byte) (*exportResult, error) {
	key := path.Join("gradebooks", job.BranchID, job.ID+"_"+name)
	if err := w.store.Save(ctx, key, contentType, bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("save export: %w", err)
	}
	token, _, err := w.signer.Sign(job.ID, key)
	if err != nil {
		return nil, fmt.Errorf("sign download: %w", err)
	}
	return &exportResult{URL: fmt.Sprintf("%s/exports/download/%s", w.apiPrefix, token), FilePath: &key}, nil
}

func (w *ExportWorker) toDrive(ctx context.Context, job *models.ExportJob, name, contentType string, payload []byte) (*exportResult, error) {
	return w.withGoogle(ctx, job.CreatedBy, func(tok *oauth2.Token) (google.Document, *oauth2.Token, error) {
		return w.docs.UploadFile(ctx, tok, name, contentType, bytes.NewReader(payload))
	})
}

func (w *ExportWorker) toSheets(ctx context.Context, job *models.ExportJob, data export.Dataset) (*exportResult, error) {
	return w.withGoogle(ctx, job.CreatedBy, func(tok *oauth2.Token) (google.Document, *oauth2.Token, error) {
		return w.docs.CreateSpreadsheet(ctx, tok, data.Title, data.Matrix())
	})
}

// withGoogle runs call with the user's stored token and persists a refreshed one.
func (w *ExportWorker) withGoogle(ctx context.Context, userID string, call func(*oauth2.Token) (google.Document, *oauth2.Token, error)) (*exportResult, error) {
	if w.docs == nil {
		return nil, appErrors.Clone(appErrors.ErrNotConnected, "google integration is not configured")
	}
	record, err := w.tokens.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotConnected, "google account is not connected")
		}
		return nil, err
	}
	tok := toOAuthToken(record)
	doc, latest, err := call(tok)
	if err != nil {
		return nil, err
	}
	if tokenChanged(tok, latest) {
		refreshed := fromOAuthToken(userID, latest)
		if err := w.tokens.Upsert(ctx, refreshed); err != nil {
			w.logger.Sugar().Warnw("failed to persist refreshed google token", "user_id", userID, "error", err)
		}
	}
	id := doc.ID
	return &exportResult{URL: doc.URL, ExternalID: &id}, nil
}

// GradebookDataset flattens a gradebook into one row per student.
func GradebookDataset(book *models.Gradebook) export.Dataset {
	headers := []string{"Student", "Email"}
	quizHeaders := make([]string, len(book.Quizzes))
	for i, col := range book.Quizzes {
		quizHeaders[i] = fmt.Sprintf("Quiz %d: %s", i+1, col.Title)
	}
	examHeaders := make([]string, len(book.Exams))
	for i, col := range book.Exams {
		examHeaders[i] = fmt.Sprintf("Exam %d: %s", i+1, col.Title)
	}
	headers = append(headers, quizHeaders...)
	headers = append(headers, examHeaders...)
	headers = append(headers, "Average")

	rows := make([]map[string]string, 0, len(book.Rows))
	for _, student := range book.Rows {
		row := map[string]string{
			"Student": student.FullName,
			"Email":   student.Email,
			"Average": formatPercentage(student.Average),
		}
		for i, cell := range student.Quizzes {
			if i < len(quizHeaders) {
				row[quizHeaders[i]] = formatPercentage(cell.Percentage)
			}
		}
		for i, cell := range student.Exams {
			if i >= len(examHeaders) {
				continue
			}
			value := formatPercentage(cell.Percentage)
			if value != "" && cell.LetterGrade != "" {
				value += " (" + cell.LetterGrade + ")"
			}
			row[examHeaders[i]] = value
		}
		rows = append(rows, row)
	}
	return export.Dataset{
		Title:   "Gradebook " + book.BranchName,
		Headers: headers,
		Rows:    rows,
	}
}

func formatPercentage(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

func exportFilename(branch *models.Branch, at time.Time, ext string) string {
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	name := replacer.Replace(strings.TrimSpace(branch.Name))
	if name == "" {
		name = "branch"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return fmt.Sprintf("gradebook_%s_%s.%s", name, at.Format("20060102_150405"), ext)
}
