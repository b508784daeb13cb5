package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/internal/repository"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
	"github.com/noah-isme/profman-api/pkg/google"
	"github.com/noah-isme/profman-api/pkg/jobs"
	"github.com/noah-isme/profman-api/pkg/signing"
	"github.com/noah-isme/profman-api/pkg/storage"
	"github.com/noah-isme/profman-api/pkg/validation"
)

type exportJobRepoStub struct {
	jobs map[string]*models.ExportJob
}

func newExportJobRepoStub() *exportJobRepoStub {
	return &exportJobRepoStub{jobs: map[string]*models.ExportJob{}}
}

func (r *exportJobRepoStub) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = time.Now().UTC()
	r.jobs[job.ID] = job
	return nil
}

func (r *exportJobRepoStub) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *job
	return &cp, nil
}

func (r *exportJobRepoStub) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.FilePath != nil {
		job.FilePath = params.FilePath
	}
	if params.ExternalID != nil {
		job.ExternalID = params.ExternalID
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *exportJobRepoStub) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	var queued []models.ExportJob
	for _, job := range r.jobs {
		if job.Status == models.ExportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *exportJobRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range r.jobs {
		if job.Status == models.ExportStatusFinished && job.FilePath != nil && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *exportJobRepoStub) ClearFile(ctx context.Context, id string) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.FilePath = nil
	job.ResultURL = nil
	return nil
}

type queueStub struct {
	enqueued []jobs.Job
	err      error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

type googleTokenStub struct {
	tokens  map[string]*models.GoogleToken
	upserts int
}

func newGoogleTokenStub() *googleTokenStub {
	return &googleTokenStub{tokens: map[string]*models.GoogleToken{}}
}

func (s *googleTokenStub) Get(ctx context.Context, userID string) (*models.GoogleToken, error) {
	tok, ok := s.tokens[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *tok
	return &cp, nil
}

func (s *googleTokenStub) Upsert(ctx context.Context, token *models.GoogleToken) error {
	s.upserts++
	s.tokens[token.UserID] = token
	return nil
}

func (s *googleTokenStub) Delete(ctx context.Context, userID string) error {
	if _, ok := s.tokens[userID]; !ok {
		return sql.ErrNoRows
	}
	delete(s.tokens, userID)
	return nil
}

type googleClientStub struct {
	enabled  bool
	uploaded []string
	sheets   [][][]interface{}
	refresh  bool
	err      error
}

func (g *googleClientStub) Enabled() bool { return g.enabled }

func (g *googleClientStub) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (g *googleClientStub) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code != "good-code" {
		return nil, errors.New("bad code")
	}
	return &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}, nil
}

func (g *googleClientStub) UploadFile(ctx context.Context, tok *oauth2.Token, name, mimeType string, r io.Reader) (google.Document, *oauth2.Token, error) {
	if g.err != nil {
		return google.Document{}, nil, g.err
	}
	g.uploaded = append(g.uploaded, name)
	return google.Document{ID: "drive-file", URL: "https://drive.example.com/drive-file"}, g.latest(tok), nil
}

func (g *googleClientStub) CreateSpreadsheet(ctx context.Context, tok *oauth2.Token, title string, rows [][]interface{}) (google.Document, *oauth2.Token, error) {
	if g.err != nil {
		return google.Document{}, nil, g.err
	}
	g.sheets = append(g.sheets, rows)
	return google.Document{ID: "sheet-1", URL: "https://sheets.example.com/sheet-1"}, g.latest(tok), nil
}

func (g *googleClientStub) latest(tok *oauth2.Token) *oauth2.Token {
	if !g.refresh {
		return tok
	}
	return &oauth2.Token{AccessToken: "refreshed", RefreshToken: tok.RefreshToken, TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
}

type gradebookStub struct {
	branch *models.Branch
	book   *models.Gradebook
	err    error
}

func (g *gradebookStub) Authorize(ctx context.Context, actor models.Actor, branchID string) (*models.Branch, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.branch, nil
}

func (g *gradebookStub) FindByID(ctx context.Context, id string) (*models.Branch, error) {
	if g.branch == nil || g.branch.ID != id {
		return nil, sql.ErrNoRows
	}
	return g.branch, nil
}

func (g *gradebookStub) Build(ctx context.Context, branch *models.Branch) (*models.Gradebook, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.book, nil
}

type exportFixture struct {
	repo    *exportJobRepoStub
	queue   *queueStub
	tokens  *googleTokenStub
	google  *googleClientStub
	books   *gradebookStub
	store   storage.Store
	signer  *signing.Signer
	service *ExportJobService
	worker  *ExportWorker
}

func newExportFixture(t *testing.T) *exportFixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	f := &exportFixture{
		repo:   newExportJobRepoStub(),
		queue:  &queueStub{},
		tokens: newGoogleTokenStub(),
		google: &googleClientStub{enabled: true},
		books: &gradebookStub{
			branch: &models.Branch{ID: "branch-1", Name: "Algebra A", ProfessorID: "prof-1"},
			book:   sampleGradebook(),
		},
		store:  store,
		signer: signing.NewSigner("export-secret", time.Hour),
	}
	metrics := NewMetricsService()
	f.service = NewExportJobService(f.repo, f.books, f.tokens, f.google, f.queue, f.store, f.signer, nil, metrics, validation.New(), nil, ExportJobConfig{APIPrefix: "/api/v1"})
	f.worker = NewExportWorker(f.repo, f.books, f.books, f.store, f.signer, f.google, f.tokens, metrics, "/api/v1/", nil)
	return f
}

func sampleGradebook() *models.Gradebook {
	quiz := 87.5
	exam := 91.0
	avg := 89.25
	return &models.Gradebook{
		BranchID:   "branch-1",
		BranchName: "Algebra A",
		Quizzes:    []models.GradebookColumn{{ID: "quiz-1", Kind: "quiz", Title: "Warmup"}},
		Exams:      []models.GradebookColumn{{ID: "exam-1", Kind: "exam", Title: "Midterm"}},
		Rows: []models.GradebookRow{
			{
				StudentID: "student-1",
				FullName:  "Ada Student",
				Email:     "ada@example.com",
				Quizzes:   []models.GradebookCell{{AssessmentID: "quiz-1", Percentage: &quiz, Attempts: 2}},
				Exams:     []models.GradebookCell{{AssessmentID: "exam-1", Percentage: &exam, LetterGrade: "A"}},
				Average:   &avg,
			},
			{
				StudentID: "student-2",
				FullName:  "Bo Student",
				Email:     "bo@example.com",
				Quizzes:   []models.GradebookCell{{AssessmentID: "quiz-1"}},
				Exams:     []models.GradebookCell{{AssessmentID: "exam-1"}},
			},
		},
	}
}

func (f *exportFixture) handleAll(t *testing.T) {
	t.Helper()
	for _, job := range f.queue.enqueued {
		require.NoError(t, f.worker.Handle(context.Background(), job))
	}
}

func TestExportCreateJobDefaults(t *testing.T) {
	f := newExportFixture(t)

	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	require.Len(t, f.queue.enqueued, 1)
	assert.Equal(t, ExportJobType, f.queue.enqueued[0].Type)

	stored := f.repo.jobs[resp.ID]
	assert.Equal(t, models.ExportFormatCSV, stored.Format)
	assert.Equal(t, models.DestinationDownload, stored.Destination)
	assert.Equal(t, "prof-1", stored.CreatedBy)
}

func TestExportCreateJobValidation(t *testing.T) {
	f := newExportFixture(t)

	_, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{Format: "xlsx"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, appErr(t, err).Status)
	assert.Empty(t, f.queue.enqueued)
}

func TestExportCreateJobRequiresGoogleConnection(t *testing.T) {
	f := newExportFixture(t)

	_, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{Destination: models.DestinationDrive})
	require.Error(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, appErr(t, err).Status)
	assert.Equal(t, "INTEGRATION_NOT_CONNECTED", appErr(t, err).Code)

	f.google.enabled = false
	f.tokens.tokens["prof-1"] = &models.GoogleToken{UserID: "prof-1", AccessToken: "a"}
	_, err = f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{Destination: models.DestinationSheets})
	require.Error(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, appErr(t, err).Status)
}

func TestExportCreateJobEnqueueFailureMarksFailed(t *testing.T) {
	f := newExportFixture(t)
	f.queue.err = errors.New("queue stopped")

	_, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, appErr(t, err).Status)
	require.Len(t, f.repo.jobs, 1)
	for _, job := range f.repo.jobs {
		assert.Equal(t, models.ExportStatusFailed, job.Status)
		assert.NotNil(t, job.FinishedAt)
	}
}

func TestExportCreateJobPropagatesAuthorization(t *testing.T) {
	f := newExportFixture(t)
	f.books.err = appErrors.Clone(appErrors.ErrForbidden, "only the branch professor can view its gradebook")

	_, err := f.service.CreateJob(context.Background(), studentActor, "branch-1", dto.ExportRequest{})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, appErr(t, err).Status)
}

func TestExportDownloadRoundTrip(t *testing.T) {
	f := newExportFixture(t)
	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{})
	require.NoError(t, err)
	f.handleAll(t)

	status, err := f.service.GetStatus(context.Background(), professorActor, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, status.Status)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.ResultURL)
	assert.True(t, strings.HasPrefix(*status.ResultURL, "/api/v1/exports/download/"))
	assert.Nil(t, status.Error)

	token := strings.TrimPrefix(*status.ResultURL, "/api/v1/exports/download/")
	download, err := f.service.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.Body.Close()
	body, err := io.ReadAll(download.Body)
	require.NoError(t, err)

	assert.Equal(t, "text/csv", download.ContentType)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))
	assert.Contains(t, string(body), "Quiz 1: Warmup")
	assert.Contains(t, string(body), "Ada Student")
	assert.Contains(t, string(body), "91.00 (A)")
}

func TestExportResolveDownloadRejectsBadTokens(t *testing.T) {
	f := newExportFixture(t)

	_, err := f.service.ResolveDownload(context.Background(), "garbage")
	assert.Equal(t, http.StatusForbidden, appErr(t, err).Status)

	foreign := signing.NewSigner("other-secret", time.Hour)
	token, _, err := foreign.Sign("job-1", "gradebooks/branch-1/file.csv")
	require.NoError(t, err)
	_, err = f.service.ResolveDownload(context.Background(), token)
	assert.Equal(t, http.StatusForbidden, appErr(t, err).Status)

	token, _, err = f.signer.Sign("missing-job", "gradebooks/branch-1/file.csv")
	require.NoError(t, err)
	_, err = f.service.ResolveDownload(context.Background(), token)
	assert.Equal(t, http.StatusNotFound, appErr(t, err).Status)
}

func TestExportResolveDownloadRejectsPathMismatch(t *testing.T) {
	f := newExportFixture(t)
	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{Format: models.ExportFormatPDF})
	require.NoError(t, err)
	f.handleAll(t)

	token, _, err := f.signer.Sign(resp.ID, "gradebooks/branch-1/other.pdf")
	require.NoError(t, err)
	_, err = f.service.ResolveDownload(context.Background(), token)
	assert.Equal(t, http.StatusForbidden, appErr(t, err).Status)
}

func TestExportGetStatusOwnership(t *testing.T) {
	f := newExportFixture(t)
	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{})
	require.NoError(t, err)

	other := models.Actor{ID: "prof-2", Role: models.RoleProfessor}
	_, err = f.service.GetStatus(context.Background(), other, resp.ID)
	assert.Equal(t, http.StatusForbidden, appErr(t, err).Status)

	_, err = f.service.GetStatus(context.Background(), adminActor, resp.ID)
	assert.NoError(t, err)

	_, err = f.service.GetStatus(context.Background(), adminActor, "missing")
	assert.Equal(t, http.StatusNotFound, appErr(t, err).Status)
}

func TestExportWorkerSheetsPersistsRefreshedToken(t *testing.T) {
	f := newExportFixture(t)
	f.google.refresh = true
	f.tokens.tokens["prof-1"] = &models.GoogleToken{UserID: "prof-1", AccessToken: "stale", RefreshToken: "refresh"}

	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{Destination: models.DestinationSheets})
	require.NoError(t, err)
	f.handleAll(t)

	job := f.repo.jobs[resp.ID]
	assert.Equal(t, models.ExportStatusFinished, job.Status)
	require.NotNil(t, job.ExternalID)
	assert.Equal(t, "sheet-1", *job.ExternalID)
	assert.Nil(t, job.FilePath)

	require.Len(t, f.google.sheets, 1)
	rows := f.google.sheets[0]
	require.Len(t, rows, 3)
	assert.Equal(t, "Student", rows[0][0])
	assert.Equal(t, 1, f.tokens.upserts)
	assert.Equal(t, "refreshed", f.tokens.tokens["prof-1"].AccessToken)
}

func TestExportWorkerDriveUpload(t *testing.T) {
	f := newExportFixture(t)
	f.tokens.tokens["prof-1"] = &models.GoogleToken{UserID: "prof-1", AccessToken: "live"}

	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{Format: models.ExportFormatPDF, Destination: models.DestinationDrive})
	require.NoError(t, err)
	f.handleAll(t)

	job := f.repo.jobs[resp.ID]
	assert.Equal(t, models.ExportStatusFinished, job.Status)
	require.Len(t, f.google.uploaded, 1)
	assert.True(t, strings.HasSuffix(f.google.uploaded[0], ".pdf"))
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "https://drive.example.com/drive-file", *job.ResultURL)
	assert.Zero(t, f.tokens.upserts)
}

func TestExportWorkerRequeuesTransientFailures(t *testing.T) {
	f := newExportFixture(t)
	f.tokens.tokens["prof-1"] = &models.GoogleToken{UserID: "prof-1", AccessToken: "live"}
	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{Destination: models.DestinationDrive})
	require.NoError(t, err)

	f.google.err = errors.New("drive unavailable")
	err = f.worker.Handle(context.Background(), f.queue.enqueued[0])
	require.Error(t, err)

	job := f.repo.jobs[resp.ID]
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	require.NotNil(t, job.ErrorMessage)

	f.service.MarkExhausted(context.Background(), f.queue.enqueued[0], err)
	assert.Equal(t, models.ExportStatusFailed, f.repo.jobs[resp.ID].Status)
}

func TestExportWorkerFailsFastWhenDisconnected(t *testing.T) {
	f := newExportFixture(t)
	f.tokens.tokens["prof-1"] = &models.GoogleToken{UserID: "prof-1", AccessToken: "live"}
	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{Destination: models.DestinationSheets})
	require.NoError(t, err)

	delete(f.tokens.tokens, "prof-1")
	require.NoError(t, f.worker.Handle(context.Background(), f.queue.enqueued[0]))

	job := f.repo.jobs[resp.ID]
	assert.Equal(t, models.ExportStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "not connected")
}

func TestExportWorkerSkipsFinishedJobs(t *testing.T) {
	f := newExportFixture(t)
	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{})
	require.NoError(t, err)
	f.handleAll(t)
	url := *f.repo.jobs[resp.ID].ResultURL

	require.NoError(t, f.worker.Handle(context.Background(), f.queue.enqueued[0]))
	assert.Equal(t, url, *f.repo.jobs[resp.ID].ResultURL)
}

func TestExportRecoverPendingJobs(t *testing.T) {
	f := newExportFixture(t)
	f.repo.jobs["queued"] = &models.ExportJob{ID: "queued", Status: models.ExportStatusQueued}
	f.repo.jobs["done"] = &models.ExportJob{ID: "done", Status: models.ExportStatusFinished}

	f.service.RecoverPendingJobs(context.Background())
	require.Len(t, f.queue.enqueued, 1)
	assert.Equal(t, "queued", f.queue.enqueued[0].ID)
}

func TestExportCleanupExpiredRemovesFiles(t *testing.T) {
	f := newExportFixture(t)
	resp, err := f.service.CreateJob(context.Background(), professorActor, "branch-1", dto.ExportRequest{})
	require.NoError(t, err)
	f.handleAll(t)

	job := f.repo.jobs[resp.ID]
	require.NotNil(t, job.FilePath)
	key := *job.FilePath
	old := time.Now().UTC().Add(-2 * time.Hour)
	job.FinishedAt = &old

	f.service.CleanupExpired(context.Background())

	assert.Nil(t, f.repo.jobs[resp.ID].FilePath)
	assert.Nil(t, f.repo.jobs[resp.ID].ResultURL)
	_, err = f.store.Open(context.Background(), key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGradebookDatasetLayout(t *testing.T) {
	data := GradebookDataset(sampleGradebook())

	assert.Equal(t, "Gradebook Algebra A", data.Title)
	assert.Equal(t, []string{"Student", "Email", "Quiz 1: Warmup", "Exam 1: Midterm", "Average"}, data.Headers)
	records := data.Records()
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Ada Student", "ada@example.com", "87.50", "91.00 (A)", "89.25"}, records[1])
	assert.Equal(t, []string{"Bo Student", "bo@example.com", "", "", ""}, records[2])
}
