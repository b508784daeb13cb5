package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"path"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/profman-api/internal/dto"
	"github.com/noah-isme/profman-api/internal/models"
	"github.com/noah-isme/profman-api/internal/repository"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
	"github.com/noah-isme/profman-api/pkg/validation"
)

type memoryCache struct {
	entries map[string][]byte
	deletes []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.deletes = append(m.deletes, pattern)
	for key := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.entries, key)
		}
	}
	return nil
}

type mockSubjectRepo struct {
	subjects  map[string]*models.Subject
	listCalls int
	branches  int
	createErr error
	purgeErr  error
	auditLogs []*models.AuditLog
}

func (m *mockSubjectRepo) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	m.listCalls++
	var out []models.Subject
	for _, s := range m.subjects {
		if s.IsDeleted && !filter.IncludeDeleted {
			continue
		}
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *mockSubjectRepo) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	s, ok := m.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *s
	return &copy, nil
}

func (m *mockSubjectRepo) Create(ctx context.Context, subject *models.Subject) error {
	if m.createErr != nil {
		return m.createErr
	}
	subject.ID = "subject-new"
	copy := *subject
	m.subjects[subject.ID] = &copy
	return nil
}

func (m *mockSubjectRepo) Update(ctx context.Context, subject *models.Subject) error {
	copy := *subject
	m.subjects[subject.ID] = &copy
	return nil
}

func (m *mockSubjectRepo) CountBranches(ctx context.Context, subjectID string) (int, error) {
	return m.branches, nil
}

func (m *mockSubjectRepo) SoftDelete(ctx context.Context, id string) error {
	m.subjects[id].IsDeleted = true
	return nil
}

func (m *mockSubjectRepo) Restore(ctx context.Context, id string) error {
	m.subjects[id].IsDeleted = false
	return nil
}

func (m *mockSubjectRepo) Purge(ctx context.Context, id string) error {
	if m.purgeErr != nil {
		return m.purgeErr
	}
	delete(m.subjects, id)
	return nil
}

func (m *mockSubjectRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newSubjectFixture() (*SubjectService, *mockSubjectRepo, *memoryCache) {
	repo := &mockSubjectRepo{subjects: map[string]*models.Subject{
		"s1": {ID: "s1", Code: "CS101", Name: "Intro", SoftDelete: models.SoftDelete{IsActive: true}},
	}}
	store := newMemoryCache()
	cache := NewCacheService(store, nil, time.Minute, zap.NewNop(), true)
	return NewSubjectService(repo, repo, cache, validation.New(), zap.NewNop()), repo, store
}

func TestSubjectServiceListIsCachedUntilWrite(t *testing.T) {
	svc, repo, store := newSubjectFixture()
	ctx := context.Background()

	first, _, err := svc.List(ctx, models.SubjectFilter{})
	require.NoError(t, err)
	second, pagination, err := svc.List(ctx, models.SubjectFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.listCalls)
	assert.Equal(t, first[0].Code, second[0].Code)
	assert.Equal(t, 1, pagination.TotalCount)

	_, err = svc.Create(ctx, adminActor, dto.SubjectRequest{Code: "MA201", Name: "Calculus", Credits: 6})
	require.NoError(t, err)
	assert.Contains(t, store.deletes, "profman:subjects:*")

	items, _, err := svc.List(ctx, models.SubjectFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
	assert.Len(t, items, 2)
}

func TestSubjectServiceCreateDuplicateCode(t *testing.T) {
	svc, repo, _ := newSubjectFixture()
	repo.createErr = &pq.Error{Code: "23505"}

	_, err := svc.Create(context.Background(), adminActor, dto.SubjectRequest{Code: "CS101", Name: "Again"})
	e := appErr(t, err)
	assert.Equal(t, 409, e.Status)
	assert.Equal(t, "subject code already exists", e.Message)
}

func TestSubjectServicePurgeRequiresNoBranches(t *testing.T) {
	svc, repo, _ := newSubjectFixture()
	ctx := context.Background()
	require.NoError(t, svc.Delete(ctx, adminActor, "s1"))

	repo.branches = 2
	err := svc.Purge(ctx, adminActor, "s1")
	assert.Equal(t, 412, appErr(t, err).Status)

	repo.branches = 0
	require.NoError(t, svc.Purge(ctx, adminActor, "s1"))
	_, err = svc.Get(ctx, adminActor, "s1")
	assert.Equal(t, 404, appErr(t, err).Status)
}

func TestSubjectServiceRestoreLiveConflicts(t *testing.T) {
	svc, _, _ := newSubjectFixture()
	_, err := svc.Restore(context.Background(), adminActor, "s1")
	assert.Equal(t, 409, appErr(t, err).Status)
}

func TestSubjectServiceUpdateDeletedConflicts(t *testing.T) {
	svc, repo, _ := newSubjectFixture()
	repo.subjects["s1"].IsDeleted = true

	_, err := svc.Update(context.Background(), adminActor, "s1", dto.SubjectRequest{Code: "CS101", Name: "Intro"})
	assert.Equal(t, 409, appErr(t, err).Status)
}

func TestSubjectServicePurgeForeignKeyViolation(t *testing.T) {
	svc, repo, _ := newSubjectFixture()
	ctx := context.Background()
	require.NoError(t, svc.Delete(ctx, adminActor, "s1"))

	repo.purgeErr = &pq.Error{Code: "23503", Constraint: "branches_subject_id_fkey"}
	e := appErr(t, svc.Purge(ctx, adminActor, "s1"))
	assert.Equal(t, 412, e.Status)
	assert.Equal(t, "PRECONDITION_FAILED", e.Code)
}

func TestSubjectServicePurgeWithSoftDeletedBranchOverSQL(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer rawDB.Close()
	repo := repository.NewSubjectRepository(sqlx.NewDb(rawDB, "sqlmock"))
	svc := NewSubjectService(repo, nil, NewCacheService(nil, nil, 0, nil, false), validation.New(), zap.NewNop())

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM subjects WHERE id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "description", "credits", "created_by", "is_active", "is_deleted", "deleted_at", "created_at", "updated_at"}).
			AddRow("s1", "CS101", "Intro", "", 3, nil, false, true, now, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM branches WHERE subject_id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	e := appErr(t, svc.Purge(context.Background(), adminActor, "s1"))
	assert.Equal(t, 412, e.Status)
	assert.Contains(t, e.Message, "1 branch")
	assert.NoError(t, mock.ExpectationsWereMet())
}
