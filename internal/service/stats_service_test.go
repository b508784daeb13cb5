package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/profman-api/internal/models"
)

type statsRepoStub struct {
	roles  []models.RoleCount
	counts map[string]int
	calls  int
	err    error
}

func (s *statsRepoStub) CountUsersByRole(ctx context.Context) ([]models.RoleCount, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.roles, nil
}

func (s *statsRepoStub) CountLive(ctx context.Context, table string) (int, error) {
	return s.counts[table], nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestAdminStatsCountsAndCaches(t *testing.T) {
	repo := &statsRepoStub{
		roles:  []models.RoleCount{{Role: models.RoleProfessor, Count: 3}, {Role: models.RoleStudent, Count: 40}},
		counts: map[string]int{"subjects": 5, "branches": 7, "quizzes": 11, "exams": 2},
	}
	metrics := NewMetricsService()
	cache := NewCacheService(newMemoryCache(), metrics, 0, nil, true)
	svc := NewStatsService(repo, cache, metrics, nil, nil)

	stats, err := svc.AdminStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.UsersByRole[models.RoleAdmin])
	assert.Equal(t, 3, stats.UsersByRole[models.RoleProfessor])
	assert.Equal(t, 40, stats.UsersByRole[models.RoleStudent])
	assert.Equal(t, 5, stats.Subjects)
	assert.Equal(t, 7, stats.Branches)
	assert.Equal(t, 11, stats.Quizzes)
	assert.Equal(t, 2, stats.Exams)
	assert.False(t, stats.System.GeneratedAt.IsZero())

	again, err := svc.AdminStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, stats.Branches, again.Branches)
}

func TestAdminStatsWrapsRepositoryErrors(t *testing.T) {
	svc := NewStatsService(&statsRepoStub{err: errors.New("db down")}, nil, nil, nil, nil)

	_, err := svc.AdminStats(context.Background())
	require.Error(t, err)
	assert.Equal(t, "INTERNAL_ERROR", appErr(t, err).Code)
}

func TestReadyReportsFailingComponents(t *testing.T) {
	svc := NewStatsService(&statsRepoStub{}, nil, nil, map[string]Pinger{
		"database": pingFunc(func(ctx context.Context) error { return nil }),
		"redis":    pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	}, nil)

	failures := svc.Ready(context.Background())
	assert.Equal(t, map[string]string{"redis": "connection refused"}, failures)
}

func TestReadyAllHealthy(t *testing.T) {
	svc := NewStatsService(&statsRepoStub{}, nil, nil, map[string]Pinger{
		"database": pingFunc(func(ctx context.Context) error { return nil }),
	}, nil)

	assert.Empty(t, svc.Ready(context.Background()))
}
