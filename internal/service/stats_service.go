package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/profman-api/internal/models"
	appErrors "github.com/noah-isme/profman-api/pkg/errors"
)

type statsRepository interface {
	CountUsersByRole(ctx context.Context) ([]models.RoleCount, error)
	CountLive(ctx context.Context, table string) (int, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

const adminStatsTTL = time.Minute

// StatsService serves admin counters and readiness checks.
type StatsService struct {
	repo     statsRepository
	cache    *CacheService
	metrics  *MetricsService
	checks   map[string]Pinger
	logger   *zap.Logger
	pingWait time.Duration
}

// NewStatsService constructs the service. checks maps component names to readiness pings.
func NewStatsService(repo statsRepository, cache *CacheService, metrics *MetricsService, checks map[string]Pinger, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{repo: repo, cache: cache, metrics: metrics, checks: checks, logger: logger, pingWait: 2 * time.Second}
}

// AdminStats counts live records and attaches a fresh process metrics snapshot.
func (s *StatsService) AdminStats(ctx context.Context) (*models.AdminStats, error) {
	stats, _, err := remember(ctx, s.cache, Key("stats", "admin"), adminStatsTTL, func() (models.AdminStats, error) {
		fresh, err := s.count(ctx)
		if err != nil {
			return models.AdminStats{}, err
		}
		return *fresh, nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load stats")
	}
	stats.System = s.metrics.Snapshot()
	return &stats, nil
}

func (s *StatsService) count(ctx context.Context) (*models.AdminStats, error) {
	stats := &models.AdminStats{UsersByRole: map[models.UserRole]int{
		models.RoleAdmin:     0,
		models.RoleProfessor: 0,
		models.RoleStudent:   0,
	}}
	roles, err := s.repo.CountUsersByRole(ctx)
	if err != nil {
		return nil, err
	}
	for _, rc := range roles {
		stats.UsersByRole[rc.Role] = rc.Count
	}
	targets := []struct {
		table string
		dest  *int
	}{
		{"subjects", &stats.Subjects},
		{"branches", &stats.Branches},
		{"quizzes", &stats.Quizzes},
		{"exams", &stats.Exams},
	}
	for _, target := range targets {
		n, err := s.repo.CountLive(ctx, target.table)
		if err != nil {
			return nil, err
		}
		*target.dest = n
	}
	return stats, nil
}

// Ready pings every dependency concurrently and returns the failures keyed by component.
func (s *StatsService) Ready(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, s.pingWait)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	errs := make([]error, len(s.checks))
	var g errgroup.Group
	for name, check := range s.checks {
		idx, check := len(names), check
		names = append(names, name)
		g.Go(func() error {
			errs[idx] = check.Ping(ctx)
			return nil
		})
	}
	_ = g.Wait()

	failures := map[string]string{}
	for idx, err := range errs {
		if name := names[idx]; err != nil {
			s.logger.Sugar().Warnw("readiness check failed", "component", name, "error", err)
			failures[name] = err.Error()
		}
	}
	return failures
}
