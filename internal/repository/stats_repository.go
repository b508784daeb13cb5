package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/profman-api/internal/models"
)

// StatsRepository aggregates counts for the admin dashboard.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository constructs the repository.
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// CountUsersByRole counts active, non-deleted users grouped by role.
func (r *StatsRepository) CountUsersByRole(ctx context.Context) ([]models.RoleCount, error) {
	const query = `SELECT role, COUNT(*) AS count FROM users WHERE is_deleted = FALSE AND is_active = TRUE GROUP BY role`
	counts := make([]models.RoleCount, 0)
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	return counts, nil
}

// CountLive returns the number of non-deleted rows in the given soft-delete table.
func (r *StatsRepository) CountLive(ctx context.Context, table string) (int, error) {
	switch table {
	case "subjects", "branches", "quizzes", "exams":
	default:
		return 0, fmt.Errorf("count live: unsupported table %q", table)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE is_deleted = FALSE`, table)); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

// Ping checks database connectivity for readiness probes.
func (r *StatsRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
