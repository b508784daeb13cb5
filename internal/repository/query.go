package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/profman-api/internal/models"
)

// whereBuilder accumulates positional filter conditions for list queries.
type whereBuilder struct {
	conditions []string
	args       []interface{}
}

// add appends a condition whose single placeholder is written as %d.
func (w *whereBuilder) add(format string, value interface{}) {
	w.args = append(w.args, value)
	w.conditions = append(w.conditions, strings.ReplaceAll(format, "%d", fmt.Sprintf("%d", len(w.args))))
}

// raw appends a condition without arguments.
func (w *whereBuilder) raw(condition string) {
	w.conditions = append(w.conditions, condition)
}

// softDeleted hides soft-deleted rows unless the caller asked for them.
func (w *whereBuilder) softDeleted(alias string, include bool) {
	if !include {
		w.raw(alias + "is_deleted = FALSE")
	}
}

// search matches a lower-cased term against any of the given columns.
func (w *whereBuilder) search(term string, columns ...string) {
	term = strings.TrimSpace(term)
	if term == "" || len(columns) == 0 {
		return
	}
	w.args = append(w.args, "%"+strings.ToLower(term)+"%")
	pos := len(w.args)
	parts := make([]string, len(columns))
	for i, column := range columns {
		parts[i] = fmt.Sprintf("LOWER(%s) LIKE $%d", column, pos)
	}
	w.conditions = append(w.conditions, "("+strings.Join(parts, " OR ")+")")
}

func (w *whereBuilder) clause() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return " AND " + strings.Join(w.conditions, " AND ")
}

// orderAndPage renders ORDER BY, LIMIT and OFFSET from normalized params.
// Unknown sort keys fall back to created_at.
func orderAndPage(params models.ListParams, allowed map[string]string) string {
	p := params.Normalize()
	column, ok := allowed[p.SortBy]
	if !ok {
		column = allowed["created_at"]
	}
	return fmt.Sprintf(" ORDER BY %s %s LIMIT %d OFFSET %d", column, p.SortOrder, p.PageSize, p.Offset())
}

// softDeleter implements the lifecycle writes shared by soft-deletable tables.
type softDeleter struct {
	db    *sqlx.DB
	table string
}

// SoftDelete flags a live row as deleted.
func (s softDeleter) SoftDelete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET is_deleted = TRUE, is_active = FALSE, deleted_at = $2, updated_at = $2 WHERE id = $1 AND is_deleted = FALSE`, s.table)
	return s.exec(ctx, "soft delete", query, id, time.Now().UTC())
}

// Restore clears the deletion flags of a soft-deleted row.
func (s softDeleter) Restore(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET is_deleted = FALSE, is_active = TRUE, deleted_at = NULL, updated_at = $2 WHERE id = $1 AND is_deleted = TRUE`, s.table)
	return s.exec(ctx, "restore", query, id, time.Now().UTC())
}

// Purge removes a soft-deleted row for good.
func (s softDeleter) Purge(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND is_deleted = TRUE`, s.table)
	return s.exec(ctx, "purge", query, id)
}

func (s softDeleter) exec(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, s.table, err)
	}
	return requireAffected(res)
}

// requireAffected turns a write that matched nothing into sql.ErrNoRows.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
