package models

import (
	"strings"
	"time"
)

// SoftDelete carries the lifecycle flags shared by users, subjects, branches, quizzes and exams.
type SoftDelete struct {
	IsActive  bool       `db:"is_active" json:"is_active"`
	IsDeleted bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ListParams are the common list query parameters.
type ListParams struct {
	Page           int
	PageSize       int
	Search         string
	SortBy         string
	SortOrder      string
	IncludeDeleted bool
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging and sort values to their allowed ranges.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	p.SortOrder = strings.ToUpper(p.SortOrder)
	if p.SortOrder != "ASC" && p.SortOrder != "DESC" {
		p.SortOrder = "DESC"
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

// Offset returns the row offset for the current page.
func (p ListParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Pagination builds response metadata from normalized params.
func (p ListParams) Pagination(total int) *Pagination {
	n := p.Normalize()
	return &Pagination{Page: n.Page, PageSize: n.PageSize, TotalCount: total}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
