package models

import "time"

// AdminStats summarises active records for the admin dashboard.
type AdminStats struct {
	UsersByRole map[UserRole]int `json:"users_by_role"`
	Subjects    int              `json:"subjects"`
	Branches    int              `json:"branches"`
	Quizzes     int              `json:"quizzes"`
	Exams       int              `json:"exams"`
	System      SystemMetrics    `json:"system"`
}

// RoleCount is a grouped user count row.
type RoleCount struct {
	Role  UserRole `db:"role"`
	Count int      `db:"count"`
}

// SystemMetrics is a process-local snapshot of request and cache counters.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
