package models

import (
	"database/sql/driver"
	"time"
)

// Week is one entry of a branch timeline.
type Week struct {
	Number      int      `json:"number" validate:"gt=0"`
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Materials   []string `json:"materials,omitempty"`
}

// Weeks is the JSONB timeline of a branch.
type Weeks []Week

// Value marshals weeks to JSON for persistence.
func (w Weeks) Value() (driver.Value, error) {
	return jsonValue(w, "[]")
}

// Scan unmarshals JSON payloads into weeks.
func (w *Weeks) Scan(value interface{}) error {
	*w = Weeks{}
	return scanJSON(value, w, "Weeks")
}

// Branch is a course section: one professor teaching one subject in a semester.
type Branch struct {
	ID           string `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	SubjectID    string `db:"subject_id" json:"subject_id"`
	ProfessorID  string `db:"professor_id" json:"professor_id"`
	Semester     string `db:"semester" json:"semester"`
	AcademicYear string `db:"academic_year" json:"academic_year"`
	Description  string `db:"description" json:"description"`
	Weeks        Weeks  `db:"weeks" json:"weeks"`
	SoftDelete
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BranchFilter captures branch list filters. StudentID restricts to enrolled branches.
type BranchFilter struct {
	ListParams
	SubjectID   string
	ProfessorID string
	StudentID   string
}

// BranchStudent is an enrollment row joined with the student's profile.
type BranchStudent struct {
	BranchID   string    `db:"branch_id" json:"branch_id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	Email      string    `db:"email" json:"email"`
	FullName   string    `db:"full_name" json:"full_name"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
}
