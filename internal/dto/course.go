package dto

import "github.com/noah-isme/profman-api/internal/models"

// SubjectRequest is the create and update payload of a subject.
type SubjectRequest struct {
	Code        string `json:"code" validate:"required,max=32"`
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Credits     int    `json:"credits" validate:"gte=0,lte=60"`
	Active      *bool  `json:"active"`
}

// BranchRequest is the create and update payload of a branch.
type BranchRequest struct {
	Name         string        `json:"name" validate:"required,max=200"`
	SubjectID    string        `json:"subject_id" validate:"required,uuid"`
	ProfessorID  string        `json:"professor_id" validate:"required,uuid"`
	Semester     string        `json:"semester" validate:"required,max=50"`
	AcademicYear string        `json:"academic_year" validate:"required,max=20"`
	Description  string        `json:"description" validate:"max=2000"`
	Weeks        []models.Week `json:"weeks" validate:"omitempty,dive"`
	Active       *bool         `json:"active"`
}

// UpdateWeeksRequest replaces the week timeline of a branch.
type UpdateWeeksRequest struct {
	Weeks []models.Week `json:"weeks" validate:"dive"`
}

// EnrollStudentsRequest enrolls one or more students in a branch.
type EnrollStudentsRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,max=500,dive,uuid"`
}

// EnrollmentResult reports which students were enrolled and which were already present.
type EnrollmentResult struct {
	Enrolled        []string `json:"enrolled"`
	AlreadyEnrolled []string `json:"already_enrolled"`
}
