package models

import "time"

// GradebookColumn describes one assessment column.
type GradebookColumn struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Title string `json:"title"`
}

// GradebookCell is a student's result for one assessment. Nil percentage means no result yet.
type GradebookCell struct {
	AssessmentID string   `json:"assessment_id"`
	Percentage   *float64 `json:"percentage,omitempty"`
	LetterGrade  string   `json:"letter_grade,omitempty"`
	Attempts     int      `json:"attempts,omitempty"`
}

// GradebookRow holds one student's results across the branch.
type GradebookRow struct {
	StudentID string          `json:"student_id"`
	FullName  string          `json:"full_name"`
	Email     string          `json:"email"`
	Quizzes   []GradebookCell `json:"quizzes"`
	Exams     []GradebookCell `json:"exams"`
	Average   *float64        `json:"average,omitempty"`
}

// Gradebook is the per-branch matrix of quiz and exam results.
type Gradebook struct {
	BranchID    string            `json:"branch_id"`
	BranchName  string            `json:"branch_name"`
	Quizzes     []GradebookColumn `json:"quizzes"`
	Exams       []GradebookColumn `json:"exams"`
	Rows        []GradebookRow    `json:"rows"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// BestQuizScore is the highest attempt percentage of a student on a quiz.
type BestQuizScore struct {
	QuizID     string  `db:"quiz_id"`
	StudentID  string  `db:"student_id"`
	Percentage float64 `db:"percentage"`
	Attempts   int     `db:"attempts"`
}

// GradedExamScore is a graded exam submission result.
type GradedExamScore struct {
	ExamID      string  `db:"exam_id"`
	StudentID   string  `db:"student_id"`
	Percentage  float64 `db:"percentage"`
	LetterGrade string  `db:"letter_grade"`
}
