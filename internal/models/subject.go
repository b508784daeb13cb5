package models

import "time"

// Subject is a catalogue course such as "CS101".
type Subject struct {
	ID          string  `db:"id" json:"id"`
	Code        string  `db:"code" json:"code"`
	Name        string  `db:"name" json:"name"`
	Description string  `db:"description" json:"description"`
	Credits     int     `db:"credits" json:"credits"`
	CreatedBy   *string `db:"created_by" json:"created_by,omitempty"`
	SoftDelete
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SubjectFilter captures subject list filters.
type SubjectFilter struct {
	ListParams
}
