package dto

import "github.com/noah-isme/profman-api/internal/models"

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	Email    string          `json:"email" validate:"required,email,max=254"`
	FullName string          `json:"full_name" validate:"required,max=200"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN PROFESSOR STUDENT"`
	Password string          `json:"password" validate:"required,min=8,max=72"`
	Active   *bool           `json:"active"`
}

// UpdateUserRequest payload for updating users. Empty email or password keep the stored value.
type UpdateUserRequest struct {
	Email    string          `json:"email" validate:"omitempty,email,max=254"`
	FullName string          `json:"full_name" validate:"required,max=200"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN PROFESSOR STUDENT"`
	Password string          `json:"password" validate:"omitempty,min=8,max=72"`
	Active   *bool           `json:"active"`
}
