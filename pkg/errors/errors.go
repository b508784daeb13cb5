package errors

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"

	"github.com/noah-isme/profman-api/pkg/validation"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Status  int               `json:"-"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrInvalidID          = New("INVALID_ID", http.StatusBadRequest, "invalid id")
	ErrDuplicate          = New("DUPLICATE_KEY", http.StatusConflict, "resource already exists")
	ErrInvalidReference   = New("INVALID_REFERENCE", http.StatusBadRequest, "referenced resource does not exist")
	ErrTokenExpired       = New("TOKEN_EXPIRED", http.StatusUnauthorized, "token expired")
	ErrTokenInvalid       = New("TOKEN_INVALID", http.StatusUnauthorized, "invalid token")
	ErrNotConnected       = New("INTEGRATION_NOT_CONNECTED", http.StatusPreconditionFailed, "integration not connected")
)

// ErrCacheMiss is returned by cache lookups when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	return Normalize(err)
}

// Normalize maps library and driver errors onto the fixed code/status table.
// Already typed errors pass through, picking up validation details if they wrap any.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	hasValidation := errors.As(err, &verrs)

	var e *Error
	if errors.As(err, &e) {
		if hasValidation && e.Details == nil {
			clone := *e
			clone.Details = validation.Translate(verrs)
			return &clone
		}
		return e
	}

	if hasValidation {
		out := Wrap(err, ErrValidation.Code, ErrValidation.Status, ErrValidation.Message)
		out.Details = validation.Translate(verrs)
		return out
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return Wrap(err, ErrDuplicate.Code, ErrDuplicate.Status, ErrDuplicate.Message)
		case "23503":
			return Wrap(err, ErrInvalidReference.Code, ErrInvalidReference.Status, ErrInvalidReference.Message)
		case "22P02":
			return Wrap(err, ErrInvalidID.Code, ErrInvalidID.Status, ErrInvalidID.Message)
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return Wrap(err, ErrTokenExpired.Code, ErrTokenExpired.Status, ErrTokenExpired.Message)
	}
	if isJWTError(err) {
		return Wrap(err, ErrTokenInvalid.Code, ErrTokenInvalid.Status, ErrTokenInvalid.Message)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return Wrap(err, ErrNotFound.Code, ErrNotFound.Status, ErrNotFound.Message)
	}

	if isUUIDError(err) {
		return Wrap(err, ErrInvalidID.Code, ErrInvalidID.Status, ErrInvalidID.Message)
	}

	if isDecodeError(err) {
		return Wrap(err, ErrValidation.Code, ErrValidation.Status, "invalid payload")
	}

	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of err carrying the supplied field details.
func WithDetails(err *Error, details map[string]string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}

var jwtErrors = []error{
	jwt.ErrTokenMalformed,
	jwt.ErrTokenUnverifiable,
	jwt.ErrTokenSignatureInvalid,
	jwt.ErrTokenNotValidYet,
	jwt.ErrTokenInvalidClaims,
	jwt.ErrTokenInvalidIssuer,
	jwt.ErrTokenUsedBeforeIssued,
}

func isJWTError(err error) bool {
	for _, target := range jwtErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isUUIDError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid UUID") || strings.Contains(msg, "invalid urn prefix")
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	return false
}
