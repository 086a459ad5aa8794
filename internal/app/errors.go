package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"shopfloor/api/internal/auth"
	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/store"
)

// DomainError is an error that already knows its HTTP shape.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapError turns service, store and driver errors into the wire error
// envelope. Anything unrecognised is a 500.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, backend.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, backend.ErrUnknownTable) {
		return http.StatusNotFound, "UNKNOWN_TABLE", "Unknown table", nil
	}
	if errors.Is(err, store.ErrUnknownColumn) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02", "22007", "22008", "23502", "23514":
			return http.StatusUnprocessableEntity, "INVALID_VALUE", pgErr.Message, map[string]any{"column": pgErr.ColumnName}
		case "23505":
			return http.StatusConflict, "DUPLICATE", pgErr.Message, nil
		case "23503":
			return http.StatusConflict, "REFERENCED", pgErr.Message, nil
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
