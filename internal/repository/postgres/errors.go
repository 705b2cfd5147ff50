package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const (
	codeUniqueViolation    = "23505"
	codeExclusionViolation = "23P01"
)

// mapError converts driver errors into application errors. Errors that are
// already typed pass through.
func mapError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFound(resource, nil)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeExclusionViolation:
			return apperrors.NewConflict("doctor already has an appointment overlapping this slot", err).
				WithDetail("rule", model.RuleConflict)
		case codeUniqueViolation:
			return apperrors.NewConflict(resource+" already exists", err)
		}
	}
	return apperrors.NewTransport("database error", err)
}
