package app

import (
	"net/http"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/errs"
)

var kindStatus = map[errs.Kind]int{
	errs.KindInvalidInput: http.StatusBadRequest,
	errs.KindUnauthorized: http.StatusUnauthorized,
	errs.KindForbidden:    http.StatusForbidden,
	errs.KindNotFound:     http.StatusNotFound,
	errs.KindConflict:     http.StatusConflict,
	errs.KindValidation:   http.StatusUnprocessableEntity,
}

func mapError(err error) (status int, code, message string, details any) {
	if domainErr, ok := errs.As(err); ok {
		if status, ok := kindStatus[domainErr.Kind]; ok {
			return status, string(domainErr.Kind), domainErr.Message, domainErr.Details
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Internal server error", nil
}
