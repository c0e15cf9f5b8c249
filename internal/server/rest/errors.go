package rest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/clusterapi/internal/common"
)

var (
	errRateLimited = errors.New("too many requests")
	errNoRoute     = fmt.Errorf("no such route: %w", common.ErrorNotFound)
)

// errorBody is the single error envelope every failed request receives.
type errorBody struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Errors  []common.FieldError `json:"errors,omitempty"`
	Detail  string              `json:"detail,omitempty"`
}

// classify maps an error to its status code and public message. internal is
// true when the message hides the real cause.
func classify(err error) (status int, message string, fields []common.FieldError, internal bool) {
	var vErr *common.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, "validation failed", vErr.Fields, false
	case errors.Is(err, common.ErrTokenMissing),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized, authMessage(err), nil, false
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "invalid email or password", nil, false
	case errors.Is(err, common.ErrorForbidden):
		return http.StatusForbidden, "forbidden", nil, false
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrUndecodableID):
		return http.StatusNotFound, "not found", nil, false
	case errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict, "email already registered", nil, false
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, "too many requests", nil, false
	default:
		return http.StatusInternalServerError, "internal server error", nil, true
	}
}

func authMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		return common.ErrTokenExpired.Error()
	case errors.Is(err, common.ErrTokenMissing):
		return common.ErrTokenMissing.Error()
	default:
		return common.ErrInvalidToken.Error()
	}
}
