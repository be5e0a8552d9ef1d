package server

import (
	"errors"
	"net/http"

	"lendingpool/native/lending"
)

// statusForError maps an engine PoolError to an HTTP status code, the HTTP
// equivalent of the teacher's grpc toStatus(err). A few sentinels (not
// found, paused or in grace period, unauthorized, missing user
// configuration) get their own status; every other PoolError is mapped by
// its stable numeric Code range.
func statusForError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var poolErr *lending.PoolError
	if !errors.As(err, &poolErr) {
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, lending.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrPausedOp), errors.Is(err, lending.ErrGracePeriod):
		return http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrUserConfigNotExists):
		return http.StatusNotFound
	case poolErr.Code >= 200 && poolErr.Code < 300:
		return http.StatusUnprocessableEntity
	case poolErr.Code >= 300 && poolErr.Code < 400:
		return http.StatusUnprocessableEntity
	case poolErr.Code >= 0 && poolErr.Code < 200:
		return http.StatusBadRequest
	case poolErr.Code >= 400 && poolErr.Code < 600:
		return http.StatusInternalServerError
	case poolErr.Code == lending.CodeFlashLoanReceiverError:
		return http.StatusBadGateway
	case poolErr.Code == lending.CodeInvalidAssetPrice:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape returned for any non-2xx response.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func bodyForError(err error) errorBody {
	var poolErr *lending.PoolError
	if errors.As(err, &poolErr) {
		return errorBody{Code: int(poolErr.Code), Message: poolErr.Message}
	}
	return errorBody{Code: -1, Message: err.Error()}
}
