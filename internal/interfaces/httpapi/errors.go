package httpapi

import (
	"errors"
	"net/http"

	"targetwatch/internal/application/usecase/targets"
)

// statusFor 将引擎错误映射为 HTTP 状态码和面向用户的消息
func statusFor(err error) (int, string) {
	var (
		terr *targets.TransitionError
		rerr *targets.RefreshError
	)
	switch {
	case errors.Is(err, targets.ErrBusy):
		return http.StatusConflict, err.Error()
	case errors.Is(err, targets.ErrRefreshSuperseded):
		return http.StatusConflict, "Ticker set changed, refresh discarded."
	case errors.Is(err, targets.ErrUnknownTicker):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, targets.ErrStandardCollision),
		errors.Is(err, targets.ErrUnknownSlot),
		errors.Is(err, targets.ErrInvalidValue),
		errors.Is(err, targets.ErrInvalidMode):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, targets.ErrClosed):
		return http.StatusServiceUnavailable, "Service is shutting down."
	case errors.As(err, &terr):
		return http.StatusBadGateway, terr.Reason
	case errors.As(err, &rerr):
		return http.StatusBadGateway, "Unable to load alert statuses."
	}
	return http.StatusInternalServerError, "Internal error."
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	ErrorResponse(w, status, msg, err.Error())
}
