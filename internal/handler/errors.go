package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// errorCode maps a service or engine error onto an HTTP status and API code.
func errorCode(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, engine.ErrUnknownQuestion):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, response.ErrForbidden
	case errors.Is(err, service.ErrInvalidEntryCode):
		return http.StatusForbidden, response.ErrInvalidEntryCode
	case errors.Is(err, service.ErrNotEnrolled):
		return http.StatusForbidden, response.ErrNotEnrolled
	case errors.Is(err, service.ErrTestNotReady):
		return http.StatusConflict, response.ErrTestNotReady
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, engine.ErrAttemptFinal):
		return http.StatusConflict, response.ErrInvalidState
	case errors.Is(err, engine.ErrSectionLocked):
		return http.StatusConflict, response.ErrSectionLocked
	case errors.Is(err, engine.ErrSectionUnresolvable):
		return http.StatusUnprocessableEntity, response.ErrSectionUnresolvable
	case errors.Is(err, engine.ErrInvalidNavigation):
		return http.StatusConflict, response.ErrInvalidNavigation
	case errors.Is(err, service.ErrValidation), errors.Is(err, engine.ErrInvalidAnswer):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrBusy):
		return http.StatusConflict, response.ErrConflict
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes err as an API error. A non-nil data is sent alongside so
// the client can resync with server state.
func failWith(c *gin.Context, err error, data interface{}) {
	status, code := errorCode(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	if data != nil {
		response.FailWithData(c, status, code, data)
		return
	}
	response.Fail(c, status, code)
}
