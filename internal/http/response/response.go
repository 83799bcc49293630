package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artemmail/scriptor-sub002/internal/platform/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

// RespondAppError maps the service-layer sentinels onto HTTP statuses so
// handlers don't repeat the switch.
func RespondAppError(c *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		RespondError(c, http.StatusNotFound, code, err)
	case errors.Is(err, apperr.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, code, err)
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrAlreadySettled), errors.Is(err, apperr.ErrOutOfOrder):
		RespondError(c, http.StatusConflict, code, err)
	case errors.Is(err, apperr.ErrQuotaExhausted):
		RespondError(c, http.StatusPaymentRequired, code, err)
	default:
		RespondError(c, http.StatusInternalServerError, code, err)
	}
}
