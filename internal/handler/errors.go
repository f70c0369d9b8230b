package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/session"
)

// statusFor maps a service error to its HTTP status and error code.
func statusFor(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrAssessmentNotFound):
		return http.StatusNotFound, response.ErrAssessmentNotFound
	case errors.Is(err, service.ErrNoActiveSession):
		return http.StatusNotFound, response.ErrNoActiveSession
	case errors.Is(err, service.ErrProctorCodeUnknown):
		return http.StatusNotFound, response.ErrCodeNotFound
	case errors.Is(err, session.ErrUnknownAction):
		return http.StatusBadRequest, response.ErrUnknownAction
	case errors.Is(err, session.ErrForbidden):
		return http.StatusForbidden, response.ErrForbidden
	case errors.Is(err, session.ErrRecordFailed):
		return http.StatusInternalServerError, response.ErrRecordFailed
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failFromError writes the error response for err. Unexpected errors are
// logged; the client only sees the generic code.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestIDFrom(c)).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// ineligibleBody is the data payload of a NOT_ELIGIBLE response.
type ineligibleBody struct {
	View    session.View `json:"view"`
	Reasons []string     `json:"reasons"`
	Holds   []string     `json:"holds,omitempty"`
}

// writeView answers with the view produced by an open or action call,
// taking the refusal and recording-failure cases into account.
func writeView(c *gin.Context, log zerolog.Logger, view session.View, err error) {
	if err == nil {
		response.Success(c, http.StatusOK, view)
		return
	}
	if ie, ok := session.IsIneligible(err); ok {
		response.FailWithData(c, http.StatusForbidden, response.ErrNotEligible, ineligibleBody{
			View: view, Reasons: ie.Reasons, Holds: ie.Holds,
		})
		return
	}
	if errors.Is(err, session.ErrRecordFailed) {
		log.Error().Err(err).Msg("Completion could not be recorded or queued")
		response.FailWithData(c, http.StatusInternalServerError, response.ErrRecordFailed, view)
		return
	}
	failFromError(c, log, err)
}
