package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/validator"
)

// AssessmentHandler handles student-facing assessment endpoints.
type AssessmentHandler struct {
	assessmentService *service.AssessmentService
	log               zerolog.Logger
}

// NewAssessmentHandler creates a new AssessmentHandler.
func NewAssessmentHandler(assessmentService *service.AssessmentService, log zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		assessmentService: assessmentService,
		log:               log.With().Str("component", "assessment_handler").Logger(),
	}
}

// OpenAssessment godoc
// GET /api/v1/student/assessments/:assessment_id
// Opens the assessment for the current login, checking eligibility and
// realizing it on first access. Later calls return the current view.
func (h *AssessmentHandler) OpenAssessment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID := c.Param("assessment_id")
	if !validator.AssessmentID(assessmentID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var q model.OpenAssessmentQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.assessmentService.Open(c.Request.Context(), claims.UserID, claims.InteractionID(), assessmentID, q.Redirect)
	writeView(c, h.log, view, err)
}

// PostAction godoc
// POST /api/v1/student/assessments/:assessment_id/actions
// Applies one action (navigate, submit, confirm, ...) to the open session.
func (h *AssessmentHandler) PostAction(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID := c.Param("assessment_id")
	if !validator.AssessmentID(assessmentID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ActionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	view, err := h.assessmentService.Act(c.Request.Context(), claims.UserID, claims.InteractionID(), assessmentID, req)
	writeView(c, h.log, view, err)
}

// IssueProctorCode godoc
// POST /api/v1/student/proctor-code
// Returns the short code a proctor enters to vouch for this login.
func (h *AssessmentHandler) IssueProctorCode(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	code, err := h.assessmentService.IssueProctorCode(c.Request.Context(), claims.InteractionID())
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, model.ProctorCodeResponse{Code: code})
}
