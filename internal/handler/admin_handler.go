package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/validator"
)

// AssessmentLister lists the stored assessment versions.
type AssessmentLister interface {
	List(ctx context.Context) ([]model.AssessmentInfo, error)
}

// ContentRefresher reloads assessment content.
type ContentRefresher interface {
	Refresh(ctx context.Context) (service.ContentRefresh, error)
}

// RecoveryLister lists a student's crash-recovery snapshots.
type RecoveryLister interface {
	ListByStudent(ctx context.Context, studentID string, limit int) ([]model.RecoverySnapshot, error)
}

// recoveryListLimit caps the snapshots returned per student.
const recoveryListLimit = 20

// AdminHandler handles the administrative session controls.
type AdminHandler struct {
	assessmentService *service.AssessmentService
	authService       *service.AuthService
	assessments       AssessmentLister
	content           ContentRefresher
	recoveries        RecoveryLister
	log               zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	assessmentService *service.AssessmentService,
	authService *service.AuthService,
	assessments AssessmentLister,
	content ContentRefresher,
	recoveries RecoveryLister,
	log zerolog.Logger,
) *AdminHandler {
	return &AdminHandler{
		assessmentService: assessmentService,
		authService:       authService,
		assessments:       assessments,
		content:           content,
		recoveries:        recoveries,
		log:               log.With().Str("component", "admin_handler").Logger(),
	}
}

// ListAssessments godoc
// GET /api/v1/admin/assessments
// Lists every stored assessment version.
func (h *AdminHandler) ListAssessments(c *gin.Context) {
	list, err := h.assessments.List(c.Request.Context())
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if list == nil {
		list = []model.AssessmentInfo{}
	}
	response.Success(c, http.StatusOK, gin.H{"assessments": list})
}

// RefreshContent godoc
// POST /api/v1/admin/assessments/refresh-cache
// Reloads item templates and drops cached documents after a content load.
func (h *AdminHandler) RefreshContent(c *gin.Context) {
	out, err := h.content.Refresh(c.Request.Context())
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// ListSessions godoc
// GET /api/v1/admin/sessions?assessment_id=&state=&page=&per_page=
// Lists live sessions held in memory.
func (h *AdminHandler) ListSessions(c *gin.Context) {
	var q model.SessionListQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sessions, total := h.assessmentService.ListSessions(q)
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"sessions": sessions},
		response.NewPagination(q.Page, q.PerPage, total))
}

// sessionKey reads the (interaction, assessment) path parameters.
func sessionKey(c *gin.Context) (string, string, bool) {
	interactionID := c.Param("interaction_id")
	assessmentID := c.Param("assessment_id")
	if interactionID == "" || len(interactionID) > 64 || !validator.AssessmentID(assessmentID) {
		return "", "", false
	}
	return interactionID, assessmentID, true
}

// ForceSubmit godoc
// POST /api/v1/admin/sessions/:interaction_id/:assessment_id/force-submit
// Scores an in-progress session now and removes it.
func (h *AdminHandler) ForceSubmit(c *gin.Context) {
	interactionID, assessmentID, ok := sessionKey(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	out, err := h.assessmentService.ForceSubmit(c.Request.Context(), interactionID, assessmentID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// ForceAbort godoc
// POST /api/v1/admin/sessions/:interaction_id/:assessment_id/force-abort
// Discards a session without scoring it.
func (h *AdminHandler) ForceAbort(c *gin.Context) {
	interactionID, assessmentID, ok := sessionKey(c)
	if !ok {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	out, err := h.assessmentService.ForceAbort(c.Request.Context(), interactionID, assessmentID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// LookupProctorCode godoc
// POST /api/v1/admin/proctor-codes/:code
// Resolves a student's handoff code and marks the interaction proctored.
func (h *AdminHandler) LookupProctorCode(c *gin.Context) {
	var uri struct {
		Code string `uri:"code" binding:"required,proctor_code"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, validator.TranslateErrors(err))
		return
	}

	out, err := h.assessmentService.ResolveProctorCode(uri.Code)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// GetStudentInteraction godoc
// GET /api/v1/admin/students/:student_id/interaction
// Shows the student's live sessions and recent completions.
func (h *AdminHandler) GetStudentInteraction(c *gin.Context) {
	studentID := c.Param("student_id")
	if studentID == "" || len(studentID) > 64 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	out, err := h.assessmentService.StudentInteraction(c.Request.Context(), studentID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// ListStudentRecoveries godoc
// GET /api/v1/admin/students/:student_id/recoveries
// Lists snapshots of the student's sessions that ended without scoring.
func (h *AdminHandler) ListStudentRecoveries(c *gin.Context) {
	studentID := c.Param("student_id")
	if studentID == "" || len(studentID) > 64 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	snaps, err := h.recoveries.ListByStudent(c.Request.Context(), studentID, recoveryListLimit)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if snaps == nil {
		snaps = []model.RecoverySnapshot{}
	}
	response.Success(c, http.StatusOK, gin.H{"recoveries": snaps})
}

// ResetStudentLogin godoc
// POST /api/v1/admin/students/:student_id/reset-login
// Ends the student's active login so they can sign in on another device.
func (h *AdminHandler) ResetStudentLogin(c *gin.Context) {
	studentID := c.Param("student_id")
	if studentID == "" || len(studentID) > 64 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.authService.ResetStudentSession(c.Request.Context(), studentID); err != nil {
		failFromError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "student login reset"})
}
