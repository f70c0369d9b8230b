package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
)

// StudentReader loads the student record shown on the profile.
type StudentReader interface {
	GetStudent(ctx context.Context, studentID string) (*model.Student, error)
	ListHolds(ctx context.Context, studentID string) ([]model.Hold, error)
}

// AuthHandler handles the identity endpoints of both token types.
type AuthHandler struct {
	authService *service.AuthService
	students    StudentReader
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, students StudentReader, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		students:    students,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

// GetStudentProfile godoc
// GET /api/v1/student/me
// Returns the current student, their holds and the interaction of this login.
func (h *AuthHandler) GetStudentProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	student, err := h.students.GetStudent(c.Request.Context(), claims.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	holds, err := h.students.ListHolds(c.Request.Context(), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if holds == nil {
		holds = []model.Hold{}
	}

	response.Success(c, http.StatusOK, gin.H{
		"student":        student,
		"holds":          holds,
		"interaction_id": claims.InteractionID(),
		"expires_at":     claims.ExpiresAt,
	})
}

// StudentLogout godoc
// POST /api/v1/student/logout
// Ends the current login. Live sessions are left to the purge sweep.
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.ResetStudentSession(c.Request.Context(), claims.UserID); err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// GetAdminProfile godoc
// GET /api/v1/admin/me
// Returns the admin identity and permissions carried by the token.
func (h *AuthHandler) GetAdminProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	permissions := claims.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	response.Success(c, http.StatusOK, gin.H{
		"admin":       gin.H{"id": claims.UserID},
		"permissions": permissions,
		"expires_at":  claims.ExpiresAt,
	})
}
