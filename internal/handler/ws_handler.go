package handler

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/session"
	"github.com/stemsi/exstem-assess/internal/validator"
	ws "github.com/stemsi/exstem-assess/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a student's session over a WebSocket.
type WSHandler struct {
	assessmentService *service.AssessmentService
	log               zerolog.Logger
	upgrader          websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(assessmentService *service.AssessmentService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		assessmentService: assessmentService,
		log:               log.With().Str("component", "ws_handler").Logger(),
		upgrader:          buildUpgrader(allowedOrigins),
	}
}

// AssessmentStream godoc
// WS /ws/v1/student/assessments/:assessment_id/stream
// Opens (or resumes) the session and applies every action sent by the client.
func (h *WSHandler) AssessmentStream(c *gin.Context) {
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

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	studentID := claims.UserID
	interactionID := claims.InteractionID()

	wsLog := h.log.With().
		Str("student_id", studentID).
		Str("assessment", assessmentID).
		Logger()

	view, err := h.assessmentService.Open(ctx, studentID, interactionID, assessmentID, c.Query("redirect"))
	if done := h.deliver(conn, wsLog, view, err); done {
		return
	}

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if errs := validator.Struct(&msg); errs != nil {
			ws.WriteError(conn, string(response.ErrValidation), firstFieldError(errs))
			continue
		}
		if msg.Action == ws.ActionPing {
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			continue
		}

		view, err := h.assessmentService.Act(ctx, studentID, interactionID, assessmentID, model.ActionRequest{
			Action:     msg.Action,
			Index:      msg.Index,
			PostedItem: msg.PostedItem,
			Response:   msg.Response,
		})
		if done := h.deliver(conn, wsLog, view, err); done {
			return
		}
	}
}

// deliver writes the outcome of an open or action call. It reports
// whether the stream should end.
func (h *WSHandler) deliver(conn *websocket.Conn, log zerolog.Logger, view session.View, err error) bool {
	if err != nil {
		if ie, ok := session.IsIneligible(err); ok {
			ws.WriteTyped(conn, ws.IneligibleResponse{
				Event: ws.EventIneligible, View: view, Reasons: ie.Reasons, Holds: ie.Holds,
			})
			return true
		}
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("Stream action failed")
		}
		ws.WriteError(conn, string(code), err.Error())
		// A missing session cannot recover on this connection.
		return code == response.ErrNoActiveSession || code == response.ErrAssessmentNotFound
	}

	if view.Closed {
		ws.WriteTyped(conn, ws.ViewResponse{Event: ws.EventClosed, View: view})
		log.Info().Msg("Session closed by student")
		return true
	}
	ws.WriteTyped(conn, ws.ViewResponse{Event: ws.EventView, View: view})
	return false
}

// firstFieldError picks a stable message out of a field error map.
func firstFieldError(errs map[string]string) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0] + ": " + errs[keys[0]]
}
