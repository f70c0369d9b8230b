package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/session"
	"github.com/stemsi/exstem-assess/internal/validator"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
)

// EventSubscriber opens a pub/sub feed of one assessment's events.
type EventSubscriber interface {
	Subscribe(ctx context.Context, assessmentID string) *redis.PubSub
}

type MonitorHandler struct {
	assessmentService *service.AssessmentService
	events            EventSubscriber
	log               zerolog.Logger
}

func NewMonitorHandler(
	assessmentService *service.AssessmentService,
	events EventSubscriber,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		assessmentService: assessmentService,
		events:            events,
		log:               log.With().Str("component", "monitor_handler").Logger(),
	}
}

type snapshotEvent struct {
	Type         string            `json:"type"`
	AssessmentID string            `json:"assessment_id"`
	Sessions     []session.Summary `json:"sessions"`
	At           time.Time         `json:"at"`
}

// MonitorAssessmentSSE godoc
// GET /api/v1/admin/assessments/:assessment_id/monitor
// Streams a snapshot of the live sessions, then every change as it happens.
func (h *MonitorHandler) MonitorAssessmentSSE(c *gin.Context) {
	assessmentID := c.Param("assessment_id")
	if !validator.AssessmentID(assessmentID) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, assessmentID)

	pubsub := h.events.Subscribe(reqCtx, assessmentID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	log := h.log.With().Str("assessment", assessmentID).Logger()
	log.Info().Msg("Admin attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})
	dirty := false

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Admin disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events arrive already encoded; forward as-is.
			writeSSE(c, []byte(msg.Payload))
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			h.sendSnapshot(c, assessmentID)
			dirty = false

		case <-keepAliveTicker.C:
			writeSSE(c, pingPayload)
		}
	}
}

// sendSnapshot writes the current sessions of the assessment.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, assessmentID string) {
	data, err := json.Marshal(snapshotEvent{
		Type:         "snapshot",
		AssessmentID: assessmentID,
		Sessions:     h.assessmentService.Snapshot(assessmentID),
		At:           time.Now().UTC(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal monitor snapshot")
		return
	}
	writeSSE(c, data)
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
