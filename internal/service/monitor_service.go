package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/session"
)

// Monitor event types.
const (
	EventOpened    = "opened"
	EventAction    = "action"
	EventCompleted = "completed"
	EventClosed    = "closed"
	EventForced    = "forced"
	EventPurged    = "purged"
)

// MonitorEvent is one change pushed to admins watching an assessment.
type MonitorEvent struct {
	Type          string    `json:"type"`
	InteractionID string    `json:"interaction_id"`
	StudentID     string    `json:"student_id"`
	AssessmentID  string    `json:"assessment_id"`
	State         string    `json:"state"`
	Item          int       `json:"item"`
	Score         *int      `json:"score,omitempty"`
	At            time.Time `json:"at"`
}

// EventFromSummary builds an event of type typ from a session summary.
func EventFromSummary(typ string, s session.Summary, at time.Time) MonitorEvent {
	return MonitorEvent{
		Type:          typ,
		InteractionID: s.InteractionID,
		StudentID:     s.StudentID,
		AssessmentID:  s.AssessmentID,
		State:         s.State,
		Item:          s.CurrentItem,
		Score:         s.Score,
		At:            at,
	}
}

// MonitorService publishes live session changes over Redis pub/sub so
// every server instance can feed its SSE subscribers.
type MonitorService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		rdb: rdb,
		log: log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish sends ev on the assessment's channel. Failures are logged only.
func (m *MonitorService) Publish(ctx context.Context, ev MonitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to marshal monitor event")
		return
	}
	channel := config.CacheKey.AssessmentMonitorChannel(ev.AssessmentID)
	if err := m.rdb.Publish(ctx, channel, data).Err(); err != nil {
		m.log.Warn().Err(err).Str("channel", channel).Msg("Failed to publish monitor event")
	}
}

// Subscribe opens a pub/sub subscription for one assessment.
func (m *MonitorService) Subscribe(ctx context.Context, assessmentID string) *redis.PubSub {
	return m.rdb.Subscribe(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID))
}
