package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/response"
)

const metricsInterval = 7 * time.Second

// SessionCounter reports how many sessions are live.
type SessionCounter interface {
	Len() int
}

// SystemHandler reports process health and streams runtime metrics.
type SystemHandler struct {
	rdb       *redis.Client
	sessions  SessionCounter
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, sessions SessionCounter, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	LiveSessions int `json:"live_sessions"`

	// Go runtime
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	StackInuse uint64 `json:"stack_inuse"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
	NumCPU     int    `json:"num_cpu"`

	// Worker queues; -1 when Redis is unreachable.
	QueueCompletionRetry int64 `json:"queue_completion_retry"`
	QueueRecovery        int64 `json:"queue_recovery"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	redisOK := true
	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			h.log.Warn().Err(err).Msg("Health check: Redis unreachable")
			redisOK = false
		}
	}

	status := http.StatusOK
	if !redisOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":        http.StatusText(status),
		"redis":         redisOK,
		"live_sessions": h.sessions.Len(),
		"uptime":        formatDuration(time.Since(h.startTime)),
	})
}

// Metrics godoc
// GET /api/v1/admin/system/metrics
func (h *SystemHandler) Metrics(c *gin.Context) {
	response.Success(c, http.StatusOK, h.collect(c.Request.Context()))
}

// SystemMetricsSSE godoc
// GET /api/v1/admin/system/metrics/stream
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Admin connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	h.writeMetrics(c)

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Admin disconnected from system metrics SSE")
			return
		case <-ticker.C:
			h.writeMetrics(c)
		}
	}
}

func (h *SystemHandler) writeMetrics(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	writeSSE(c, data)
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp:            time.Now().Unix(),
		Uptime:               formatDuration(time.Since(h.startTime)),
		LiveSessions:         h.sessions.Len(),
		GoVersion:            runtime.Version(),
		NumCPU:               runtime.NumCPU(),
		QueueCompletionRetry: -1,
		QueueRecovery:        -1,
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Goroutines = runtime.NumGoroutine()
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.StackInuse = ms.StackInuse
	m.NumGC = ms.NumGC

	if h.rdb == nil {
		return m
	}
	pipe := h.rdb.Pipeline()
	retryCmd := pipe.LLen(ctx, config.WorkerKey.CompletionRetryQueue)
	recoveryCmd := pipe.LLen(ctx, config.WorkerKey.RecoverySnapshotQueue)
	if _, err := pipe.Exec(ctx); err == nil {
		m.QueueCompletionRetry, _ = retryCmd.Result()
		m.QueueRecovery, _ = recoveryCmd.Result()
	}
	return m
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	default:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}
