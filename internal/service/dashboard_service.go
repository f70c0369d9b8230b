package service

import (
	"context"
	"time"

	"github.com/stemsi/exstem-assess/internal/model"
)

const (
	// DashboardWindow is how far back completion figures reach.
	DashboardWindow = 24 * time.Hour
	dashboardTopN   = 10
)

// DashboardData consolidates all metrics for the admin dashboard.
type DashboardData struct {
	Since           time.Time               `json:"since"`
	Counts          model.DashboardCounts   `json:"counts"`
	LiveSessions    int                     `json:"live_sessions"`
	SessionsByState map[string]int          `json:"sessions_by_state"`
	Assessments     []model.AssessmentStats `json:"assessments"`
}

// DashboardStore reads the stored dashboard figures.
type DashboardStore interface {
	GetSummaryCounts(ctx context.Context, since time.Time) (model.DashboardCounts, error)
	GetAssessmentStats(ctx context.Context, since time.Time, limit int) ([]model.AssessmentStats, error)
}

// DashboardService handles admin dashboard business logic.
type DashboardService struct {
	repo     DashboardStore
	sessions *AssessmentService
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(repo DashboardStore, sessions *AssessmentService) *DashboardService {
	return &DashboardService{repo: repo, sessions: sessions}
}

// GetDashboardData combines stored completion figures with the live
// session counts held in memory.
func (s *DashboardService) GetDashboardData(ctx context.Context) (*DashboardData, error) {
	since := s.sessions.now().Add(-DashboardWindow)

	counts, err := s.repo.GetSummaryCounts(ctx, since)
	if err != nil {
		return nil, err
	}

	stats, err := s.repo.GetAssessmentStats(ctx, since, dashboardTopN)
	if err != nil {
		return nil, err
	}

	byState := make(map[string]int)
	live := s.sessions.store.Snapshot()
	for _, sum := range live {
		byState[sum.State]++
	}

	return &DashboardData{
		Since:           since,
		Counts:          counts,
		LiveSessions:    len(live),
		SessionsByState: byState,
		Assessments:     stats,
	}, nil
}
