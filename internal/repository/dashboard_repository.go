package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-assess/internal/model"
)

// DashboardRepository handles admin dashboard data access.
type DashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// GetSummaryCounts retrieves the high-level metrics for the dashboard.
// Completions are counted from since onward.
func (r *DashboardRepository) GetSummaryCounts(ctx context.Context, since time.Time) (model.DashboardCounts, error) {
	var c model.DashboardCounts
	err := r.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM students),
			(SELECT COUNT(*) FROM assessments),
			(SELECT COUNT(*) FROM item_templates),
			(SELECT COUNT(*) FROM completions WHERE finished_at >= $1),
			(SELECT COUNT(*) FROM assessment_recoveries WHERE created_at >= $1)`,
		since,
	).Scan(&c.Students, &c.Assessments, &c.Templates, &c.Completions, &c.Recoveries)
	return c, err
}

// GetAssessmentStats aggregates completions per version since the given
// time, busiest first.
func (r *DashboardRepository) GetAssessmentStats(ctx context.Context, since time.Time, limit int) ([]model.AssessmentStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT
			c.version,
			COALESCE(a.title, ''),
			COUNT(*) AS attempts,
			COUNT(*) FILTER (WHERE c.passed) AS passed,
			AVG(c.score)::float8 AS average_score,
			MAX(c.finished_at) AS last_finished
		 FROM completions c
		 LEFT JOIN assessments a ON a.version = c.version
		 WHERE c.finished_at >= $1
		 GROUP BY c.version, a.title
		 ORDER BY attempts DESC, last_finished DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []model.AssessmentStats{}
	for rows.Next() {
		var s model.AssessmentStats
		if err := rows.Scan(&s.Version, &s.Title, &s.Attempts, &s.Passed, &s.AverageScore, &s.LastFinished); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
