package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/session"
)

// CompletionRepository stores scored attempts. It implements session.Records.
type CompletionRepository struct {
	pool *pgxpool.Pool
}

// NewCompletionRepository creates a new CompletionRepository.
func NewCompletionRepository(pool *pgxpool.Pool) *CompletionRepository {
	return &CompletionRepository{pool: pool}
}

// RecordCompletion writes the result with its answers, subtests, rule
// results, grants and denials in one transaction. Recording the same
// attempt twice is a no-op.
func (r *CompletionRepository) RecordCompletion(ctx context.Context, res *session.Result) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var howValidated *string
	if res.HowValidated != "" {
		howValidated = &res.HowValidated
	}
	gradingErrors := res.GradingErrors
	if gradingErrors == nil {
		gradingErrors = []string{}
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO completions (interaction_id, student_id, version, course, unit, type, serial,
		                          started_at, finished_at, proctored, score, mastery, passed,
		                          how_validated, licensed, grading_errors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (student_id, version, serial, started_at) DO NOTHING
		 RETURNING id`,
		res.InteractionID, res.StudentID, res.Version, res.Course, res.Unit, res.Type, res.Serial,
		res.StartedAt, res.FinishedAt, res.Proctored, res.Score, res.Mastery, res.Passed,
		howValidated, res.Licensed, gradingErrors,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}

	if len(res.Answers) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"completion_answers"},
			[]string{"completion_id", "item_id", "ref", "response", "correct", "score"},
			pgx.CopyFromSlice(len(res.Answers), func(i int) ([]any, error) {
				a := res.Answers[i]
				resp := []string(a.Response)
				if resp == nil {
					resp = []string{}
				}
				return []any{id, a.ItemID, a.Ref, resp, a.Correct, a.Score}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy answers: %w", err)
		}
	}

	batch := completionDetails(id, res)
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert completion details: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// completionDetails queues the per-completion rows stored alongside the
// completion itself.
func completionDetails(id int64, res *session.Result) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, s := range res.Subtests {
		batch.Queue(`INSERT INTO completion_subtests (completion_id, name, score) VALUES ($1, $2, $3)`,
			id, s.Name, s.Score)
	}
	for i, rule := range res.Rules {
		batch.Queue(`INSERT INTO completion_rules (completion_id, position, name, passed) VALUES ($1, $2, $3, $4)`,
			id, i, rule.Name, rule.Passed)
	}
	for _, g := range res.Grants {
		batch.Queue(`INSERT INTO completion_grants (completion_id, kind, course, how_validated) VALUES ($1, $2, $3, $4)`,
			id, string(g.Kind), g.Course, g.HowValidated)
	}
	for _, d := range res.Denials {
		batch.Queue(`INSERT INTO completion_denials (completion_id, kind, course, reason) VALUES ($1, $2, $3, $4)`,
			id, string(d.Kind), d.Course, d.Reason)
	}
	return batch
}

// PriorCompletions lists earlier attempts of one version, newest first,
// with their per-item answers.
func (r *CompletionRepository) PriorCompletions(ctx context.Context, studentID, version string) ([]session.Completion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.serial, c.started_at, a.item_id, a.ref, a.response, a.correct, a.score
		 FROM completions c
		 LEFT JOIN completion_answers a ON a.completion_id = c.id
		 WHERE c.student_id = $1 AND c.version = $2
		 ORDER BY c.started_at DESC, c.id, a.item_id`, studentID, version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Completion
	lastID := int64(-1)
	for rows.Next() {
		var (
			id        int64
			serial    int64
			startedAt time.Time
			itemID    *int
			ref       *string
			response  []string
			correct   *bool
			score     *float64
		)
		if err := rows.Scan(&id, &serial, &startedAt, &itemID, &ref, &response, &correct, &score); err != nil {
			return nil, err
		}
		if id != lastID {
			out = append(out, session.Completion{Version: version, Serial: serial, StartedAt: startedAt.UTC()})
			lastID = id
		}
		if itemID == nil {
			continue
		}
		c := &out[len(out)-1]
		c.Answers = append(c.Answers, session.AnswerRecord{
			ItemID:   *itemID,
			Ref:      deref(ref),
			Response: assessment.Response(response),
			Correct:  correct != nil && *correct,
			Score:    derefFloat(score),
		})
	}
	return out, rows.Err()
}

// MasteryThreshold returns the configured threshold for the document's
// course, unit and type, or nil when none is configured.
func (r *CompletionRepository) MasteryThreshold(ctx context.Context, _ string, doc *assessment.Document) (*int, error) {
	var threshold int
	err := r.pool.QueryRow(ctx,
		`SELECT threshold FROM mastery_thresholds WHERE course = $1 AND unit = $2 AND type = $3`,
		doc.Course, doc.Unit, doc.Type,
	).Scan(&threshold)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &threshold, nil
}

// ListByStudent returns completion summaries for the admin student view.
func (r *CompletionRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]model.CompletionSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, interaction_id, version, course, unit, type, started_at, finished_at,
		        score, mastery, passed, COALESCE(how_validated, ''), licensed
		 FROM completions
		 WHERE student_id = $1
		 ORDER BY finished_at DESC
		 LIMIT $2`, studentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CompletionSummary
	for rows.Next() {
		var c model.CompletionSummary
		if err := rows.Scan(&c.ID, &c.InteractionID, &c.Version, &c.Course, &c.Unit, &c.Type,
			&c.StartedAt, &c.FinishedAt, &c.Score, &c.Mastery, &c.Passed, &c.HowValidated, &c.Licensed); err != nil {
			return nil, err
		}
		c.StudentID = studentID
		out = append(out, c)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
