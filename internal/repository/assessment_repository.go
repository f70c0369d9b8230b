package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/model"
)

// AssessmentRepository stores assessment documents and item templates.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// UpsertDocument stores doc, replacing any earlier copy of the version.
func (r *AssessmentRepository) UpsertDocument(ctx context.Context, doc *assessment.Document) error {
	raw, err := assessment.EncodeBytes(doc)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO assessments (version, course, unit, type, title, allowed_seconds, document)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (version) DO UPDATE
		 SET course = EXCLUDED.course, unit = EXCLUDED.unit, type = EXCLUDED.type,
		     title = EXCLUDED.title, allowed_seconds = EXCLUDED.allowed_seconds,
		     document = EXCLUDED.document, updated_at = NOW()`,
		doc.Version, doc.Course, doc.Unit, doc.Type, doc.Title, doc.AllowedSeconds, string(raw),
	)
	return err
}

// GetDocumentXML returns the stored XML of one version. It returns
// pgx.ErrNoRows when the version is unknown.
func (r *AssessmentRepository) GetDocumentXML(ctx context.Context, version string) ([]byte, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT document FROM assessments WHERE version = $1`, version).Scan(&raw)
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

// GetDocument loads and decodes one version.
func (r *AssessmentRepository) GetDocument(ctx context.Context, version string) (*assessment.Document, error) {
	raw, err := r.GetDocumentXML(ctx, version)
	if err != nil {
		return nil, err
	}
	doc, err := assessment.DecodeBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", version, err)
	}
	return doc, nil
}

// List returns every stored version without its document body.
func (r *AssessmentRepository) List(ctx context.Context) ([]model.AssessmentInfo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT version, course, unit, type, title, allowed_seconds, updated_at
		 FROM assessments ORDER BY course, unit, type, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AssessmentInfo
	for rows.Next() {
		var a model.AssessmentInfo
		if err := rows.Scan(&a.Version, &a.Course, &a.Unit, &a.Type, &a.Title, &a.AllowedSeconds, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertTemplates stores specs in one batch.
func (r *AssessmentRepository) UpsertTemplates(ctx context.Context, specs []assessment.TemplateSpec) error {
	if len(specs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range specs {
		answers := s.Answers
		if answers == nil {
			answers = []string{}
		}
		batch.Queue(
			`INSERT INTO item_templates (ref, kind, answers, points, tolerance, rel_tolerance)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (ref) DO UPDATE
			 SET kind = EXCLUDED.kind, answers = EXCLUDED.answers, points = EXCLUDED.points,
			     tolerance = EXCLUDED.tolerance, rel_tolerance = EXCLUDED.rel_tolerance,
			     updated_at = NOW()`,
			s.Ref, s.Kind, answers, s.Points, s.Tolerance, s.RelTolerance,
		)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// ListTemplates returns every stored template spec.
func (r *AssessmentRepository) ListTemplates(ctx context.Context) ([]assessment.TemplateSpec, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ref, kind, answers, points, tolerance, rel_tolerance FROM item_templates ORDER BY ref`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []assessment.TemplateSpec
	for rows.Next() {
		var s assessment.TemplateSpec
		if err := rows.Scan(&s.Ref, &s.Kind, &s.Answers, &s.Points, &s.Tolerance, &s.RelTolerance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LoadCatalog builds an in-memory catalog of every stored template.
func (r *AssessmentRepository) LoadCatalog(ctx context.Context) (*assessment.MemoryCatalog, error) {
	specs, err := r.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	cat := assessment.NewMemoryCatalog()
	if err := cat.AddSpecs(specs); err != nil {
		return nil, err
	}
	return cat, nil
}
