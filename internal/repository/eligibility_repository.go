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

// Eligibility refusal messages shown to the student.
const (
	ReasonNoStudent     = "No student record was found for your login."
	ReasonFatalHold     = "A problem with your course records is preventing access to assessments. Please speak with a staff member as soon as possible."
	ReasonNoActiveTerm  = "Unable to determine the active term."
	ReasonNotRegistered = "You are not registered in this course."
)

// EligibilityRepository decides from student, hold, term and registration
// rows whether a student may start an assessment. It implements
// session.Eligibility.
type EligibilityRepository struct {
	pool *pgxpool.Pool
}

// NewEligibilityRepository creates a new EligibilityRepository.
func NewEligibilityRepository(pool *pgxpool.Pool) *EligibilityRepository {
	return &EligibilityRepository{pool: pool}
}

// CheckEligible implements session.Eligibility.
func (r *EligibilityRepository) CheckEligible(ctx context.Context, studentID string, doc *assessment.Document, now time.Time) (session.EligibilityResult, error) {
	var res session.EligibilityResult

	st, err := r.GetStudent(ctx, studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		res.Reasons = append(res.Reasons, ReasonNoStudent)
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("get student: %w", err)
	}
	res.TimeLimitFactor = st.TimeLimitFactor

	holds, err := r.ListHolds(ctx, studentID)
	if err != nil {
		return res, fmt.Errorf("list holds: %w", err)
	}
	for _, h := range holds {
		res.Holds = append(res.Holds, h.Message)
	}

	term, err := r.ActiveTerm(ctx)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return res, fmt.Errorf("active term: %w", err)
	}
	var registered bool
	if term != nil && requiresRegistration(doc.Type) {
		registered, err = r.IsRegistered(ctx, studentID, doc.Course, term.Term)
		if err != nil {
			return res, fmt.Errorf("check registration: %w", err)
		}
	}

	res.Reasons = Evaluate(holds, term, requiresRegistration(doc.Type), registered, now)
	res.Allowed = len(res.Reasons) == 0
	return res, nil
}

// Evaluate applies the eligibility policy to already-loaded rows.
func Evaluate(holds []model.Hold, term *model.Term, needsRegistration, registered bool, now time.Time) []string {
	var reasons []string
	for _, h := range holds {
		if h.Blocks() {
			reasons = append(reasons, ReasonFatalHold)
			break
		}
	}

	switch {
	case term == nil:
		reasons = append(reasons, ReasonNoActiveTerm)
	default:
		today := now.UTC().Truncate(24 * time.Hour)
		if today.Before(term.StartDate) {
			reasons = append(reasons, "The term has not yet started. It will begin "+term.StartDate.Format(time.DateOnly)+".")
		} else if today.After(term.EndDate) {
			reasons = append(reasons, "The term ended "+term.EndDate.Format(time.DateOnly)+". Testing will resume next term.")
		} else if needsRegistration && !registered {
			reasons = append(reasons, ReasonNotRegistered)
		}
	}
	return reasons
}

// Quizzes are open to anyone in an active term; everything else needs a
// registration in the course.
func requiresRegistration(examType string) bool {
	return examType != assessment.TypeQuiz
}

// GetStudent retrieves a student by ID.
func (r *EligibilityRepository) GetStudent(ctx context.Context, studentID string) (*model.Student, error) {
	s := &model.Student{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, time_limit_factor::float8, created_at FROM students WHERE id = $1`, studentID,
	).Scan(&s.ID, &s.Name, &s.TimeLimitFactor, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListHolds returns the student's holds, fatal ones first.
func (r *EligibilityRepository) ListHolds(ctx context.Context, studentID string) ([]model.Hold, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT hold_id, severity, message FROM student_holds
		 WHERE student_id = $1
		 ORDER BY severity = 'F' DESC, created_at`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []model.Hold
	for rows.Next() {
		var h model.Hold
		var sev string
		if err := rows.Scan(&h.HoldID, &sev, &h.Message); err != nil {
			return nil, err
		}
		h.Severity = model.HoldSeverity(sev)
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// ActiveTerm returns the term flagged active.
func (r *EligibilityRepository) ActiveTerm(ctx context.Context) (*model.Term, error) {
	t := &model.Term{}
	err := r.pool.QueryRow(ctx,
		`SELECT term, start_date, end_date FROM terms WHERE active`,
	).Scan(&t.Term, &t.StartDate, &t.EndDate)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// IsRegistered reports whether the student is registered in course for term.
func (r *EligibilityRepository) IsRegistered(ctx context.Context, studentID, course, term string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE student_id = $1 AND course = $2 AND term = $3)`,
		studentID, course, term,
	).Scan(&ok)
	return ok, err
}
