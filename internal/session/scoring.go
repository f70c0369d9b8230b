package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/formula"
)

const (
	scoreSubtest  = "score"
	passedVar     = "passed"
	proctoredVar  = "proctored"
	gradingFailed = "An error occurred while grading this assessment."
	recordFailed  = "Your results could not be saved. They will be recorded automatically; please contact the testing center if they do not appear."
)

// scoreAndRecord runs the scoring pipeline once per session. The scored
// flag is set before any external call so a retry never records twice.
func (e *Engine) scoreAndRecord(ctx context.Context, s *Session, now time.Time, log zerolog.Logger) error {
	if s.scored {
		return nil
	}
	s.scored = true

	if s.realized == nil {
		s.gradingError = gradingFailed
		log.Error().Msg("Cannot score a session that was never realized")
		return nil
	}

	prior, err := e.deps.Records.PriorCompletions(ctx, s.studentID, s.doc.Version)
	if err != nil {
		log.Warn().Err(err).Msg("Duplicate check failed, continuing")
	}
	for _, c := range prior {
		if c.Serial == s.realized.Serial && c.StartedAt.Equal(s.realized.RealizedAt) {
			s.gradingError = "This assessment has already been submitted."
			log.Warn().Int64("serial", c.Serial).Msg("Duplicate submission ignored")
			return nil
		}
	}

	res := e.grade(s, now, log)
	s.result = res
	s.score = res.Score
	s.passed = &res.Passed
	if len(res.GradingErrors) > 0 {
		s.gradingError = gradingFailed
	}

	if err := e.deps.Records.RecordCompletion(ctx, res); err != nil {
		s.gradingError = recordFailed
		log.Error().Err(err).Msg("Failed to record completion")
		return &RecordError{Result: res, Err: err}
	}

	ev := log.Info().Bool("passed", res.Passed).Int("grants", len(res.Grants))
	if res.Score != nil {
		ev = ev.Int("score", *res.Score)
	}
	ev.Msg("Completion recorded")
	return nil
}

// grade is the pure part of scoring: answers, subtests, rules and outcomes.
func (e *Engine) grade(s *Session, now time.Time, log zerolog.Logger) *Result {
	doc := s.doc
	res := &Result{
		InteractionID: s.interactionID,
		StudentID:     s.studentID,
		Version:       doc.Version,
		Course:        doc.Course,
		Unit:          doc.Unit,
		Type:          doc.Type,
		Serial:        s.realized.Serial,
		StartedAt:     s.realized.RealizedAt,
		FinishedAt:    stamp(now),
		Proctored:     s.proctored,
		Mastery:       s.mastery,
	}

	byID := make(map[int]AnswerRecord, s.realized.Len())
	for _, it := range s.realized.Items {
		a := AnswerRecord{
			ItemID:   it.ItemID,
			Ref:      it.Template.Ref(),
			Response: it.Response,
			Correct:  it.Template.IsCorrect(it.Response),
		}
		if a.Correct {
			a.Score = it.Template.Score(it.Response)
		}
		res.Answers = append(res.Answers, a)
		byID[a.ItemID] = a
	}

	env := formula.Env{proctoredVar: formula.Bool(s.proctored)}
	for _, st := range doc.Subtests {
		var sum float64
		for _, ref := range st.Items {
			if a := byID[ref.ItemID]; a.Correct {
				sum += a.Score * ref.Weight
			}
		}
		score := int(sum)
		res.Subtests = append(res.Subtests, SubtestScore{Name: st.Name, Score: score})
		env[st.Name] = formula.Number(float64(score))
	}
	if score, ok := res.SubtestScore(scoreSubtest); ok {
		res.Score = &score
		if s.mastery != nil {
			env[passedVar] = formula.Bool(score >= *s.mastery)
		}
	}

	fail := func(what string, c assessment.Condition, err error) {
		msg := fmt.Sprintf("%s %q: %v", what, c.Source, err)
		res.GradingErrors = append(res.GradingErrors, msg)
		log.Error().Err(err).Str("formula", c.Source).Str("where", what).Msg("Formula evaluation failed")
	}

	for _, rule := range doc.GradingRules {
		ok, err := rule.Formula.Bool(env)
		if err != nil {
			fail("grading rule "+rule.Name, rule.Formula, err)
			ok = false
		}
		env[rule.Name] = formula.Bool(ok)
		res.Rules = append(res.Rules, RuleResult{Name: rule.Name, Passed: ok})
	}
	if v, ok := env[passedVar].AsBool(); ok {
		res.Passed = v
	}

	e.applyOutcomes(doc, env, res, fail)
	return res
}

func (e *Engine) applyOutcomes(doc *assessment.Document, env formula.Env, res *Result, fail func(string, assessment.Condition, error)) {
	for i, o := range doc.Outcomes {
		where := fmt.Sprintf("outcome %d", i+1)
		ok, err := o.Condition.Bool(env)
		if err != nil {
			fail(where+" condition", o.Condition, err)
			continue
		}
		if !ok {
			continue
		}

		denied := ""
		for _, p := range o.Prereqs {
			pass, err := p.Bool(env)
			if err != nil {
				fail(where+" prerequisite", p, err)
			}
			if err != nil || !pass {
				denied = DenialPrerequisite
				break
			}
		}

		how := ""
		if denied == "" && len(o.Validations) > 0 {
			for _, v := range o.Validations {
				pass, err := v.Formula.Bool(env)
				if err != nil {
					fail(where+" validation", v.Formula, err)
					continue
				}
				if pass {
					how = v.HowValidated
					setHowValidated(res, how)
					break
				}
			}
			if how == "" {
				denied = DenialValidation
			}
		}

		for _, act := range o.Actions {
			switch act.Kind {
			case assessment.ActionPlacement, assessment.ActionCredit:
				if denied != "" && o.LogDenial {
					res.Denials = append(res.Denials, Denial{Kind: act.Kind, Course: act.Course, Reason: denied})
				}
				switch denied {
				case "":
					res.Grants = append(res.Grants, Grant{Kind: act.Kind, Course: act.Course, HowValidated: how})
				case DenialValidation:
					res.Grants = append(res.Grants, Grant{Kind: act.Kind, Course: act.Course, HowValidated: HowValidatedUnvalidated})
					setHowValidated(res, HowValidatedUnvalidated)
				}
			case assessment.ActionLicensed:
				if denied == "" {
					res.Licensed = true
				}
			}
		}
	}
}

// setHowValidated records the latest how-validated tag; later outcomes
// overwrite earlier ones.
func setHowValidated(res *Result, how string) {
	if how != "" {
		res.HowValidated = how[:1]
	}
}
