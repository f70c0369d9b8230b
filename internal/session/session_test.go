package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assess/internal/assessment"
)

const testDoc = `
<assessment version="T1" course="M 117" unit="1" type="U" title="Unit 1" allowed-seconds="60" mastery="2">
  <section name="main">
    <item id="1"><choice ref="a"/></item>
    <item id="2"><choice ref="b"/></item>
  </section>
  <subtest name="score"><ref item="1"/><ref item="2"/></subtest>
  <outcome log-denial="true">
    <condition>passed</condition>
    <validation how="P">proctored</validation>
    <placement course="M 117"/>
  </outcome>
</assessment>`

type fakeEligibility struct {
	res EligibilityResult
	err error
}

func (f *fakeEligibility) CheckEligible(context.Context, string, *assessment.Document, time.Time) (EligibilityResult, error) {
	return f.res, f.err
}

type fakeRecords struct {
	mu        sync.Mutex
	recorded  []*Result
	prior     []Completion
	recordErr error
	mastery   *int
}

func (f *fakeRecords) RecordCompletion(_ context.Context, res *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, res)
	return f.recordErr
}

func (f *fakeRecords) PriorCompletions(context.Context, string, string) ([]Completion, error) {
	return f.prior, nil
}

func (f *fakeRecords) MasteryThreshold(context.Context, string, *assessment.Document) (*int, error) {
	return f.mastery, nil
}

func (f *fakeRecords) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

type fakeRecovery struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeRecovery) WriteRecovery(_ context.Context, _ *Record, reason string) error {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	eng   *Engine
	cat   *assessment.MemoryCatalog
	elig  *fakeEligibility
	rec   *fakeRecords
	recov *fakeRecovery
	doc   *assessment.Document
	t0    time.Time
}

func newFixture(t *testing.T, docXML string) *fixture {
	t.Helper()
	doc, err := assessment.Decode(strings.NewReader(docXML))
	require.NoError(t, err)

	cat := assessment.NewMemoryCatalog()
	require.NoError(t, cat.AddSpecs([]assessment.TemplateSpec{
		{Ref: "a", Kind: assessment.KindMultipleChoice, Answers: []string{"A"}},
		{Ref: "b", Kind: assessment.KindMultipleChoice, Answers: []string{"B"}},
	}))

	f := &fixture{
		cat:   cat,
		elig:  &fakeEligibility{res: EligibilityResult{Allowed: true}},
		rec:   &fakeRecords{},
		recov: &fakeRecovery{},
		doc:   doc,
		t0:    time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	f.eng = NewEngine(Deps{
		Catalog:     cat,
		Eligibility: f.elig,
		Records:     f.rec,
		Recovery:    f.recov,
		Serial:      func() int64 { return 42 },
	}, DefaultTiming, zerolog.Nop())
	return f
}

func (f *fixture) open(t *testing.T) *Session {
	t.Helper()
	s := New("jti-1", "S100", f.doc, "/home")
	v, err := f.eng.Process(context.Background(), s, Action{Kind: ActRender}, f.t0)
	require.NoError(t, err)
	require.Equal(t, "INSTRUCTIONS", v.State)
	return s
}

func (f *fixture) act(t *testing.T, s *Session, a Action, at time.Duration) View {
	t.Helper()
	v, err := f.eng.Process(context.Background(), s, a, f.t0.Add(at))
	require.NoError(t, err)
	return v
}

func answer(item int, resp string, next Action) Action {
	next.PostedItem = &item
	next.Response = assessment.Response{resp}
	return next
}

func TestFullAttemptScoresOnce(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)

	v := f.act(t, s, Action{Kind: ActBegin}, time.Second)
	assert.Equal(t, "ITEM", v.State)
	assert.Equal(t, 0, v.Item)
	assert.EqualValues(t, 59, v.RemainingSeconds)
	assert.Equal(t, f.t0.Add(60*time.Second), s.Deadline())

	v = f.act(t, s, answer(0, "A", Action{Kind: ActNavigate, Index: 1}), 2*time.Second)
	assert.Equal(t, 1, v.Item)
	assert.Equal(t, []bool{true, false}, v.Answered)

	v = f.act(t, s, answer(1, "B", Action{Kind: ActRequestSubmit}), 3*time.Second)
	assert.Equal(t, "SUBMIT", v.State)

	v = f.act(t, s, Action{Kind: ActConfirmYes}, 4*time.Second)
	assert.Equal(t, "COMPLETED", v.State)
	require.NotNil(t, v.Score)
	assert.Equal(t, 2, *v.Score)
	require.NotNil(t, v.Passed)
	assert.True(t, *v.Passed)
	assert.Empty(t, v.GradingError)

	require.Equal(t, 1, f.rec.count())
	res := f.rec.recorded[0]
	assert.Equal(t, "S100", res.StudentID)
	assert.EqualValues(t, 42, res.Serial)
	assert.Equal(t, f.t0, res.StartedAt)
	assert.Empty(t, res.Missed())

	// Passed but not proctored: placement still granted, flagged unvalidated.
	assert.Equal(t, []Grant{{Kind: assessment.ActionPlacement, Course: "M 117", HowValidated: HowValidatedUnvalidated}}, res.Grants)
	assert.Equal(t, []Denial{{Kind: assessment.ActionPlacement, Course: "M 117", Reason: DenialValidation}}, res.Denials)
	assert.Equal(t, "U", res.HowValidated)

	// Nothing after completion scores again.
	f.act(t, s, Action{Kind: ActTimeout}, 5*time.Second)
	f.act(t, s, Action{Kind: ActConfirmYes}, 6*time.Second)
	assert.Equal(t, 1, f.rec.count())
}

func TestMasteryFailure(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, answer(0, "A", Action{Kind: ActRequestSubmit}), time.Second)
	v := f.act(t, s, Action{Kind: ActConfirmYes}, 2*time.Second)

	require.NotNil(t, v.Score)
	assert.Equal(t, 1, *v.Score)
	assert.False(t, *v.Passed)
	res := f.rec.recorded[0]
	assert.Equal(t, []int{2}, res.Missed())
	assert.Empty(t, res.Grants)
}

func TestDeadlineForcesTimeout(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, answer(0, "A", Action{Kind: ActNavigate, Index: 1}), time.Second)

	// Answer posted after the deadline is not applied.
	v := f.act(t, s, answer(1, "B", Action{Kind: ActNavigate, Index: 0}), 61*time.Second)
	assert.Equal(t, "COMPLETED", v.State)
	require.Equal(t, 1, f.rec.count())
	assert.Equal(t, 1, *f.rec.recorded[0].Score)
	assert.True(t, s.TimedOut(f.t0.Add(61*time.Second), DefaultTiming))
}

func TestTimeoutAppliesMasteryThreshold(t *testing.T) {
	tests := []struct {
		mastery string
		passed  bool
	}{
		{mastery: "1", passed: true},
		{mastery: "2", passed: false},
	}
	for _, tt := range tests {
		t.Run("mastery "+tt.mastery, func(t *testing.T) {
			f := newFixture(t, strings.Replace(testDoc, `mastery="2"`, `mastery="`+tt.mastery+`"`, 1))
			s := f.open(t)
			f.act(t, s, Action{Kind: ActBegin}, 0)
			f.act(t, s, answer(0, "A", Action{Kind: ActNavigate, Index: 1}), time.Second)
			f.act(t, s, answer(1, "A", Action{Kind: ActNavigate, Index: 0}), 2*time.Second)

			v := f.act(t, s, Action{Kind: ActRender}, 61*time.Second)
			assert.Equal(t, "COMPLETED", v.State)
			require.NotNil(t, v.Score)
			assert.Equal(t, 1, *v.Score)
			require.NotNil(t, v.Passed)
			assert.Equal(t, tt.passed, *v.Passed)

			require.Equal(t, 1, f.rec.count())
			res := f.rec.recorded[0]
			assert.Equal(t, tt.passed, res.Passed)
			assert.Equal(t, []SubtestScore{{Name: "score", Score: 1}}, res.Subtests)
			assert.Equal(t, []int{2}, res.Missed())
		})
	}
}

func TestTimeLimitFactorExtendsDeadline(t *testing.T) {
	f := newFixture(t, testDoc)
	f.elig.res.TimeLimitFactor = 1.5
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)
	assert.Equal(t, f.t0.Add(90*time.Second), s.Deadline())
}

func TestStaleAnswerIgnored(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)

	v := f.act(t, s, answer(1, "B", Action{Kind: ActRender}), time.Second)
	assert.Equal(t, []bool{false, false}, v.Answered)
	assert.Equal(t, 0, v.Item)
}

func TestNavigationOutOfRangeIgnored(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	v := f.act(t, s, Action{Kind: ActNavigate, Index: 7}, 0)
	assert.Equal(t, "INSTRUCTIONS", v.State)
	assert.False(t, v.Started)
}

func TestIneligibleStaysInitial(t *testing.T) {
	f := newFixture(t, testDoc)
	f.elig.res = EligibilityResult{Reasons: []string{"not registered"}, Holds: []string{"library fine"}}
	s := New("jti-1", "S100", f.doc, "/home")

	v, err := f.eng.Process(context.Background(), s, Action{Kind: ActRender}, f.t0)
	ie, ok := IsIneligible(err)
	require.True(t, ok)
	assert.Equal(t, []string{"not registered"}, ie.Reasons)
	assert.Equal(t, "INITIAL", v.State)
	assert.Equal(t, []string{"library fine"}, v.Holds)
	assert.Equal(t, 0, v.ItemCount)
}

func TestEligibilityErrorPropagates(t *testing.T) {
	f := newFixture(t, testDoc)
	f.elig.err = errors.New("db down")
	s := New("jti-1", "S100", f.doc, "/home")
	_, err := f.eng.Process(context.Background(), s, Action{Kind: ActRender}, f.t0)
	require.Error(t, err)
	_, ok := IsIneligible(err)
	assert.False(t, ok)
	assert.IsType(t, Initial{}, s.State())
}

func TestRepeatAttemptLeniency(t *testing.T) {
	f := newFixture(t, testDoc)
	f.rec.prior = []Completion{
		{Version: "T1", Serial: 1, Answers: []AnswerRecord{{ItemID: 1, Correct: true}, {ItemID: 2, Correct: true}}},
		{Version: "T1", Serial: 2, Answers: []AnswerRecord{{ItemID: 1, Correct: true}, {ItemID: 2, Correct: false}}},
	}
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, answer(0, "wrong", Action{Kind: ActRequestSubmit}), time.Second)
	f.act(t, s, answer(1, "B", Action{Kind: ActConfirmYes}), 2*time.Second)

	res := f.rec.recorded[0]
	assert.Equal(t, assessment.AutoCorrectRef, res.Answers[0].Ref)
	assert.True(t, res.Answers[0].Correct)
	assert.Equal(t, "b", res.Answers[1].Ref)
}

func TestDuplicateSubmissionNotRecorded(t *testing.T) {
	f := newFixture(t, testDoc)
	f.rec.prior = []Completion{{Version: "T1", Serial: 42, StartedAt: f.t0}}
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, Action{Kind: ActRequestSubmit}, time.Second)
	v := f.act(t, s, Action{Kind: ActConfirmYes}, 2*time.Second)

	assert.Equal(t, "COMPLETED", v.State)
	assert.NotEmpty(t, v.GradingError)
	assert.Zero(t, f.rec.count())
}

func TestRecordFailureIsNonFatal(t *testing.T) {
	f := newFixture(t, testDoc)
	f.rec.recordErr = errors.New("connection reset")
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, Action{Kind: ActRequestSubmit}, time.Second)

	v, err := f.eng.Process(context.Background(), s, Action{Kind: ActConfirmYes}, f.t0.Add(2*time.Second))
	require.ErrorIs(t, err, ErrRecordFailed)
	var re *RecordError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "S100", re.Result.StudentID)
	assert.Equal(t, "COMPLETED", v.State)
	assert.NotEmpty(t, v.GradingError)

	f.act(t, s, Action{Kind: ActViewSolutions}, 3*time.Second)
	assert.Equal(t, 1, f.rec.count())
}

const ruleDoc = `
<assessment version="T2" allowed-seconds="60">
  <section>
    <item id="1"><choice ref="a"/></item>
    <item id="2"><choice ref="b"/></item>
  </section>
  <subtest name="score"><ref item="1"/><ref item="2" weight="2"/></subtest>
  <grading-rule name="passed">score &gt;= 3</grading-rule>
  <grading-rule name="bonus">missing_variable &gt; 1</grading-rule>
  <grading-rule name="syntax">score &gt;=</grading-rule>
  <outcome>
    <condition>passed</condition>
    <prereq>bonus</prereq>
    <credit course="M 118"/>
  </outcome>
  <outcome log-denial="true">
    <condition>passed</condition>
    <validation how="Proctored">proctored</validation>
    <placement course="M 118"/>
    <licensed/>
  </outcome>
</assessment>`

func TestGradingRulesFailClosed(t *testing.T) {
	f := newFixture(t, ruleDoc)
	s := f.open(t)
	s.MarkProctored()
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, answer(0, "A", Action{Kind: ActNavigate, Index: 1}), time.Second)
	v := f.act(t, s, answer(1, "B", Action{Kind: ActRequestSubmit}), 2*time.Second)
	require.Equal(t, "SUBMIT", v.State)
	v = f.act(t, s, Action{Kind: ActConfirmYes}, 3*time.Second)

	res := f.rec.recorded[0]
	assert.Equal(t, 3, *res.Score)
	assert.True(t, res.Passed)
	assert.Equal(t, []RuleResult{{"passed", true}, {"bonus", false}, {"syntax", false}}, res.Rules)
	assert.Len(t, res.GradingErrors, 2)
	assert.NotEmpty(t, v.GradingError)

	// First outcome fails its prerequisite without logging; second is validated.
	assert.Equal(t, []Grant{{Kind: assessment.ActionPlacement, Course: "M 118", HowValidated: "Proctored"}}, res.Grants)
	assert.Empty(t, res.Denials)
	assert.Equal(t, "P", res.HowValidated)
	assert.True(t, res.Licensed)
	assert.True(t, res.Proctored)
}

const twoOutcomeDoc = `
<assessment version="T3" allowed-seconds="60">
  <section>
    <item id="1"><choice ref="a"/></item>
  </section>
  <subtest name="score"><ref item="1"/></subtest>
  <outcome>
    <condition>score &gt;= 1</condition>
    <validation how="%s">%s</validation>
    <placement course="M 117"/>
  </outcome>
  <outcome>
    <condition>score &gt;= 1</condition>
    <validation how="%s">%s</validation>
    <credit course="M 117"/>
  </outcome>
</assessment>`

func TestHowValidatedKeepsLastOutcome(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unvalidated after proctored",
			doc:  fmt.Sprintf(twoOutcomeDoc, "Proctored", "proctored", "Class", "score &gt; 5"),
			want: "U",
		},
		{
			name: "proctored after unvalidated",
			doc:  fmt.Sprintf(twoOutcomeDoc, "Class", "score &gt; 5", "Proctored", "proctored"),
			want: "P",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.doc)
			s := f.open(t)
			s.MarkProctored()
			f.act(t, s, Action{Kind: ActBegin}, 0)
			f.act(t, s, answer(0, "A", Action{Kind: ActRequestSubmit}), time.Second)
			f.act(t, s, Action{Kind: ActConfirmYes}, 2*time.Second)

			res := f.rec.recorded[0]
			assert.Len(t, res.Grants, 2)
			assert.Equal(t, tt.want, res.HowValidated)
		})
	}
}

func TestSolutionsAndClose(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, answer(0, "C", Action{Kind: ActRequestSubmit}), time.Second)
	f.act(t, s, Action{Kind: ActConfirmYes}, 2*time.Second)

	v := f.act(t, s, Action{Kind: ActViewSolutions}, 3*time.Second)
	assert.Equal(t, "SOLUTION", v.State)
	assert.Equal(t, assessment.Response{"A"}, v.Solution)
	require.NotNil(t, v.Correct)
	assert.False(t, *v.Correct)

	v = f.act(t, s, Action{Kind: ActInstructions}, 4*time.Second)
	assert.Equal(t, -1, v.Item)
	v = f.act(t, s, Action{Kind: ActNavigate, Index: 1}, 5*time.Second)
	assert.Equal(t, 1, v.Item)

	v = f.act(t, s, Action{Kind: ActClose}, 6*time.Second)
	assert.True(t, v.Closed)
	assert.Equal(t, "/home", v.Redirect)
}

func TestSubmitConfirmNoReturns(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, Action{Kind: ActNavigate, Index: 1}, time.Second)
	f.act(t, s, Action{Kind: ActRequestSubmit}, 2*time.Second)
	v := f.act(t, s, Action{Kind: ActConfirmNo}, 3*time.Second)
	assert.Equal(t, "ITEM", v.State)
	assert.Equal(t, 1, v.Item)
	assert.Zero(t, f.rec.count())
}

func TestForceControls(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)

	_, err := f.eng.ForceSubmit(context.Background(), s, RoleStudent, f.t0)
	require.ErrorIs(t, err, ErrForbidden)
	require.ErrorIs(t, f.eng.ForceAbort(context.Background(), s, RoleStudent), ErrForbidden)
	assert.Zero(t, f.rec.count())

	require.NoError(t, f.eng.ForceAbort(context.Background(), s, RoleAdministrator))
	assert.Zero(t, f.rec.count())

	res, err := f.eng.ForceSubmit(context.Background(), s, RoleAdministrator, f.t0.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, f.rec.count())
	assert.IsType(t, Completed{}, s.State())
	assert.Equal(t, []string{"force_abort", "force_submit"}, f.recov.reasons)
}

func TestExpire(t *testing.T) {
	f := newFixture(t, testDoc)

	idle := f.open(t)
	res, err := f.eng.Expire(context.Background(), idle, f.t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Zero(t, f.rec.count())

	busy := f.open(t)
	f.act(t, busy, Action{Kind: ActBegin}, 0)
	res, err = f.eng.Expire(context.Background(), busy, f.t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, f.rec.count())
	assert.Equal(t, []string{"expired", "expired"}, f.recov.reasons)
}

func TestTimedOutAndPurgeDue(t *testing.T) {
	timing := DefaultTiming

	untimed := newFixture(t, strings.Replace(testDoc, `allowed-seconds="60"`, `allowed-seconds="0"`, 1))
	idle := untimed.open(t)
	assert.True(t, idle.Deadline().IsZero())
	assert.False(t, idle.TimedOut(untimed.t0.Add(time.Hour), timing))
	assert.True(t, idle.TimedOut(untimed.t0.Add(time.Hour+time.Millisecond), timing))
	assert.False(t, idle.PurgeDue(untimed.t0.Add(time.Hour+5*time.Minute), timing))
	assert.True(t, idle.PurgeDue(untimed.t0.Add(time.Hour+11*time.Minute), timing))

	f := newFixture(t, testDoc)
	timed := f.open(t)
	assert.Equal(t, f.t0.Add(time.Minute), timed.Deadline())
	f.act(t, timed, Action{Kind: ActBegin}, 0)
	assert.False(t, timed.TimedOut(f.t0.Add(59*time.Second), timing))
	assert.True(t, timed.TimedOut(f.t0.Add(60*time.Second), timing))
	assert.False(t, timed.PurgeDue(f.t0.Add(60*time.Second+9*time.Minute), timing))
	assert.True(t, timed.PurgeDue(f.t0.Add(60*time.Second+10*time.Minute), timing))
}

func TestRecordRestoresEquivalentSession(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	s.MarkProctored()
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, answer(0, "A", Action{Kind: ActNavigate, Index: 1}), time.Second)

	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, []*Record{s.Record()}))

	var restored []*Session
	err := ReadRecords(&buf, func(rec *Record) {
		r, err := FromRecord(rec, f.cat, zerolog.Nop())
		require.NoError(t, err)
		restored = append(restored, r)
	}, func(err error) { t.Fatalf("unexpected record error: %v", err) })
	require.NoError(t, err)
	require.Len(t, restored, 1)

	r := restored[0]
	now := f.t0.Add(2 * time.Second)
	assert.Equal(t, s.Summary(), r.Summary())
	assert.Equal(t, s.View(now), r.View(now))

	// The restored copy finishes the attempt like the original would have.
	f.act(t, r, answer(1, "B", Action{Kind: ActRequestSubmit}), 3*time.Second)
	f.act(t, r, Action{Kind: ActConfirmYes}, 4*time.Second)
	require.Equal(t, 1, f.rec.count())
	assert.Equal(t, 2, *f.rec.recorded[0].Score)
	assert.Equal(t, f.t0, f.rec.recorded[0].StartedAt)
	assert.True(t, f.rec.recorded[0].Proctored)
}

func TestRecordRestoresCompletedOutcome(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	f.act(t, s, Action{Kind: ActBegin}, 0)
	f.act(t, s, answer(0, "A", Action{Kind: ActRequestSubmit}), time.Second)
	v := f.act(t, s, Action{Kind: ActConfirmYes}, 2*time.Second)
	require.NotNil(t, v.Passed)
	require.False(t, *v.Passed)

	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, []*Record{s.Record()}))
	var restored *Session
	err := ReadRecords(&buf, func(rec *Record) {
		r, err := FromRecord(rec, f.cat, zerolog.Nop())
		require.NoError(t, err)
		restored = r
	}, func(err error) { t.Fatalf("unexpected record error: %v", err) })
	require.NoError(t, err)
	require.NotNil(t, restored)

	got := restored.View(f.t0.Add(3 * time.Second))
	assert.Equal(t, "COMPLETED", got.State)
	require.NotNil(t, got.Passed)
	assert.False(t, *got.Passed)
	assert.Equal(t, v.Score, got.Score)

	// A session that was never scored has no outcome to restore.
	fresh := f.open(t)
	assert.Nil(t, fresh.Record().Passed)
}

func TestFromRecordOptionalFields(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)
	rec := s.Record()
	rec.Mastery = nil
	rec.Score = nil
	rec.StartInstructions = nil

	r, err := FromRecord(rec, f.cat, zerolog.Nop())
	require.NoError(t, err)
	v := r.View(f.t0)
	assert.Nil(t, v.Mastery)
	assert.Equal(t, "INSTRUCTIONS", v.State)
}

func TestFromRecordRejectsIncomplete(t *testing.T) {
	f := newFixture(t, testDoc)
	s := f.open(t)

	mutate := map[string]func(*Record){
		"interaction": func(r *Record) { r.Interaction = "" },
		"state":       func(r *Record) { r.State = "BOGUS" },
		"cur-item":    func(r *Record) { r.CurItem = nil },
		"timeout":     func(r *Record) { r.Timeout = nil },
		"document":    func(r *Record) { r.Document.Inner = nil },
		"selection":   func(r *Record) { r.Selected = nil },
		"template":    func(r *Record) { r.Selected[0].Ref = "gone" },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			rec := s.Record()
			fn(rec)
			_, err := FromRecord(rec, f.cat, zerolog.Nop())
			require.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestReadRecordsSkipsBadRecord(t *testing.T) {
	f := newFixture(t, testDoc)
	good := f.open(t)
	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, []*Record{good.Record()}))

	// Prepend a record whose timeout is not a number.
	file := strings.Replace(buf.String(), "<assessment-sessions>",
		"<assessment-sessions><assessment-session><timeout>soon</timeout></assessment-session>", 1)

	var ok, bad int
	err := ReadRecords(strings.NewReader(file), func(*Record) { ok++ }, func(error) { bad++ })
	require.NoError(t, err)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, bad)
}

func TestParseActionKind(t *testing.T) {
	k, err := ParseActionKind("confirm-yes")
	require.NoError(t, err)
	assert.Equal(t, ActConfirmYes, k)
	assert.Equal(t, "confirm-yes", k.String())

	_, err = ParseActionKind("explode")
	require.ErrorIs(t, err, ErrUnknownAction)
}
