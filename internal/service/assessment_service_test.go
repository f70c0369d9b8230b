package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/session"
	"github.com/stemsi/exstem-assess/internal/store"
)

const serviceDoc = `
<assessment version="M117-U2-Q" course="M 117" unit="2" type="U" title="Unit 2" allowed-seconds="600" mastery="1">
  <section name="main">
    <item id="1"><choice ref="q1"/></item>
    <item id="2"><choice ref="q1"/></item>
  </section>
  <subtest name="score"><ref item="1"/><ref item="2"/></subtest>
</assessment>`

type stubDocs struct{ doc *assessment.Document }

func (s stubDocs) Document(_ context.Context, version string) (*assessment.Document, error) {
	if version != s.doc.Version {
		return nil, ErrAssessmentNotFound
	}
	return s.doc, nil
}

type stubEligibility struct{ reasons []string }

func (s stubEligibility) CheckEligible(context.Context, string, *assessment.Document, time.Time) (session.EligibilityResult, error) {
	return session.EligibilityResult{Allowed: len(s.reasons) == 0, Reasons: s.reasons}, nil
}

type stubRecords struct {
	mu   sync.Mutex
	fail bool
	n    int
}

func (s *stubRecords) RecordCompletion(context.Context, *session.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("database down")
	}
	s.n++
	return nil
}

func (s *stubRecords) PriorCompletions(context.Context, string, string) ([]session.Completion, error) {
	return nil, nil
}

func (s *stubRecords) MasteryThreshold(context.Context, string, *assessment.Document) (*int, error) {
	return nil, nil
}

type stubQueue struct {
	mu      sync.Mutex
	results []*session.Result
}

func (q *stubQueue) EnqueueCompletion(_ context.Context, res *session.Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, res)
	return nil
}

type stubEvents struct {
	mu     sync.Mutex
	events []MonitorEvent
}

func (e *stubEvents) Publish(_ context.Context, ev MonitorEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *stubEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

type stubCompletions struct{}

func (stubCompletions) ListByStudent(context.Context, string, int) ([]model.CompletionSummary, error) {
	return nil, nil
}

type harness struct {
	svc     *AssessmentService
	store   *store.Store
	records *stubRecords
	queue   *stubQueue
	events  *stubEvents
	version string
	now     time.Time
}

func newHarness(t *testing.T, elig stubEligibility) *harness {
	t.Helper()
	doc, err := assessment.Decode(strings.NewReader(serviceDoc))
	require.NoError(t, err)
	cat := assessment.NewMemoryCatalog()
	require.NoError(t, cat.AddSpecs([]assessment.TemplateSpec{
		{Ref: "q1", Kind: assessment.KindMultipleChoice, Answers: []string{"B"}},
	}))

	h := &harness{
		records: &stubRecords{},
		queue:   &stubQueue{},
		events:  &stubEvents{},
		version: doc.Version,
		now:     time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	engine := session.NewEngine(session.Deps{
		Catalog:     cat,
		Eligibility: elig,
		Records:     h.records,
		Serial:      func() int64 { return 42 },
	}, session.DefaultTiming, zerolog.Nop())
	h.store = store.New(session.DefaultTiming, zerolog.Nop(), store.WithClock(clock))
	h.svc = NewAssessmentService(h.store, engine, stubDocs{doc: doc}, h.queue, h.events, stubCompletions{}, zerolog.Nop())
	h.svc.now = clock
	return h
}

func (h *harness) act(t *testing.T, action string, index int, posted *int, resp ...string) session.View {
	t.Helper()
	v, err := h.svc.Act(context.Background(), "S-100", "jti-a", h.version, model.ActionRequest{
		Action: action, Index: index, PostedItem: posted, Response: resp,
	})
	require.NoError(t, err)
	return v
}

func TestOpenStoresEligibleSession(t *testing.T) {
	h := newHarness(t, stubEligibility{})

	v, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "/done")
	require.NoError(t, err)
	assert.Equal(t, "INSTRUCTIONS", v.State)
	assert.Equal(t, 1, h.store.Len())

	again, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)
	assert.Equal(t, "INSTRUCTIONS", again.State)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, []string{EventOpened}, h.events.types())
}

func TestOpenIneligibleNotStored(t *testing.T) {
	h := newHarness(t, stubEligibility{reasons: []string{"not registered"}})

	v, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	ie, ok := session.IsIneligible(err)
	require.True(t, ok)
	assert.Equal(t, []string{"not registered"}, ie.Reasons)
	assert.Equal(t, "INITIAL", v.State)
	assert.Zero(t, h.store.Len())
}

func TestOpenUnknownAssessment(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	_, err := h.svc.Open(context.Background(), "S-100", "jti-a", "nope", "")
	assert.ErrorIs(t, err, ErrAssessmentNotFound)
}

func TestActFullAttempt(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	_, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)

	h.act(t, "begin", 0, nil)
	first, second := 0, 1
	h.act(t, "navigate", 1, &first, "B")
	h.act(t, "submit", 0, &second, "B")
	v := h.act(t, "confirm-yes", 0, nil)
	assert.Equal(t, "COMPLETED", v.State)
	require.NotNil(t, v.Score)
	assert.Equal(t, 2, *v.Score)
	assert.Equal(t, 1, h.records.n)

	h.act(t, "solutions", 0, nil)
	v = h.act(t, "close", 0, nil)
	assert.True(t, v.Closed)
	assert.Zero(t, h.store.Len())
	assert.Contains(t, h.events.types(), EventCompleted)
	assert.Contains(t, h.events.types(), EventClosed)
}

func TestActWithoutSession(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	_, err := h.svc.Act(context.Background(), "S-100", "jti-a", h.version, model.ActionRequest{Action: "begin"})
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)
	_, err = h.svc.Act(context.Background(), "S-999", "jti-a", h.version, model.ActionRequest{Action: "begin"})
	assert.ErrorIs(t, err, ErrNoActiveSession)

}

func TestActUnknownActionRendersCurrentState(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	_, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)
	h.act(t, "begin", 0, nil)

	first := 0
	v := h.act(t, "dance", 1, &first, "B")
	assert.Equal(t, "ITEM", v.State)
	assert.Equal(t, 0, v.Item)
	assert.Equal(t, []bool{false, false}, v.Answered)

	// Past the deadline the same request completes the attempt.
	h.now = h.now.Add(11 * time.Minute)
	v = h.act(t, "dance", 0, nil)
	assert.Equal(t, "COMPLETED", v.State)
	assert.Equal(t, 1, h.records.n)
}

func TestRecordFailureIsQueued(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	h.records.fail = true
	_, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)

	h.act(t, "begin", 0, nil)
	h.act(t, "submit", 0, nil)
	v := h.act(t, "confirm-yes", 0, nil)
	assert.Equal(t, "COMPLETED", v.State)
	require.Len(t, h.queue.results, 1)
	assert.Equal(t, "S-100", h.queue.results[0].StudentID)
}

func TestProctorCodeMarksInteraction(t *testing.T) {
	h := newHarness(t, stubEligibility{})

	_, err := h.svc.IssueProctorCode(context.Background(), "jti-a")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)
	code, err := h.svc.IssueProctorCode(context.Background(), "jti-a")
	require.NoError(t, err)

	got, err := h.svc.ResolveProctorCode(" " + strings.ToLower(code) + " ")
	require.NoError(t, err)
	assert.Equal(t, "jti-a", got.InteractionID)
	assert.Equal(t, "S-100", got.StudentID)

	sess, ok := h.store.Get("jti-a", h.version)
	require.True(t, ok)
	assert.True(t, sess.Summary().Proctored)

	_, err = h.svc.ResolveProctorCode("ZZZZZZ")
	assert.ErrorIs(t, err, ErrProctorCodeUnknown)
}

func TestListSessionsFiltersAndPages(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	for _, id := range []string{"jti-a", "jti-b", "jti-c"} {
		_, err := h.svc.Open(context.Background(), "S-"+id, id, h.version, "")
		require.NoError(t, err)
	}

	page, total := h.svc.ListSessions(model.SessionListQuery{Page: 1, PerPage: 2})
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "jti-a", page[0].InteractionID)

	page, total = h.svc.ListSessions(model.SessionListQuery{Page: 2, PerPage: 2})
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "jti-c", page[0].InteractionID)

	page, total = h.svc.ListSessions(model.SessionListQuery{State: "ITEM", Page: 1, PerPage: 10})
	assert.Zero(t, total)
	assert.Empty(t, page)
}

func TestForceSubmitAndAbort(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	_, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)
	h.act(t, "begin", 0, nil)

	out, err := h.svc.ForceSubmit(context.Background(), "jti-a", h.version)
	require.NoError(t, err)
	assert.NotNil(t, out.Result)
	assert.Empty(t, out.Warning)
	assert.Equal(t, 1, h.records.n)
	assert.Zero(t, h.store.Len())

	_, err = h.svc.ForceSubmit(context.Background(), "jti-a", h.version)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = h.svc.Open(context.Background(), "S-200", "jti-b", h.version, "")
	require.NoError(t, err)
	out, err = h.svc.ForceAbort(context.Background(), "jti-b", h.version)
	require.NoError(t, err)
	assert.Equal(t, "force_abort", out.Action)
	assert.Zero(t, h.store.Len())
	assert.Equal(t, 1, h.records.n)
}

func TestSweepScoresExpired(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	_, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)
	h.act(t, "begin", 0, nil)

	assert.Zero(t, h.svc.Sweep(context.Background()))

	h.now = h.now.Add(25 * time.Minute)
	assert.Equal(t, 1, h.svc.Sweep(context.Background()))
	assert.Equal(t, 1, h.records.n)
	assert.Zero(t, h.store.Len())
	assert.Contains(t, h.events.types(), EventPurged)
}

func TestStudentInteraction(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	_, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)

	got, err := h.svc.StudentInteraction(context.Background(), "S-100")
	require.NoError(t, err)
	assert.Equal(t, "jti-a", got.InteractionID)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, h.version, got.Sessions[0].AssessmentID)
	assert.NotNil(t, got.Completions)

	none, err := h.svc.StudentInteraction(context.Background(), "S-404")
	require.NoError(t, err)
	assert.Empty(t, none.InteractionID)
	assert.Empty(t, none.Sessions)
}

type stubDashboard struct{ since time.Time }

func (d *stubDashboard) GetSummaryCounts(_ context.Context, since time.Time) (model.DashboardCounts, error) {
	d.since = since
	return model.DashboardCounts{Students: 3, Completions: 1}, nil
}

func (d *stubDashboard) GetAssessmentStats(context.Context, time.Time, int) ([]model.AssessmentStats, error) {
	return []model.AssessmentStats{{Version: "M117-U2-Q", Attempts: 1}}, nil
}

func TestDashboardCountsLiveSessions(t *testing.T) {
	h := newHarness(t, stubEligibility{})
	_, err := h.svc.Open(context.Background(), "S-100", "jti-a", h.version, "")
	require.NoError(t, err)
	_, err = h.svc.Open(context.Background(), "S-200", "jti-b", h.version, "")
	require.NoError(t, err)
	h.act(t, "begin", 0, nil)

	repo := &stubDashboard{}
	data, err := NewDashboardService(repo, h.svc).GetDashboardData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.now.Add(-DashboardWindow), repo.since)
	assert.Equal(t, 3, data.Counts.Students)
	assert.Equal(t, 2, data.LiveSessions)
	assert.Equal(t, map[string]int{"ITEM": 1, "INSTRUCTIONS": 1}, data.SessionsByState)
	require.Len(t, data.Assessments, 1)
}
