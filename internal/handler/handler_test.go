package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-assess/internal/assessment"
	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/response"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/session"
	"github.com/stemsi/exstem-assess/internal/store"
	"github.com/stemsi/exstem-assess/internal/validator"
)

const handlerDoc = `
<assessment version="M117-U3-Q" course="M 117" unit="3" type="Q" title="Unit 3 quiz" allowed-seconds="300" mastery="1">
  <section name="main">
    <item id="1"><choice ref="q1"/></item>
  </section>
  <subtest name="score"><ref item="1"/></subtest>
</assessment>`

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type fixedDocs struct{ doc *assessment.Document }

func (f fixedDocs) Document(_ context.Context, version string) (*assessment.Document, error) {
	if version != f.doc.Version {
		return nil, service.ErrAssessmentNotFound
	}
	return f.doc, nil
}

type gate struct{ reasons []string }

func (g gate) CheckEligible(context.Context, string, *assessment.Document, time.Time) (session.EligibilityResult, error) {
	return session.EligibilityResult{Allowed: len(g.reasons) == 0, Reasons: g.reasons}, nil
}

type memRecords struct{}

func (memRecords) RecordCompletion(context.Context, *session.Result) error { return nil }
func (memRecords) PriorCompletions(context.Context, string, string) ([]session.Completion, error) {
	return nil, nil
}
func (memRecords) MasteryThreshold(context.Context, string, *assessment.Document) (*int, error) {
	return nil, nil
}

type nopQueue struct{}

func (nopQueue) EnqueueCompletion(context.Context, *session.Result) error {
	return errors.New("queue offline")
}

type noCompletions struct{}

func (noCompletions) ListByStudent(context.Context, string, int) ([]model.CompletionSummary, error) {
	return nil, nil
}

func newTestService(t *testing.T, reasons ...string) *service.AssessmentService {
	t.Helper()
	doc, err := assessment.Decode(strings.NewReader(handlerDoc))
	require.NoError(t, err)
	cat := assessment.NewMemoryCatalog()
	require.NoError(t, cat.AddSpecs([]assessment.TemplateSpec{
		{Ref: "q1", Kind: assessment.KindMultipleChoice, Answers: []string{"A"}},
	}))
	engine := session.NewEngine(session.Deps{
		Catalog:     cat,
		Eligibility: gate{reasons: reasons},
		Records:     memRecords{},
	}, session.DefaultTiming, zerolog.Nop())
	st := store.New(session.DefaultTiming, zerolog.Nop())
	return service.NewAssessmentService(st, engine, fixedDocs{doc: doc}, nopQueue{}, nil, noCompletions{}, zerolog.Nop())
}

// withClaims stands in for the JWT middleware.
func withClaims(claims *service.Claims) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, claims)
		c.Next()
	}
}

func studentClaims(studentID, interactionID string) *service.Claims {
	return &service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: interactionID},
		TokenType:        service.TokenTypeStudent,
		UserID:           studentID,
	}
}

func studentRouter(svc *service.AssessmentService) *gin.Engine {
	h := NewAssessmentHandler(svc, zerolog.Nop())
	r := gin.New()
	g := r.Group("/api/v1/student", withClaims(studentClaims("S-7", "jti-7")))
	g.GET("/assessments/:assessment_id", h.OpenAssessment)
	g.POST("/assessments/:assessment_id/actions", h.PostAction)
	g.POST("/proctor-code", h.IssueProctorCode)
	return r
}

type envelope struct {
	Data       json.RawMessage      `json:"data"`
	Error      *response.ErrorBody  `json:"error"`
	Pagination *response.Pagination `json:"pagination"`
}

func do(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestOpenAssessmentReturnsView(t *testing.T) {
	r := studentRouter(newTestService(t))

	w, env := do(t, r, http.MethodGet, "/api/v1/student/assessments/M117-U3-Q", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view session.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "INSTRUCTIONS", view.State)
	assert.Equal(t, "jti-7", view.InteractionID)
	assert.Equal(t, 1, view.ItemCount)
}

func TestOpenAssessmentErrors(t *testing.T) {
	r := studentRouter(newTestService(t))

	w, env := do(t, r, http.MethodGet, "/api/v1/student/assessments/-bad", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrInvalidID, env.Error.Code)

	w, env = do(t, r, http.MethodGet, "/api/v1/student/assessments/M999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrAssessmentNotFound, env.Error.Code)
}

func TestOpenAssessmentIneligible(t *testing.T) {
	r := studentRouter(newTestService(t, "outside the assessment window"))

	w, env := do(t, r, http.MethodGet, "/api/v1/student/assessments/M117-U3-Q", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrNotEligible, env.Error.Code)

	var body ineligibleBody
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, []string{"outside the assessment window"}, body.Reasons)
}

func TestPostActionFlow(t *testing.T) {
	r := studentRouter(newTestService(t))

	w, env := do(t, r, http.MethodPost, "/api/v1/student/assessments/M117-U3-Q/actions", model.ActionRequest{Action: "begin"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrNoActiveSession, env.Error.Code)

	w, _ = do(t, r, http.MethodGet, "/api/v1/student/assessments/M117-U3-Q", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/student/assessments/M117-U3-Q/actions", model.ActionRequest{Action: "begin"})
	require.Equal(t, http.StatusOK, w.Code)
	var view session.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "ITEM", view.State)

	w, env = do(t, r, http.MethodPost, "/api/v1/student/assessments/M117-U3-Q/actions", map[string]any{"action": "dance"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "ITEM", view.State)

	w, env = do(t, r, http.MethodPost, "/api/v1/student/assessments/M117-U3-Q/actions", map[string]any{"action": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)
	assert.Contains(t, env.Error.Fields, "action")
}

func TestIssueProctorCode(t *testing.T) {
	r := studentRouter(newTestService(t))

	w, env := do(t, r, http.MethodPost, "/api/v1/student/proctor-code", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrNoActiveSession, env.Error.Code)

	do(t, r, http.MethodGet, "/api/v1/student/assessments/M117-U3-Q", nil)
	w, env = do(t, r, http.MethodPost, "/api/v1/student/proctor-code", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.ProctorCodeResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.Code, 6)
}

func TestAdminSessionControls(t *testing.T) {
	svc := newTestService(t)
	student := studentRouter(svc)
	do(t, student, http.MethodGet, "/api/v1/student/assessments/M117-U3-Q", nil)

	h := NewAdminHandler(svc, nil, nil, nil, nil, zerolog.Nop())
	r := gin.New()
	r.GET("/sessions", h.ListSessions)
	r.POST("/sessions/:interaction_id/:assessment_id/force-abort", h.ForceAbort)
	r.POST("/proctor-codes/:code", h.LookupProctorCode)

	w, env := do(t, r, http.MethodGet, "/sessions?assessment_id=M117-U3-Q", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalItems)

	w, env = do(t, r, http.MethodGet, "/sessions?per_page=1000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error.Fields, "per_page")

	w, env = do(t, r, http.MethodPost, "/proctor-codes/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error.Fields, "code")

	w, env = do(t, r, http.MethodPost, "/proctor-codes/ZZZZZZ", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrCodeNotFound, env.Error.Code)

	w, _ = do(t, r, http.MethodPost, "/sessions/jti-7/M117-U3-Q/force-abort", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodPost, "/sessions/jti-7/M117-U3-Q/force-abort", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.ErrNoActiveSession, env.Error.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrAssessmentNotFound, http.StatusNotFound, response.ErrAssessmentNotFound},
		{session.ErrUnknownAction, http.StatusBadRequest, response.ErrUnknownAction},
		{session.ErrForbidden, http.StatusForbidden, response.ErrForbidden},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestHealthWithoutRedis(t *testing.T) {
	h := NewSystemHandler(nil, store.New(session.DefaultTiming, zerolog.Nop()), zerolog.Nop())
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"live_sessions":0`)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1m 5s", formatDuration(65*time.Second))
	assert.Equal(t, "2h 0m 1s", formatDuration(2*time.Hour+time.Second))
	assert.Equal(t, "1d 1h 0m 0s", formatDuration(25*time.Hour))
}
