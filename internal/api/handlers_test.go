package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phase-funnel/internal/capi"
	"github.com/ignite/phase-funnel/internal/config"
	"github.com/ignite/phase-funnel/internal/consent"
	"github.com/ignite/phase-funnel/internal/identity"
	"github.com/ignite/phase-funnel/internal/kvstore"
	"github.com/ignite/phase-funnel/internal/leads"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
	"github.com/ignite/phase-funnel/internal/ratelimit"
	"github.com/ignite/phase-funnel/internal/report"
	"github.com/ignite/phase-funnel/internal/scoring"
	"github.com/ignite/phase-funnel/internal/tracking"
	"github.com/ignite/phase-funnel/internal/utm"
)

// MockSender records channel B forwards.
type MockSender struct {
	mu  sync.Mutex
	got []tracking.ForwardRequest
	rcs []capi.RequestContext
}

func (m *MockSender) Forward(_ context.Context, fr tracking.ForwardRequest, rc capi.RequestContext) (capi.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, fr)
	m.rcs = append(m.rcs, rc)
	return capi.Result{EventsReceived: 1}, nil
}

func (m *MockSender) Forwards() []tracking.ForwardRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]tracking.ForwardRequest(nil), m.got...)
}

// MockSink is a lead sink that can be told to fail.
type MockSink struct {
	mu    sync.Mutex
	err   error
	leads []leads.Lead
}

func (m *MockSink) Name() string { return "mock" }

func (m *MockSink) Deliver(_ context.Context, l leads.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.leads = append(m.leads, l)
	return nil
}

type MockGenerator struct {
	text string
	err  error
}

func (m MockGenerator) Generate(ctx context.Context, _ report.Prompt) (string, error) {
	return m.text, m.err
}

type MockCounter map[string]int

func (m MockCounter) CountBySegment(context.Context) (map[string]int, error) { return m, nil }

type testEnv struct {
	router  http.Handler
	emitter *tracking.Emitter
	sender  *MockSender
	sink    *MockSink
}

func setupTestServer(t *testing.T, gen report.Generator, opts RouteOptions) *testEnv {
	t.Helper()
	log := logger.New(&bytes.Buffer{}, logger.DEBUG)
	em := tracking.NewEmitter(nil, nil, nil, tracking.Config{ChannelBDelay: time.Millisecond}, tracking.WithLogger(log))
	t.Cleanup(em.Close)

	sender := &MockSender{}
	sink := &MockSink{}
	h := NewHandlers(Deps{
		Emitter:   em,
		Forwarder: sender,
		Sessions:  kvstore.NewMemory(time.Hour),
		Leads:     leads.NewService(sink, log),
		Counter:   MockCounter{"ira": 2},
		Reports:   gen,
		Log:       log,
	})
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = []string{"https://quiz.example.com"}
	}
	srv := NewServer(config.ServerConfig{Port: 8080}, h, opts)
	return &testEnv{router: srv.Handler(), emitter: em, sender: sender, sink: sink}
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent/1.0")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type eventsBody struct {
	Fired  bool         `json:"fired"`
	Events []PixelEvent `json:"events"`
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestGetQuestions(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	rec := env.do(t, http.MethodGet, "/api/quiz/questions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Questions []scoring.Question `json:"questions"`
		Segments  []scoring.Segment  `json:"segments"`
	}
	decodeBody(t, rec, &body)
	assert.Len(t, body.Questions, len(scoring.Questions))
	assert.Equal(t, scoring.Priority, body.Segments)
}

func TestPostQuizResultScoresAndSharesEventID(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	rec := env.do(t, http.MethodPost, "/api/quiz/result",
		`{"answers":{"checagens":"6+","nome":"Ana"},"sourceUrl":"https://quiz.example.com/resultado"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		scoring.Result
		Events []PixelEvent `json:"events"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, scoring.Abstinencia, body.Segment)
	assert.Equal(t, 3, body.TotalScore)
	assert.Equal(t, 3, body.Scores[scoring.Abstinencia])
	require.Len(t, body.Events, 1)
	assert.Equal(t, tracking.EventCompleteReg, body.Events[0].EventName)
	assert.Equal(t, "abstinencia", body.Events[0].CustomData["segment"])

	env.emitter.Wait()
	forwards := env.sender.Forwards()
	require.Len(t, forwards, 1)
	assert.Equal(t, body.Events[0].EventID, forwards[0].EventID, "both channels share the event id")
	assert.NotEmpty(t, forwards[0].ExternalID)
	assert.Equal(t, "test-agent/1.0", forwards[0].UserAgent)
}

func TestPostQuizResultIsDeduplicatedPerVisitor(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	first := env.do(t, http.MethodPost, "/api/quiz/result", `{"answers":{}}`, nil)
	require.Equal(t, http.StatusOK, first.Code)
	cookies := first.Result().Cookies()

	second := env.do(t, http.MethodPost, "/api/quiz/result", `{"answers":{}}`, cookies)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b eventsBody
	decodeBody(t, first, &a)
	decodeBody(t, second, &b)
	assert.Len(t, a.Events, 1)
	assert.Empty(t, b.Events)

	env.emitter.Wait()
	assert.Len(t, env.sender.Forwards(), 1)
}

func TestPostQuizResultAnswerContent(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"empty answers", `{"answers":{}}`, http.StatusOK},
		{"odd answer types", `{"answers":{"tempo_fim":7,"choro":{"x":1},"planos":null}}`, http.StatusOK},
		{"unknown question", `{"answers":{"nope":"x"}}`, http.StatusOK},
		{"malformed", `{"answers":`, http.StatusBadRequest},
		{"unknown field", `{"answerz":{}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/quiz/result", tt.body, nil)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestPostLead(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	rec := env.do(t, http.MethodPost, "/api/leads",
		`{"name":"Ana Souza","email":"Ana@Example.com","phone":"(11) 98765-4321","answers":{"tempo_fim":"0-7"}}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		ID      string          `json:"id"`
		Segment scoring.Segment `json:"segment"`
		Events  []PixelEvent    `json:"events"`
	}
	decodeBody(t, rec, &body)
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, scoring.Devastacao, body.Segment)
	require.Len(t, body.Events, 1)
	assert.Equal(t, tracking.EventLead, body.Events[0].EventName)

	require.Len(t, env.sink.leads, 1)
	assert.Equal(t, "ana@example.com", env.sink.leads[0].Email)
	assert.NotEmpty(t, env.sink.leads[0].ExternalID)

	env.emitter.Wait()
	forwards := env.sender.Forwards()
	require.Len(t, forwards, 1)
	assert.Equal(t, "ana@example.com", forwards[0].Email)
	assert.Equal(t, "Ana", forwards[0].FirstName)
	assert.Equal(t, body.Events[0].EventID, forwards[0].EventID)
}

func TestPostLeadValidation(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	rec := env.do(t, http.MethodPost, "/api/leads", `{"name":"","email":"nope","phone":"123"}`, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "validation_failed", body.Code)
	assert.Contains(t, body.Details, "name")
	assert.Contains(t, body.Details, "email")
	assert.Contains(t, body.Details, "phone")
	assert.Empty(t, env.sink.leads)
}

func TestPostLeadDeliveryFailure(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})
	env.sink.err = errors.New("webhook returned 503")

	rec := env.do(t, http.MethodPost, "/api/leads",
		`{"name":"Ana","email":"ana@example.com","phone":"11987654321"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "503", "upstream detail stays in the logs")

	env.emitter.Wait()
	assert.Empty(t, env.sender.Forwards(), "no Lead event without a delivered lead")
}

func TestGetLeadStats(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	rec := env.do(t, http.MethodGet, "/api/leads/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"segments":{"ira":2}}`, rec.Body.String())
}

func TestPostReportPreview(t *testing.T) {
	tests := []struct {
		name     string
		gen      report.Generator
		body     string
		wantCode int
		wantText string
	}{
		{"from segment", MockGenerator{text: "Seu relatório"}, `{"name":"Ana","segment":"ira"}`, http.StatusOK, "Seu relatório"},
		{"from answers", MockGenerator{text: "ok"}, `{"name":"Ana","answers":{"raiva":"raiva_intensa"}}`, http.StatusOK, "ok"},
		{"missing segment", MockGenerator{text: "x"}, `{"name":"Ana"}`, http.StatusBadRequest, ""},
		{"upstream failure", MockGenerator{err: errors.New("status 500")}, `{"segment":"ira"}`, http.StatusBadGateway, ""},
		{"not configured", nil, `{"segment":"ira"}`, http.StatusServiceUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, tt.gen, RouteOptions{})
			rec := env.do(t, http.MethodPost, "/api/report/preview", tt.body, nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantText != "" {
				var body reportResponse
				decodeBody(t, rec, &body)
				assert.Equal(t, tt.wantText, body.Text)
			}
		})
	}
}

func TestPostReportPreviewAbortedWritesNothing(t *testing.T) {
	env := setupTestServer(t, MockGenerator{err: report.ErrAborted}, RouteOptions{})

	rec := env.do(t, http.MethodPost, "/api/report/preview", `{"segment":"ira"}`, nil)
	assert.Empty(t, rec.Body.String())
}

func TestPostPageViewBootstrapsOncePerSession(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	first := env.do(t, http.MethodPost, "/api/track/pageview",
		`{"sourceUrl":"https://quiz.example.com/?utm_source=ig&fbclid=abc123"}`, nil)
	require.Equal(t, http.StatusOK, first.Code)

	var a pageViewResponse
	decodeBody(t, first, &a)
	assert.True(t, a.Fired)
	require.Len(t, a.Events, 1)
	assert.Equal(t, tracking.EventPageView, a.Events[0].EventName)
	assert.True(t, strings.HasPrefix(a.Events[0].EventID, "pv_"), a.Events[0].EventID)
	assert.Equal(t, "ig", a.Events[0].CustomData["utm_source"])
	assert.True(t, a.Consent.BannerRequired)

	cookies := map[string]string{}
	for _, c := range first.Result().Cookies() {
		cookies[c.Name] = c.Value
	}
	assert.Contains(t, cookies, identity.KeyExternalID)
	assert.Contains(t, cookies, identity.KeyBrowserCookie)
	assert.Contains(t, cookies, identity.KeyClickCookie)
	assert.Contains(t, cookies, utm.StorageKey)

	second := env.do(t, http.MethodPost, "/api/track/pageview",
		`{"sourceUrl":"https://quiz.example.com/quiz"}`, first.Result().Cookies())
	var b pageViewResponse
	decodeBody(t, second, &b)
	assert.False(t, b.Fired)
	assert.Empty(t, b.Events)

	env.emitter.Wait()
	forwards := env.sender.Forwards()
	require.Len(t, forwards, 1)
	assert.Equal(t, a.Events[0].EventID, forwards[0].EventID)
	assert.True(t, strings.HasSuffix(forwards[0].FBC, ".abc123"), forwards[0].FBC)
	assert.NotEmpty(t, forwards[0].FBP)
}

func TestPostTrackPageViewSharesBootstrapMarker(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	first := env.do(t, http.MethodPost, "/api/track/pageview", `{"sourceUrl":"https://quiz.example.com/"}`, nil)
	require.Equal(t, http.StatusOK, first.Code)

	rec := env.do(t, http.MethodPost, "/api/track/event", `{"eventName":"PageView"}`, first.Result().Cookies())
	require.Equal(t, http.StatusOK, rec.Code)
	var body eventsBody
	decodeBody(t, rec, &body)
	assert.False(t, body.Fired)
	assert.Empty(t, body.Events)

	env.emitter.Wait()
	assert.Len(t, env.sender.Forwards(), 1)
}

func TestDefaultKey(t *testing.T) {
	tests := []struct {
		event string
		want  string
	}{
		{tracking.EventPageView, tracking.PageViewKey},
		{tracking.EventViewContent, "viewcontent"},
		{"QuizStart", "quizstart"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultKey(tt.event), tt.event)
	}
}

func TestGetBootstrapScript(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	req := httptest.NewRequest(http.MethodGet, "/api/track/bootstrap.js", nil)
	req.Header.Set("Referer", "https://quiz.example.com/?utm_campaign=fase")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, `fbq("track","PageView",`), body)
	assert.Contains(t, body, `"utm_campaign":"fase"`)
	assert.Contains(t, body, `{eventID:"pv_`)

	again := env.do(t, http.MethodGet, "/api/track/bootstrap.js?url=https://quiz.example.com/quiz", "", rec.Result().Cookies())
	assert.Empty(t, again.Body.String())

	env.emitter.Wait()
	assert.Len(t, env.sender.Forwards(), 1)
}

func TestPostTrack(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	var cookies []*http.Cookie
	fire := func(body string) eventsBody {
		rec := env.do(t, http.MethodPost, "/api/track/event", body, cookies)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		if cookies == nil {
			cookies = rec.Result().Cookies()
		}
		var out eventsBody
		decodeBody(t, rec, &out)
		return out
	}

	assert.True(t, fire(`{"eventName":"ViewContent","customData":{"step":1}}`).Fired)
	assert.False(t, fire(`{"eventName":"ViewContent"}`).Fired, "same key suppressed")
	assert.True(t, fire(`{"eventName":"StartQuiz","key":"quiz_start_1777636800000"}`).Fired)
	assert.True(t, fire(`{"eventName":"StartQuiz","key":"quiz_start_1777636800000"}`).Fired, "recurring key")

	rec := env.do(t, http.MethodPost, "/api/track/event", `{"eventName":" "}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/track/event", `{"eventName":"X","customData":{"bad":{"nested":true}}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.emitter.Wait()
	assert.Len(t, env.sender.Forwards(), 3)
}

func TestConsentEndpoints(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	rec := env.do(t, http.MethodGet, "/api/consent", "", nil)
	var view consentView
	decodeBody(t, rec, &view)
	assert.Equal(t, consent.Unset, view.State)
	assert.True(t, view.BannerRequired)
	assert.False(t, view.Recording)

	rec = env.do(t, http.MethodPost, "/api/consent", `{"action":"withdraw"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/consent", `{"action":"maybe"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/consent", `{"action":"grant"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &view)
	assert.Equal(t, consent.Granted, view.State)
	assert.True(t, view.Recording)
	cookies := rec.Result().Cookies()

	rec = env.do(t, http.MethodGet, "/api/consent", "", cookies)
	decodeBody(t, rec, &view)
	assert.Equal(t, consent.Granted, view.State)
	assert.False(t, view.BannerRequired)

	rec = env.do(t, http.MethodPost, "/api/consent", `{"action":"withdraw"}`, cookies)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &view)
	assert.Equal(t, consent.Declined, view.State)
	assert.False(t, view.Recording)
}

func TestRateLimitedAPI(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{
		Limiter: ratelimit.NewMemoryLimiter(ratelimit.Rule{Limit: 1, Window: time.Minute}),
	})

	first := env.do(t, http.MethodGet, "/api/quiz/questions", "", nil)
	assert.Equal(t, http.StatusOK, first.Code)
	second := env.do(t, http.MethodGet, "/api/quiz/questions", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestMetaConversionsMounted(t *testing.T) {
	sender := &MockSender{}
	env := setupTestServer(t, nil, RouteOptions{Forward: capi.NewHandler(sender, nil)})

	rec := env.do(t, http.MethodPost, "/api/meta-conversions", `{"eventName":"Lead"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/meta-conversions", `{"eventName":"Lead","eventId":"e-1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Len(t, sender.Forwards(), 1)
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t, nil, RouteOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/api/quiz/result", nil)
	req.Header.Set("Origin", "https://quiz.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, "https://quiz.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestHealth(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	env := setupTestServer(t, nil, RouteOptions{Health: NewHealthChecker(nil, client, false)})

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	decodeBody(t, rec, &status)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "up", status.Checks["redis"].Status)
	assert.Equal(t, notConfigured, status.Checks["database"].Status)
	assert.Equal(t, notConfigured, status.Checks["conversions_api"].Status)

	mr.Close()
	rec = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "redis is optional")
	var ready map[string]any
	decodeBody(t, rec, &ready)
	assert.Equal(t, "degraded", ready["status"])
}

func TestDetermineOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]ComponentCheck
		want   string
	}{
		{"all up", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "up"}}, "healthy"},
		{"nothing configured", map[string]ComponentCheck{"database": {Status: notConfigured}}, "healthy"},
		{"db down", map[string]ComponentCheck{"database": {Status: "down"}}, "unhealthy"},
		{"redis slow", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "degraded"}}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineOverallStatus(tt.checks))
		})
	}
}
