package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"phishnot_server/adapter/out/memory"
	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"
	"phishnot_server/core/service/alert"
	"phishnot_server/core/service/analytics"
	"phishnot_server/core/service/classification"
	"phishnot_server/core/service/feedback"
	"phishnot_server/core/service/pattern"
	"phishnot_server/core/service/ratelimit"
	"phishnot_server/core/service/reputation"
	"phishnot_server/infra/middleware"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type stubClassifier struct {
	result *domain.ClassificationResult
	err    error
}

func (s *stubClassifier) Classify(context.Context, string) (*domain.ClassificationResult, error) {
	return s.result, s.err
}

type downRateLimitStore struct{}

func (downRateLimitStore) Hit(context.Context, uuid.UUID, string, int, time.Duration, time.Time) (*domain.RateLimitHit, error) {
	return nil, domain.ErrStoreUnavailable
}

func (downRateLimitStore) Current(context.Context, uuid.UUID, string, time.Time) (*domain.RateLimitWindow, error) {
	return nil, domain.ErrStoreUnavailable
}

type harness struct {
	app        *fiber.App
	store      *memory.Store
	classifier *stubClassifier
}

type harnessOpts struct {
	feedbackLimit int
	limitStore    out.RateLimitStore
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	if opts.feedbackLimit == 0 {
		opts.feedbackLimit = 20
	}
	store := memory.NewStore()
	h := &harness{
		store:      store,
		classifier: &stubClassifier{result: &domain.ClassificationResult{Verdict: domain.VerdictPhishing, Confidence: 0.9}},
	}

	limitStore := opts.limitStore
	if limitStore == nil {
		limitStore = store.RateLimits()
	}
	limiter := ratelimit.NewLimiter(limitStore, map[string]ratelimit.Policy{
		ratelimit.EndpointFeedback:  {Limit: opts.feedbackLimit, Window: time.Hour, Mutating: true},
		ratelimit.EndpointClassify:  {Limit: 100, Window: time.Hour, Mutating: true},
		ratelimit.EndpointAnalytics: {Limit: 100, Window: time.Minute},
		ratelimit.EndpointSettings:  {Limit: 100, Window: time.Hour, Mutating: true},
	})

	extractor := pattern.NewExtractor(pattern.Lexicon{SubjectKeywords: []string{"urgent"}})
	weights := pattern.NewWeightStore(store.Patterns(), extractor,
		pattern.WeightConfig{DeltaScale: 0.1, SkipThreshold: 0.01, BoostBound: 0.5}, nil)
	tracker := reputation.NewTracker(store.Reputations(), nil)
	alerts := alert.NewService(store.Alerts(), store.AlertState(), store.Classifications(), nil, nil, 24*time.Hour)
	audit := memory.NewAuditLog(0)

	feedbackSvc := feedback.NewService(feedback.Deps{
		Tx:              store,
		Classifications: store.Classifications(),
		Feedback:        store.Feedback(),
		Limiter:         limiter,
		Validator: feedback.NewValidator(store.Reputations(), store.Feedback(), feedback.ValidatorConfig{
			ReputationWeight: 0.7, ConsistencyWeight: 0.3, AcceptanceThreshold: 0.4,
			HistoryWindow: 10, MinHistory: 4, SuspiciousRatio: 0.8,
			SuspiciousConsistency: 0.3, NeutralConsistency: 1.0,
		}),
		Reputation:  tracker,
		Weights:     weights,
		Audit:       audit,
		AuditReader: audit,
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(),
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())

	api := app.Group("/api/v1", middleware.JWTAuth(middleware.AuthConfig{Secret: testSecret, DevHeader: "X-User-ID"}))
	NewFeedbackHandler(feedbackSvc).Register(api)
	NewClassificationHandler(classification.NewService(h.classifier, store.Classifications(), weights, alerts, nil)).
		Register(api, middleware.RateLimit(limiter, ratelimit.EndpointClassify))
	NewAnalyticsHandler(analytics.NewService(store.Classifications(), store.Feedback(), nil, 0)).
		Register(api, middleware.RateLimit(limiter, ratelimit.EndpointAnalytics))
	NewInsightHandler(tracker, weights, limiter).Register(api)
	NewAlertHandler(alerts).Register(api, middleware.RateLimit(limiter, ratelimit.EndpointSettings))

	h.app = app
	return h
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Details   map[string]any `json:"details"`
		Retryable bool           `json:"retryable"`
	} `json:"error"`
}

func (h *harness) do(t *testing.T, method, path string, user uuid.UUID, body any) (*nethttp.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != uuid.Nil {
		req.Header.Set("X-User-ID", user.String())
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func (h *harness) seedClassification(t *testing.T, user uuid.UUID) *domain.ClassificationRecord {
	t.Helper()
	rec := &domain.ClassificationRecord{
		ID:           uuid.New(),
		UserID:       user,
		SenderDomain: "evil-bank.com",
		Subject:      "URGENT account notice",
		Verdict:      domain.VerdictPhishing,
		Confidence:   0.9,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, h.store.Classifications().Create(context.Background(), rec))
	return rec
}

func TestClassifyAndGet(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	user := uuid.New()

	resp, env := h.do(t, fiber.MethodPost, "/api/v1/classifications", user, fiber.Map{
		"sender":  "Alerts <alerts@Evil-Bank.com>",
		"subject": "URGENT: verify",
		"body":    "click here",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var view struct {
		Record     domain.ClassificationRecord `json:"classification"`
		Adjustment *domain.Adjustment          `json:"adjustment"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "evil-bank.com", view.Record.SenderDomain)
	assert.Equal(t, domain.VerdictPhishing, view.Record.Verdict)
	require.NotNil(t, view.Adjustment)
	assert.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))

	resp, _ = h.do(t, fiber.MethodGet, "/api/v1/classifications/"+view.Record.ID.String(), user, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, env = h.do(t, fiber.MethodGet, "/api/v1/classifications/"+view.Record.ID.String(), uuid.New(), nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestClassifyAcceptsRawEmailField(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	resp, _ := h.do(t, fiber.MethodPost, "/api/v1/classifications", uuid.New(), fiber.Map{"email": "please verify your password"})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, env := h.do(t, fiber.MethodPost, "/api/v1/classifications", uuid.New(), fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestClassifierUnavailableIsBadGateway(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.classifier.err = errors.Join(domain.ErrClassifierUnavailable, errors.New("dial tcp: refused"))

	resp, env := h.do(t, fiber.MethodPost, "/api/v1/classifications", uuid.New(), fiber.Map{"body": "hello"})

	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "EXTERNAL_ERROR", env.Error.Code)
	assert.NotContains(t, env.Error.Message, "dial tcp")
}

func TestSubmitFeedbackAccepted(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	user := uuid.New()
	rec := h.seedClassification(t, user)
	id := uuid.New()

	resp, env := h.do(t, fiber.MethodPost, "/api/v1/feedback", user, fiber.Map{
		"id":                id.String(),
		"classification_id": rec.ID.String(),
		"user_verdict":      "incorrect",
		"reason_text":       "this is my bank",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "20", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "19", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))

	var res domain.SubmissionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Accepted)
	assert.False(t, res.Replayed)
	assert.Equal(t, id, res.FeedbackID)
	assert.InDelta(t, 0.65, res.ValidationScore, 1e-9)

	// replay
	resp, env = h.do(t, fiber.MethodPost, "/api/v1/feedback", user, fiber.Map{
		"id":                id.String(),
		"classification_id": rec.ID.String(),
		"user_verdict":      "incorrect",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Replayed)

	resp, env = h.do(t, fiber.MethodGet, "/api/v1/feedback/"+id.String()+"/audit", user, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var trail []domain.FeedbackAuditEntry
	require.NoError(t, json.Unmarshal(env.Data, &trail))
	assert.Len(t, trail, 2)
}

func TestSubmitFeedbackRateLimited(t *testing.T) {
	h := newHarness(t, harnessOpts{feedbackLimit: 1})
	user := uuid.New()
	rec := h.seedClassification(t, user)
	body := func() fiber.Map {
		return fiber.Map{"classification_id": rec.ID.String(), "user_verdict": "correct"}
	}

	resp, _ := h.do(t, fiber.MethodPost, "/api/v1/feedback", user, body())
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, env := h.do(t, fiber.MethodPost, "/api/v1/feedback", user, body())
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	assert.NotNil(t, env.Error.Details["reset_at"])
	assert.True(t, env.Error.Retryable)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestSubmitFeedbackUnknownClassification(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	user := uuid.New()

	resp, env := h.do(t, fiber.MethodPost, "/api/v1/feedback", user, fiber.Map{
		"classification_id": uuid.NewString(),
		"user_verdict":      "incorrect",
	})

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	rep, err := h.store.Reputations().Get(context.Background(), user)
	require.NoError(t, err)
	assert.Nil(t, rep)
}

func TestSubmitFeedbackBadInput(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	user := uuid.New()

	tests := []struct {
		name string
		body fiber.Map
		code string
	}{
		{"missing classification", fiber.Map{"user_verdict": "correct"}, "MISSING_FIELD"},
		{"bad classification id", fiber.Map{"classification_id": "nope", "user_verdict": "correct"}, "INVALID_INPUT"},
		{"bad verdict", fiber.Map{"classification_id": uuid.NewString(), "user_verdict": "maybe"}, "INVALID_INPUT"},
		{"bad id", fiber.Map{"id": "x", "classification_id": uuid.NewString(), "user_verdict": "correct"}, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := h.do(t, fiber.MethodPost, "/api/v1/feedback", user, tt.body)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestSubmitFeedbackStoreUnavailable(t *testing.T) {
	h := newHarness(t, harnessOpts{limitStore: downRateLimitStore{}})
	user := uuid.New()
	rec := h.seedClassification(t, user)

	resp, env := h.do(t, fiber.MethodPost, "/api/v1/feedback", user, fiber.Map{
		"classification_id": rec.ID.String(),
		"user_verdict":      "incorrect",
	})

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "STORE_UNAVAILABLE", env.Error.Code)
	assert.True(t, env.Error.Retryable)

	// read-only endpoints fail open
	resp, _ = h.do(t, fiber.MethodGet, "/api/v1/analytics", user, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	resp, env := h.do(t, fiber.MethodGet, "/api/v1/reputation", uuid.Nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/reputation", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	user := uuid.New()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.String(),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/reputation", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	var rep domain.UserReputation
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, user, rep.UserID)
	assert.InDelta(t, domain.DefaultReputationScore, rep.ReputationScore, 1e-9)
}

func TestExpiredToken(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/reputation", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAnalytics(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	user := uuid.New()
	h.seedClassification(t, user)

	resp, env := h.do(t, fiber.MethodGet, "/api/v1/analytics?period=7d", user, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var a domain.Analytics
	require.NoError(t, json.Unmarshal(env.Data, &a))
	assert.Equal(t, 1, a.Totals.Scans)
	assert.Len(t, a.DailyBreakdown, 7)

	resp, env = h.do(t, fiber.MethodGet, "/api/v1/analytics?period=1y", user, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestAlertSettings(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	user := uuid.New()

	resp, env := h.do(t, fiber.MethodGet, "/api/v1/alerts/settings", user, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var s domain.AlertSettings
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, 5, s.PhishingThreshold)
	assert.Equal(t, 60, s.CooldownMinutes)
	assert.True(t, s.Enabled)

	resp, env = h.do(t, fiber.MethodPut, "/api/v1/alerts/settings", user, fiber.Map{"phishing_threshold": 2})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, 2, s.PhishingThreshold)
	assert.Equal(t, 60, s.CooldownMinutes)

	resp, _ = h.do(t, fiber.MethodPut, "/api/v1/alerts/settings", user, fiber.Map{"phishing_threshold": 0})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	for i := 0; i < 2; i++ {
		resp, _ = h.do(t, fiber.MethodPost, "/api/v1/classifications", user, fiber.Map{"body": "verify"})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
	resp, env = h.do(t, fiber.MethodGet, "/api/v1/alerts/events", user, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var events []domain.AlertEvent
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].PhishingCount)
}

func TestRateLimitStatusDoesNotConsume(t *testing.T) {
	h := newHarness(t, harnessOpts{feedbackLimit: 3})
	user := uuid.New()

	for i := 0; i < 2; i++ {
		resp, env := h.do(t, fiber.MethodGet, "/api/v1/rate-limit", user, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		var d domain.RateLimitDecision
		require.NoError(t, json.Unmarshal(env.Data, &d))
		assert.Equal(t, 3, d.Remaining)
	}

	resp, _ := h.do(t, fiber.MethodGet, "/api/v1/rate-limit?endpoint=nope", user, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPatternsRejectsUnknownType(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	resp, _ := h.do(t, fiber.MethodGet, "/api/v1/patterns?type=bogus", uuid.New(), nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, fiber.MethodGet, "/api/v1/patterns", uuid.New(), nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestReadiness(t *testing.T) {
	app := fiber.New()
	NewHealthHandler().
		AddCheck("store", func(context.Context) error { return nil }).
		AddOptionalCheck("graph", func(context.Context) error { return errors.New("down") }).
		Register(app)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	app = fiber.New()
	NewHealthHandler().AddCheck("store", func(context.Context) error { return errors.New("down") }).Register(app)
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/ready", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
