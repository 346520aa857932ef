package bootstrap

import (
	"context"
	"net/http/httptest"
	"testing"

	"phishnot_server/config"
	"phishnot_server/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(env string) *config.Config {
	return &config.Config{
		Environment:      env,
		LogLevel:         "error",
		ClassifierURL:    "http://127.0.0.1:1",
		RateLimitBackend: "postgres",
		WorkerID:         "test-worker",
		Policy:           config.DefaultPolicy(),
	}
}

func TestNewDependenciesInMemory(t *testing.T) {
	deps, cleanup, err := NewDependencies(context.Background(), testConfig("development"))
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Postgres)
	assert.Nil(t, deps.Redis)
	assert.Nil(t, deps.Publisher)
	assert.Nil(t, deps.PatternGraph)

	// services are wired against the memory store
	rep, err := deps.ReputationTracker.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultReputationScore, rep.ReputationScore, 1e-9)

	d := deps.Limiter.Allow(context.Background(), uuid.New(), "feedback")
	assert.True(t, d.Allowed)
	assert.Equal(t, config.DefaultPolicy().FeedbackLimit, d.Limit)
}

func TestNewDependenciesRefusesMemoryInProduction(t *testing.T) {
	_, _, err := NewDependencies(context.Background(), testConfig("production"))
	assert.Error(t, err)
}

func TestNewDependenciesRedisBackendNeedsRedis(t *testing.T) {
	cfg := testConfig("development")
	cfg.RateLimitBackend = "redis"
	_, _, err := NewDependencies(context.Background(), cfg)
	assert.Error(t, err)
}

func TestWorkerIdlesWithoutRedis(t *testing.T) {
	w, cleanup, err := NewWorker(context.Background(), testConfig("development"))
	require.NoError(t, err)
	defer cleanup()

	errc := make(chan error, 1)
	go func() { errc <- w.Start() }()
	w.Stop()
	assert.NoError(t, <-errc)
}

func TestNewAPIServesHealth(t *testing.T) {
	app, cleanup, err := NewAPI(context.Background(), testConfig("development"))
	require.NoError(t, err)
	defer cleanup()

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
