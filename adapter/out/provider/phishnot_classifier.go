// Package provider implements the adapter for the external phishing model server.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"
	"phishnot_server/pkg/httputil"
	"phishnot_server/pkg/resilience"

	"github.com/goccy/go-json"
)

// =============================================================================
// HTTP Classifier
// =============================================================================

type predictRequest struct {
	Email string `json:"email"`
}

type predictResponse struct {
	Phishing   bool    `json:"phishing"`
	Confidence float64 `json:"confidence"`
}

// HTTPClassifier calls POST {base}/predict behind a circuit breaker.
type HTTPClassifier struct {
	baseURL string
	client  *http.Client
	breaker *resilience.Breaker
}

var _ out.Classifier = (*HTTPClassifier)(nil)

// NewHTTPClassifier creates a classifier client. A nil client gets a pooled one.
func NewHTTPClassifier(baseURL string, timeout time.Duration, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = httputil.NewClient(httputil.ClassifierClientConfig(timeout))
	}
	return &HTTPClassifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name: "classifier",
			// 4xx는 요청 문제라 breaker 실패로 세지 않음
			IsFailure: func(err error) bool {
				return err != nil && !errors.Is(err, domain.ErrInvalidInput)
			},
		}),
	}
}

// Classify scores emailText. Server errors, transport errors and an open
// breaker all surface as domain.ErrClassifierUnavailable.
func (c *HTTPClassifier) Classify(ctx context.Context, emailText string) (*domain.ClassificationResult, error) {
	var result *domain.ClassificationResult
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		r, err := c.predict(ctx, emailText)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

func (c *HTTPClassifier) predict(ctx context.Context, emailText string) (*domain.ClassificationResult, error) {
	body, err := json.Marshal(predictRequest{Email: emailText})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", domain.ErrClassifierUnavailable, err)
	}

	verdict := domain.VerdictSafe
	if pr.Phishing {
		verdict = domain.VerdictPhishing
	}
	return &domain.ClassificationResult{Verdict: verdict, Confidence: pr.Confidence}, nil
}

// Health checks GET {base}/health.
func (c *HTTPClassifier) Health(ctx context.Context) error {
	if c.breaker.Open() {
		return fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, resilience.ErrCircuitOpen)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()
	return statusError(resp)
}

// BreakerState reports the breaker state for readiness output.
func (c *HTTPClassifier) BreakerState() string {
	return c.breaker.State()
}

func statusError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 500 {
		return fmt.Errorf("%w: classifier status %d: %s", domain.ErrInvalidInput, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return fmt.Errorf("%w: classifier status %d", domain.ErrClassifierUnavailable, resp.StatusCode)
}
