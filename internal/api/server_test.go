package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketpulse/review-analysis/internal/analysis"
	"github.com/marketpulse/review-analysis/internal/cache"
	"github.com/marketpulse/review-analysis/internal/config"
)

func newTestServer(svc Orchestrator) *Server {
	return NewServer(svc, cache.NewMemory(), config.Config{}, zap.NewNop())
}

func TestServer_Analyze_Succeeds(t *testing.T) {
	t.Parallel()

	svc := &stubOrchestrator{
		submission: analysis.Submission{TaskID: "t1", EstimatedTimeSeconds: 120},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewBufferString(`{"product_id":"p1","url":"https://x/y"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"task_id":"t1"`)
	require.Contains(t, rec.Body.String(), `"estimated_time_seconds":120`)
	require.Equal(t, "p1", svc.lastRequest().ProductID)
	require.Equal(t, "https://x/y", svc.lastRequest().URL)
}

func TestServer_Analyze_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(&stubOrchestrator{})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
}

func TestServer_Analyze_ErrorCodeMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		code       analysis.Code
		wantStatus int
	}{
		{"validation", analysis.CodeValidation, http.StatusBadRequest},
		{"external_service", analysis.CodeExternalService, http.StatusBadGateway},
		{"timeout", analysis.CodeTimeout, http.StatusRequestTimeout},
		{"external_auth", analysis.CodeExternalAuth, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubOrchestrator{requestErr: analysis.NewError(tc.code, "nope")}
			server := newTestServer(svc)

			req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewBufferString(`{"product_id":"p1"}`))
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			require.Contains(t, rec.Body.String(), string(tc.code))
			require.Contains(t, rec.Body.String(), "nope")
		})
	}
}

func TestServer_Status_ReturnsTask(t *testing.T) {
	t.Parallel()

	svc := &stubOrchestrator{
		task: analysis.Task{
			ProductID:            "p1",
			Status:               analysis.StatusProcessing,
			Progress:             70,
			EstimatedTimeSeconds: 15,
		},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyze/status/p1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"processing"`)
	require.Contains(t, rec.Body.String(), `"progress":70`)
}

func TestServer_Status_NotFound(t *testing.T) {
	t.Parallel()

	svc := &stubOrchestrator{
		statusErr: analysis.NewError(analysis.CodeNotFound, "no analysis found for this product"),
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyze/status/p-missing", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "ANALYSIS_NOT_FOUND")
}

func TestServer_Result_ReturnsTask(t *testing.T) {
	t.Parallel()

	svc := &stubOrchestrator{
		task: analysis.Task{
			ProductID: "p1",
			TaskID:    "t1",
			Status:    analysis.StatusCompleted,
			Progress:  100,
			Result:    &analysis.Result{Positive: 9, ReviewCount: 10, Summary: "good"},
		},
	}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyze/result/p1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"summary":"good"`)
	require.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestServer_Callback_AlwaysAcknowledges(t *testing.T) {
	t.Parallel()

	svc := &stubOrchestrator{}
	server := newTestServer(svc)

	body := `{"task_id":"t-unknown","status":"completed","result":{"positive":1,"review_count":1}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze/callback", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"accepted":true`)
	require.Equal(t, 1, svc.callbackCalls())
}

func TestServer_Callback_MalformedJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(&stubOrchestrator{})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze/callback", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Invalidate(t *testing.T) {
	t.Parallel()

	svc := &stubOrchestrator{deleted: 3}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze/p1/invalidate", bytes.NewBufferString(`{"task_id":"t1"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"deleted":3`)
	require.Equal(t, "p1", svc.lastInvalidateProduct)
	require.Equal(t, "t1", svc.lastInvalidateTask)
}

func TestServer_Invalidate_EmptyBody(t *testing.T) {
	t.Parallel()

	svc := &stubOrchestrator{deleted: 2}
	server := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze/p1/invalidate", http.NoBody)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "", svc.lastInvalidateTask)
}

func TestServer_AuthProtectsAnalyzeButNotCallback(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	svc := &stubOrchestrator{submission: analysis.Submission{TaskID: "t1"}}
	server := NewServer(svc, cache.NewMemory(), cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewBufferString(`{"product_id":"p1"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/analyze", bytes.NewBufferString(`{"product_id":"p1"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := `{"task_id":"t1","status":"failed","error":"boom"}`
	req = httptest.NewRequest(http.MethodPost, "/v1/analyze/callback", bytes.NewBufferString(body))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_HealthAndReadiness(t *testing.T) {
	t.Parallel()

	server := newTestServer(&stubOrchestrator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"cache":"healthy"`)
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&stubOrchestrator{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type stubOrchestrator struct {
	mu                    sync.Mutex
	submission            analysis.Submission
	requestErr            error
	task                  analysis.Task
	statusErr             error
	resultErr             error
	deleted               int
	callbacks             int
	lastReq               analysis.RequestInput
	lastInvalidateProduct string
	lastInvalidateTask    string
}

func (s *stubOrchestrator) Request(_ context.Context, in analysis.RequestInput) (analysis.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReq = in
	if s.requestErr != nil {
		return analysis.Submission{}, s.requestErr
	}
	return s.submission, nil
}

func (s *stubOrchestrator) Status(_ context.Context, _ string) (analysis.Task, error) {
	if s.statusErr != nil {
		return analysis.Task{}, s.statusErr
	}
	return s.task, nil
}

func (s *stubOrchestrator) Result(_ context.Context, _ string) (analysis.Task, error) {
	if s.resultErr != nil {
		return analysis.Task{}, s.resultErr
	}
	return s.task, nil
}

func (s *stubOrchestrator) HandleCallback(_ context.Context, _ analysis.CallbackPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks++
	return nil
}

func (s *stubOrchestrator) Invalidate(_ context.Context, productID, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInvalidateProduct = productID
	s.lastInvalidateTask = taskID
	return s.deleted, nil
}

func (s *stubOrchestrator) lastRequest() analysis.RequestInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

func (s *stubOrchestrator) callbackCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callbacks
}
