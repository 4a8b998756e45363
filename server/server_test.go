package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_content_pipeline/depth"
	"auto_content_pipeline/pipeline"
)

type fakeRunner struct {
	mu      sync.Mutex
	reqs    []pipeline.RunRequest
	release chan struct{}
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.RunRequest) (pipeline.RunReport, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return pipeline.RunReport{}, ctx.Err()
		}
	}
	if f.err != nil {
		return pipeline.RunReport{}, f.err
	}
	return pipeline.RunReport{
		RunID:   req.RunID,
		Subject: depth.Subject{Stage: req.Stage, Unit: req.Unit},
		Result:  depth.Result{Text: "final text", DepthUsed: 2},
	}, nil
}

func newTestServer(t *testing.T, runner Runner) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, err := New(runner, time.Second)
	require.NoError(t, err)
	return s, s.Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer(t, &fakeRunner{})
	w, body := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateRunAsync(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s, h := newTestServer(t, runner)

	w, body := doJSON(t, h, http.MethodPost, "/api/runs", map[string]any{
		"stage": "blog", "unit": "vosslab/repoX", "depth": 2, "inputs": map[string]any{"k": "v"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	id, _ := body["run_id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		rec, ok := s.store.get(id)
		return ok && rec.Status == StatusRunning
	}, time.Second, 10*time.Millisecond)

	close(runner.release)
	s.Wait()

	w, got := doJSON(t, h, http.MethodGet, "/api/runs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(StatusDone), got["status"])
	report := got["report"].(map[string]any)
	assert.Equal(t, id, report["run_id"])
	assert.Equal(t, "final text", report["result"].(map[string]any)["text"])

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.reqs, 1)
	assert.Equal(t, id, runner.reqs[0].RunID)
	assert.Equal(t, "v", runner.reqs[0].Inputs["k"])

	_, list := doJSON(t, h, http.MethodGet, "/api/runs", nil)
	assert.Len(t, list["runs"], 1)
}

func TestCreateRunWaitReportsStageError(t *testing.T) {
	runner := &fakeRunner{err: &depth.StageError{Phase: depth.PhasePolish, FallbackAvailable: true, Err: errors.New("503")}}
	_, h := newTestServer(t, runner)

	w, body := doJSON(t, h, http.MethodPost, "/api/runs?wait=true", map[string]any{"stage": "podcast"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(StatusFailed), body["status"])
	assert.Equal(t, "polish", body["phase"])
	assert.Contains(t, body["error"], "fallback available: true")
}

func TestCreateRunValidation(t *testing.T) {
	runner := &fakeRunner{}
	_, h := newTestServer(t, runner)

	w, _ := doJSON(t, h, http.MethodPost, "/api/runs", map[string]any{"unit": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := doJSON(t, h, http.MethodPost, "/api/runs", map[string]any{"stage": "blog", "depth": 9})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "invalid depth")

	assert.Empty(t, runner.reqs)
}

func TestGetUnknownRun(t *testing.T) {
	_, h := newTestServer(t, &fakeRunner{})
	w, _ := doJSON(t, h, http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(nil, 0)
	assert.Error(t, err)

	_, err = New(&fakeRunner{}, -time.Second)
	assert.Error(t, err)
}

func TestRunTimeoutFailsRun(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	gin.SetMode(gin.TestMode)
	s, err := New(runner, 20*time.Millisecond)
	require.NoError(t, err)

	w, body := doJSON(t, s.Routes(), http.MethodPost, "/api/runs", map[string]any{"stage": "blog"})
	require.Equal(t, http.StatusAccepted, w.Code)
	s.Wait()

	rec, ok := s.store.get(body["run_id"].(string))
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, context.DeadlineExceeded.Error())
}

func TestShutdownCancelsRunsAfterDeadline(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s, h := newTestServer(t, runner)
	s.timeout = 0

	_, body := doJSON(t, h, http.MethodPost, "/api/runs", map[string]any{"stage": "blog"})
	id := body["run_id"].(string)
	require.Eventually(t, func() bool {
		rec, ok := s.store.get(id)
		return ok && rec.Status == StatusRunning
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	rec, _ := s.store.get(id)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, context.Canceled.Error())
}

func TestShutdownWithoutRuns(t *testing.T) {
	s, _ := newTestServer(t, &fakeRunner{})
	assert.NoError(t, s.Shutdown(context.Background()))
}
