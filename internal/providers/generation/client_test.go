package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archgen/internal/domain"
	"archgen/internal/infra"
)

func newTestClient(t *testing.T, baseURL, key string) *Client {
	t.Helper()
	c, err := NewClient(Options{BaseURL: baseURL, APIKey: key, Logger: infra.NopLogger()})
	require.NoError(t, err)
	return c
}

func TestGenerate(t *testing.T) {
	var got generateRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{
			ImageURLs: []string{"https://gen.example/a.png", " "},
			ProjectID: "proj-1",
		})
	}))
	defer ts.Close()

	var progress []int
	res, err := newTestClient(t, ts.URL+"/", "test-key").Generate(context.Background(), domain.GenerateRequest{
		JobID:       "job-1",
		ToolID:      domain.ToolViewSync,
		Prompt:      "night view",
		AspectRatio: "16:9",
		OnProgress:  func(p int) { progress = append(progress, p) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://gen.example/a.png"}, res.ImageURLs)
	assert.Equal(t, "proj-1", res.ProjectID)
	assert.Equal(t, []int{0, 100}, progress)

	assert.Equal(t, "imagen-3", got.Model)
	assert.Equal(t, "view-sync", got.Tool)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "job-1", got.RequestID)
}

func TestGenerateSurfacesBackendMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"SAFETY_ERROR","message":"blocked"}}`))
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, "k").Generate(context.Background(), domain.GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, "generator status 400: SAFETY_ERROR: blocked", err.Error())
}

func TestGeneratePlainTextError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream queue full", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, "k").Generate(context.Background(), domain.GenerateRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "upstream queue full")
}

func TestGenerateEmptyResult(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"image_urls":[]}`))
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, "k").Generate(context.Background(), domain.GenerateRequest{})
	assert.Error(t, err)
}

func TestGenerateMissingKey(t *testing.T) {
	_, err := newTestClient(t, "http://127.0.0.1:1", "").Generate(context.Background(), domain.GenerateRequest{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}
