package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
	assert.True(t, IsFatal(err))
}

func TestCleanJSONResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding prose", "Here you go:\n{\"a\":1}\nHope that helps!", `{"a":1}`},
		{"nested braces", `text {"a":{"b":2}} trailing`, `{"a":{"b":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanJSONResponse(tt.in))
		})
	}
}

func TestClientAnalyzeAnthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"content":[{"text":"{\"transitionScore\":0.8,\"issues\":[{\"type\":\"tonal_shift\",\"severity\":\"minor\",\"description\":\"tone jumps\"}]}"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient("test-key", WithAPIConfig(srv.URL, "test-model"), WithRateLimit(6000, 100))
	require.NoError(t, err)

	resp, err := c.Analyze(context.Background(), Request{Scene: "some scene", AnalysisType: "transition"})
	require.NoError(t, err)
	assert.Equal(t, "test-model", resp.Metadata.ModelUsed)
	assert.Equal(t, 0.8, resp.Data["transitionScore"])
	require.Len(t, resp.Issues, 1)
	assert.Equal(t, "tonal_shift", resp.Issues[0].Type)
}

func TestClientForceJSONControlsSystemPrompt(t *testing.T) {
	var systems []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			System string `json:"system"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		systems = append(systems, body.System)
		w.Write([]byte(`{"content":[{"text":"{\"transitionScore\":0.5}"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient("test-key", WithAPIConfig(srv.URL, "test-model"), WithRateLimit(6000, 100))
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), Request{Scene: "x", AnalysisType: "transition", Options: Options{ForceJSON: true}})
	require.NoError(t, err)
	_, err = c.Analyze(context.Background(), Request{Scene: "x", AnalysisType: "transition"})
	require.NoError(t, err)

	require.Len(t, systems, 2)
	assert.Contains(t, systems[0], "valid JSON object only")
	assert.NotContains(t, systems[1], "JSON")
}

func TestClientAnalyzeInvalidKeyIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient("bad-key", WithAPIConfig(srv.URL, "test-model"), WithRateLimit(6000, 100))
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), Request{Scene: "x", AnalysisType: "transition"})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestClientRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"content":[{"text":"{\"ok\":true}"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient("test-key", WithAPIConfig(srv.URL, "test-model"), WithRateLimit(6000, 100), WithRetry(2))
	require.NoError(t, err)

	resp, err := c.Analyze(context.Background(), Request{Scene: "x", AnalysisType: "transition"})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, true, resp.Data["ok"])
}

func TestClientUnparsableOutputDegradesQuietly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"text":"not json at all"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient("test-key", WithAPIConfig(srv.URL, "test-model"), WithRateLimit(6000, 100))
	require.NoError(t, err)

	resp, err := c.Analyze(context.Background(), Request{Scene: "x", AnalysisType: "transition"})
	require.NoError(t, err)
	assert.Empty(t, resp.Issues)
	assert.Equal(t, "not json at all", resp.Data["raw"])
}

func TestClientHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"content":[{"text":"{}"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient("test-key", WithAPIConfig(srv.URL, "test-model"), WithRateLimit(6000, 100))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Analyze(ctx, Request{Scene: "x", AnalysisType: "transition"})
	assert.Error(t, err)
}
