package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIEmbedderValidation(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{Model: "m", Dimension: 4})
	assert.Error(t, err)

	_, err = NewOpenAIEmbedder(OpenAIConfig{BaseURL: "http://x", Dimension: 4})
	assert.Error(t, err)

	_, err = NewOpenAIEmbedder(OpenAIConfig{BaseURL: "http://x", Model: "m"})
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		assert.Equal(t, "penguins", req["input"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3, 0.4}}},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL: srv.URL, APIKey: "secret", Model: "test-model", Dimension: 4,
	})
	require.NoError(t, err)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "penguins")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vec)
	assert.Equal(t, 4, e.Dimension())
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: "http://unused", Model: "m", Dimension: 4})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "")
	assert.Error(t, err)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, Model: "m", Dimension: 4})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "text")
	assert.ErrorContains(t, err, "expected dimension 4, got 2")
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, Model: "m", Dimension: 4})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "text")
	assert.ErrorContains(t, err, "503")
}

func TestEmbedEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, Model: "m", Dimension: 4})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "text")
	assert.ErrorContains(t, err, "no embedding")
}
