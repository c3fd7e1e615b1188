package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbeddingServer(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewService(Config{BaseURL: srv.URL, Model: "text-embedding-ada-002", APIKey: "test-key"})
	require.NoError(t, err)
	return svc
}

func TestService_EmbedDocuments(t *testing.T) {
	svc := newEmbeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)
		assert.Equal(t, "text-embedding-ada-002", req.Model)

		// Out-of-order data exercises the index-based reordering.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.4, 0.5}, "index": 1},
				{"embedding": []float32{0.1, 0.2}, "index": 0},
			},
		})
	})

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float32{0.4, 0.5}, vectors[1])
}

func TestService_EmbedQuery(t *testing.T) {
	svc := newEmbeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0}, "index": 0}},
		})
	})

	vec, err := svc.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
}

func TestService_EmptyInput(t *testing.T) {
	svc := newEmbeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	})

	_, err := svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = svc.EmbedDocuments(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"rate limited is transient", http.StatusTooManyRequests, ErrTransient},
		{"server error is transient", http.StatusBadGateway, ErrTransient},
		{"bad request is permanent", http.StatusBadRequest, ErrEmbeddingFailed},
		{"unauthorized is permanent", http.StatusUnauthorized, ErrEmbeddingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newEmbeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := svc.EmbedDocuments(context.Background(), []string{"text"})
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestDimensions(t *testing.T) {
	assert.Equal(t, 1536, Dimensions("text-embedding-ada-002"))
	assert.Equal(t, 3072, Dimensions("text-embedding-3-large"))
	assert.Equal(t, 0, Dimensions("unknown-model"))
}
