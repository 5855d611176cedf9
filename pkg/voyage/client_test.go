package voyage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerank_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/rerank", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[{"index":1,"relevance_score":0.92},{"index":0,"relevance_score":0.41}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.Rerank(context.Background(), RerankRequest{
		Query:     "legal compliance conference",
		Documents: []string{"doc a", "doc b"},
		Model:     "rerank-2",
		TopK:      2,
	})
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 1, resp.Data[0].Index)
	assert.InDelta(t, 0.92, resp.Data[0].RelevanceScore, 0.0001)
}

func TestRerank_NonOKStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := c.Rerank(context.Background(), RerankRequest{Query: "q", Documents: []string{"d"}, Model: "rerank-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRerank_RequestBodyShape(t *testing.T) {
	t.Parallel()
	var captured RerankRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	_, err := c.Rerank(context.Background(), RerankRequest{
		Query:     "q",
		Documents: []string{"d1", "d2", "d3"},
		Model:     "rerank-2",
		TopK:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, "q", captured.Query)
	assert.Len(t, captured.Documents, 3)
	assert.Equal(t, 5, captured.TopK)
}
