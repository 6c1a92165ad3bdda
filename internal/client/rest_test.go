package client

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/czpavel/visionfeed/internal/config"
)

func restClient(t *testing.T, cfg config.ServerConfig, handler http.Handler) *REST {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewREST(cfg)
	c.baseURL = server.URL
	return c
}

func TestPing(t *testing.T) {
	up := restClient(t, config.Default().Server, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ping", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	require.True(t, up.Ping(context.Background()))

	down := restClient(t, config.Default().Server, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	require.False(t, down.Ping(context.Background()))
}

func TestAnalyzeContextInHeader(t *testing.T) {
	cfg := config.Default().Server
	cfg.ResponseType = "context"

	var gotData string
	c := restClient(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analyze_image", r.URL.Path)
		gotData = r.URL.Query().Get("data")
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, []byte("pngbytes"), body)

		ctx := `{"result": true, "completeTime": 0.05}`
		w.Header().Set("ContextBase64utf", base64.StdEncoding.EncodeToString([]byte(ctx)))
		w.WriteHeader(http.StatusOK)
	}))

	result, image, err := c.Analyze(context.Background(), Input{Bytes: []byte("pngbytes")}, "part_001")
	require.NoError(t, err)
	require.Equal(t, "part_001", gotData)
	require.Equal(t, true, result["result"])
	require.Nil(t, image)
}

func TestAnalyzeContextInBody(t *testing.T) {
	cfg := config.Default().Server
	cfg.ResponseType = "annotated_image"
	cfg.ContextInBody = true

	annotated := []byte("annotated-png")
	contextJSON := []byte(`{"result": false}`)

	c := restClient(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.URL.Query().Get("context_in_body"))
		w.Header().Set("ImageLen", strconv.Itoa(len(annotated)))
		w.WriteHeader(http.StatusOK)
		w.Write(annotated)
		w.Write(contextJSON)
	}))

	result, image, err := c.Analyze(context.Background(), Input{Bytes: []byte("png")}, "")
	require.NoError(t, err)
	require.Equal(t, false, result["result"])
	require.Equal(t, annotated, image)
}

func TestAnalyzeServerError(t *testing.T) {
	c := restClient(t, config.Default().Server, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))

	_, _, err := c.Analyze(context.Background(), Input{Bytes: []byte("png")}, "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestAnalyzeEmptyInput(t *testing.T) {
	c := NewREST(config.Default().Server)
	_, _, err := c.Analyze(context.Background(), Input{}, "")
	require.Error(t, err)
}

func TestAPIKeyPlacement(t *testing.T) {
	cfg := config.Default().Server
	cfg.APIKey = "secret"
	cfg.APIKeyIn = "query"
	cfg.APIKeyName = "api_key"

	c := restClient(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.URL.Query().Get("api_key"))
		w.WriteHeader(http.StatusOK)
	}))
	require.True(t, c.Ping(context.Background()))

	cfg.APIKeyIn = "header"
	cfg.APIKeyName = "X-Api-Key"
	c = restClient(t, cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	require.True(t, c.Ping(context.Background()))
}
