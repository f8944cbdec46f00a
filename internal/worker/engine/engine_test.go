package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Run(t *testing.T) {
	t.Run("successful generation", func(t *testing.T) {
		var gotPayload string

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/generate", r.URL.Path)

			body, _ := io.ReadAll(r.Body)
			gotPayload = string(body)

			json.NewEncoder(w).Encode(map[string]interface{}{
				"mime_type": "audio/mpeg",
				"data":      []byte("fake audio bytes"),
			})
		}))
		defer server.Close()

		client := NewClient(Options{BaseURL: server.URL, Logger: discardLogger()})

		result, err := client.Run(context.Background(), `{"category":"music"}`)
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, []byte("fake audio bytes"), result.Data)
		assert.Equal(t, "audio/mpeg", result.MimeType)
		assert.Equal(t, `{"category":"music"}`, gotPayload)
	})

	t.Run("non-200 status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := NewClient(Options{BaseURL: server.URL, Logger: discardLogger()})

		_, err := client.Run(context.Background(), "{}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine returned status 503")
	})

	t.Run("engine-reported error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": "prompt rejected",
			})
		}))
		defer server.Close()

		client := NewClient(Options{BaseURL: server.URL, Logger: discardLogger()})

		_, err := client.Run(context.Background(), "{}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "prompt rejected")
	})

	t.Run("empty result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"mime_type": "audio/mpeg",
			})
		}))
		defer server.Close()

		client := NewClient(Options{BaseURL: server.URL, Logger: discardLogger()})

		_, err := client.Run(context.Background(), "{}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty result")
	})

	t.Run("context cancellation aborts the call", func(t *testing.T) {
		started := make(chan struct{})

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Drain the body so the server starts its background connection
			// read; without it the request context is never cancelled on
			// client disconnect and Close deadlocks.
			io.Copy(io.Discard, r.Body)
			close(started)
			<-r.Context().Done()
		}))
		defer server.Close()

		client := NewClient(Options{BaseURL: server.URL, Logger: discardLogger()})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-started
			cancel()
		}()

		_, err := client.Run(ctx, "{}")
		require.Error(t, err)
	})

	t.Run("malformed response body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		client := NewClient(Options{BaseURL: server.URL, Logger: discardLogger()})

		_, err := client.Run(context.Background(), "{}")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode engine response")
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcde", truncate("abcdefgh", 5))
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://localhost:9090", Logger: discardLogger()})
	require.NotNil(t, client.httpClient)
	assert.Equal(t, time.Hour, client.httpClient.Timeout)
}
