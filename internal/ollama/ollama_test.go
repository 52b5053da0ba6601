// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CLIENT CONFIG TESTS
// =============================================================================

func TestNewClientWithConfig_FillsDefaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://example:1234/"})

	assert.Equal(t, "http://example:1234", c.BaseURL())
	assert.Equal(t, DefaultModel, c.DefaultModel())
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)

	c = NewClientWithConfig(nil)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
}

func TestOptions_IsZero(t *testing.T) {
	var nilOpts *Options
	assert.True(t, nilOpts.IsZero())
	assert.True(t, (&Options{}).IsZero())
	assert.False(t, (&Options{TopK: Int(40)}).IsZero())
}

func TestGenerateRequest_OmitsUnsetOptions(t *testing.T) {
	data, err := json.Marshal(GenerateRequest{
		Model:   "m",
		Prompt:  "p",
		Options: &Options{Temperature: Float(0)},
	})
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"temperature":0`)
	assert.NotContains(t, s, "top_p")
	assert.NotContains(t, s, "system")
	assert.Contains(t, s, `"stream":false`)
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.5 GB"},
	}
	for _, tt := range tests {
		m := ModelInfo{Size: tt.size}
		assert.Equal(t, tt.want, m.FormatSize())
	}
}

// =============================================================================
// HTTP TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `{"models":[{"name":"gemma3:1b","size":815000000},{"name":"llama3.2:3b"}]}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	names, err := c.ModelNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemma3:1b", "llama3.2:3b"}, names)
}

func TestListModels_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := c.ListModels(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotRunning(err), "got %v", err)
}

func TestGenerate_NonStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, DefaultModel, req.Model)
		assert.Equal(t, 100, *req.Options.NumPredict)
		fmt.Fprint(w, `{"model":"gemma3:1b","response":"return x","done":true,"eval_count":10,"eval_duration":1000000000}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	resp, err := c.Generate(context.Background(), GenerateRequest{
		Prompt:  "complete",
		Options: &Options{NumPredict: Int(100)},
	})
	require.NoError(t, err)
	assert.Equal(t, "return x", resp.Response)
	assert.InDelta(t, 10.0, resp.TokensPerSecond(), 0.001)
}

func TestGenerate_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'nope' not found"}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), GenerateRequest{Model: "nope", Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsModelNotFound(err))
	assert.Contains(t, err.Error(), "model 'nope' not found")
}

func TestGenerateStream_DeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "be brief", req.System)

		flusher := w.(http.Flusher)
		for _, line := range []string{
			`{"model":"m","response":"Hel","done":false}`,
			`{"model":"m","respo`, // fragment
			`{"model":"m","done":false}`,
			`{"model":"m","response":"lo","done":false}`,
			`{"model":"m","response":"","done":true,"eval_count":2}`,
		} {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	var got []string
	err := c.GenerateStream(context.Background(), GenerateRequest{Model: "m", Prompt: "hi", System: "be brief"}, func(chunk StreamChunk) {
		got = append(got, chunk.Text)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestGenerateStream_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"first"}`)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})

	err := c.GenerateStream(ctx, GenerateRequest{Prompt: "x"}, func(chunk StreamChunk) {
		cancel()
	})
	require.Error(t, err)
	assert.True(t, IsCancelled(err), "got %v", err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestGenerateStream_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"out of memory"}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	err := c.GenerateStream(context.Background(), GenerateRequest{Prompt: "x"}, func(StreamChunk) {})

	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeServer, ce.Type)
	assert.Equal(t, "out of memory", ce.Message)
}

func TestRateLimiter_HonoursContext(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://127.0.0.1:1", RequestsPerSecond: 0.001})
	// First token is free; the second waits far longer than the deadline.
	c.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.ListModels(ctx)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
}

// =============================================================================
// STREAM READER TESTS
// =============================================================================

func TestStreamReader_DropsFragments(t *testing.T) {
	body := strings.Join([]string{
		`{"response":"a"}`,
		`not json`,
		``,
		`{"response":"b"`,
		`{"error":"ignored"}`,
		`{"response":"c","done":true}`,
		`{"response":"never"}`,
	}, "\n")

	r := NewStreamReader(strings.NewReader(body))
	var got []string
	require.NoError(t, r.Process(context.Background(), func(c StreamChunk) { got = append(got, c.Text) }))

	assert.Equal(t, []string{"a", "c"}, got)
	assert.Equal(t, 2, r.Chunks())
	assert.Equal(t, 3, r.Dropped())
	require.NotNil(t, r.Final())
	assert.True(t, r.Final().Done)
}

func TestStreamReader_SingleObjectWithoutNewline(t *testing.T) {
	r := NewStreamReader(strings.NewReader(`{"response":"whole answer","done":true}`))
	var got []string
	require.NoError(t, r.Process(context.Background(), func(c StreamChunk) { got = append(got, c.Text) }))
	assert.Equal(t, []string{"whole answer"}, got)
}

func TestErrorTypes(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ClientError{Type: ErrTypeTimeout, Message: "slow", Cause: context.DeadlineExceeded})
	assert.True(t, IsTimeout(err))
	assert.False(t, IsCancelled(err))
	assert.Equal(t, "timeout", ErrTypeTimeout.String())
	assert.Equal(t, "slow: context deadline exceeded", errors.Unwrap(err).Error())
}
