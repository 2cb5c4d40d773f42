package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, RequestTimeout: 5 * time.Second}, zap.NewNop())
}

var retrieval = port.MediaRetrievalRequest{
	InstanceID: "I-123",
	MediaKey:   "key",
	DirectPath: "/v/t62/abc",
	Kind:       entity.KindImage,
	Mimetype:   "image/jpeg",
}

func TestRequestMediaLink_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/instances/I-123/media/retrieve", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "key", body["mediaKey"])
		assert.Equal(t, "/v/t62/abc", body["directPath"])
		assert.Equal(t, "image", body["type"])
		assert.Equal(t, "image/jpeg", body["mimetype"])

		_, _ = w.Write([]byte(`{"error": false, "fileLink": "https://cdn.example/f", "expiresAt": 1717171717}`))
	})

	link, err := client.RequestMediaLink(context.Background(), "tok", retrieval)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/f", link.URL)
	assert.Equal(t, time.Unix(1717171717, 0), link.ExpiresAt)
}

func TestRequestMediaLink_Classification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"missing error flag is ambiguous", 200, `{"fileLink": "https://x"}`, entity.ErrPermanentAPI},
		{"error true", 200, `{"error": true, "message": "bad media key"}`, entity.ErrPermanentAPI},
		{"not yet available", 200, `{"error": true, "message": "Media not yet available"}`, entity.ErrTransientNetwork},
		{"no link", 200, `{"error": false}`, entity.ErrPermanentAPI},
		{"unauthorized", 401, `{}`, entity.ErrAuthorization},
		{"forbidden", 403, `{}`, entity.ErrAuthorization},
		{"rate limited", 429, `{}`, entity.ErrTransientNetwork},
		{"server error", 503, `{}`, entity.ErrTransientNetwork},
		{"bad request", 400, `{"message":"nope"}`, entity.ErrPermanentAPI},
		{"not json", 200, `<html>`, entity.ErrPermanentAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.RequestMediaLink(context.Background(), "tok", retrieval)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRequestMediaLink_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close()

	client := NewClient(Config{BaseURL: baseURL}, zap.NewNop())
	_, err := client.RequestMediaLink(context.Background(), "tok", retrieval)
	assert.ErrorIs(t, err, entity.ErrTransientNetwork)
}

func TestRequestMediaLink_CancelledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": false, "fileLink": "x"}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.RequestMediaLink(ctx, "tok", retrieval)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, entity.ErrTransientNetwork)
}

func TestFetch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("bytes"))
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	media, err := client.Fetch(context.Background(), &port.MediaLink{URL: client.baseURL + "/ok"})
	require.NoError(t, err)
	data, err := io.ReadAll(media.Body)
	require.NoError(t, err)
	_ = media.Body.Close()
	assert.Equal(t, "bytes", string(data))
	assert.Equal(t, "image/jpeg", media.ContentType)

	// expiry is judged by the caller's clock, not here
	for _, expiresAt := range []time.Time{now.Add(-time.Second), now.Add(time.Hour), {}} {
		_, err = client.Fetch(context.Background(), &port.MediaLink{URL: client.baseURL + "/gone", ExpiresAt: expiresAt})
		assert.ErrorIs(t, err, port.ErrLinkRejected)
		assert.ErrorIs(t, err, entity.ErrPermanentAPI)
		assert.NotErrorIs(t, err, entity.ErrLinkExpired)
	}

	_, err = client.Fetch(context.Background(), &port.MediaLink{URL: client.baseURL + "/busy"})
	assert.ErrorIs(t, err, entity.ErrTransientNetwork)

	_, err = client.Fetch(context.Background(), &port.MediaLink{URL: client.baseURL + "/other"})
	assert.ErrorIs(t, err, entity.ErrPermanentAPI)
}

func TestFetch_BodyOutlivesRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("first-"))
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("second"))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Config{
		BaseURL:        srv.URL,
		RequestTimeout: 100 * time.Millisecond,
		FetchTimeout:   5 * time.Second,
	}, zap.NewNop())

	media, err := client.Fetch(context.Background(), &port.MediaLink{URL: srv.URL + "/media"})
	require.NoError(t, err)
	defer media.Body.Close()

	data, err := io.ReadAll(media.Body)
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(data))
}

func TestFetch_TimeoutBoundsSlowBody(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("first-"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	client := NewClient(Config{
		BaseURL:        srv.URL,
		RequestTimeout: time.Second,
		FetchTimeout:   100 * time.Millisecond,
	}, zap.NewNop())

	media, err := client.Fetch(context.Background(), &port.MediaLink{URL: srv.URL + "/media"})
	require.NoError(t, err)
	defer media.Body.Close()

	_, err = io.ReadAll(media.Body)
	assert.Error(t, err)
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{`1717171717`, time.Unix(1717171717, 0)},
		{`1717171717000`, time.UnixMilli(1717171717000)},
		{`"1717171717"`, time.Unix(1717171717, 0)},
		{`"2024-05-31T16:08:37Z"`, time.Date(2024, 5, 31, 16, 8, 37, 0, time.UTC)},
		{`null`, time.Time{}},
		{``, time.Time{}},
	}
	for _, tt := range tests {
		got, err := parseExpiry(json.RawMessage(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.raw, got)
	}

	_, err := parseExpiry(json.RawMessage(`{"x":1}`))
	assert.Error(t, err)
	_, err = parseExpiry(json.RawMessage(`"tomorrow"`))
	assert.Error(t, err)
}

func TestRetryStrategy_Backoff(t *testing.T) {
	s := &RetryStrategy{MaxRetries: 5, BaseBackoff: time.Second, MaxBackoff: 8 * time.Second}

	assert.Equal(t, time.Second, s.Backoff(1))
	assert.Equal(t, 2*time.Second, s.Backoff(2))
	assert.Equal(t, 4*time.Second, s.Backoff(3))
	assert.Equal(t, 8*time.Second, s.Backoff(4))
	assert.Equal(t, 8*time.Second, s.Backoff(10))

	s.Jitter = true
	for i := 0; i < 50; i++ {
		d := s.Backoff(3)
		assert.GreaterOrEqual(t, d, 3600*time.Millisecond)
		assert.LessOrEqual(t, d, 4400*time.Millisecond)
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	assert.True(t, IsRetryableStatusCode(429))
	assert.True(t, IsRetryableStatusCode(500))
	assert.True(t, IsRetryableStatusCode(503))
	assert.False(t, IsRetryableStatusCode(400))
	assert.False(t, IsRetryableStatusCode(401))
	assert.False(t, IsRetryableStatusCode(404))
	assert.False(t, IsRetryableStatusCode(200))
}
