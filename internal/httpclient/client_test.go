package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestNewDefaults(t *testing.T) {
	c := New(nil)
	assert.Equal(t, DefaultTimeout, c.defaultTimeout)
	assert.Equal(t, defaultUserAgent, c.userAgent)

	c = New(&Config{DefaultTimeout: 5 * time.Second, UserAgent: "probe/1.0"})
	assert.Equal(t, 5*time.Second, c.defaultTimeout)
	assert.Equal(t, "probe/1.0", c.userAgent)
}

func TestDoInjectsUserAgent(t *testing.T) {
	var gotUA string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	})

	c := New(nil)
	req, err := http.NewRequest(http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, defaultUserAgent, gotUA)

	req, err = http.NewRequest(http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "custom/2.0")

	resp, err = c.Do(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "custom/2.0", gotUA, "an explicit User-Agent must not be overwritten")
}

func TestDoAppliesDefaultTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})

	c := New(&Config{DefaultTimeout: 50 * time.Millisecond})
	req, err := http.NewRequest(http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Do(context.Background(), req)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDoCallerDeadlineWins(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})

	// The default is long; the caller deadline should cut the request off.
	c := New(&Config{DefaultTimeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := http.NewRequest(http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Do(ctx, req)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPostSendsBody(t *testing.T) {
	var (
		gotMethod      string
		gotContentType string
		gotBody        []byte
	)
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	c := New(nil)
	resp, err := c.Post(context.Background(), server.URL, "application/json", []byte(`{"thd":0.01}`))
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"thd":0.01}`, string(gotBody))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The default timeout must cover the body read, not just Do.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}
