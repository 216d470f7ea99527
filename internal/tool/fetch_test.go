package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskforge/pkg/ferr"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("hello from the web"))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t, testPolicy())
	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolFetch,
		Params: map[string]string{"url": srv.URL},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "HTTP 200 text/plain; charset=utf-8")
	assert.Contains(t, res.Stdout, "hello from the web")
	assert.False(t, res.Truncated)
}

func TestFetchTruncatesLongBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 10_000)))
	}))
	defer srv.Close()

	policy := testPolicy()
	policy.MaxOutputBytes = 256
	d, _ := newTestDispatcher(t, policy)

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolFetch,
		Params: map[string]string{"url": srv.URL},
	})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, len(res.Stdout), 256)
}

func TestFetchRejectsNonHTTPSchemes(t *testing.T) {
	d, _ := newTestDispatcher(t, testPolicy())

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolFetch,
		Params: map[string]string{"url": "file:///etc/passwd"},
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, ferr.IsCode(err, ferr.InvalidArgument))
}

func TestFetchConnectionFailureIsNormalResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	d, _ := newTestDispatcher(t, testPolicy())
	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolFetch,
		Params: map[string]string{"url": srv.URL},
	})
	require.NoError(t, err, "an unreachable host is a tool failure, not a sandbox error")
	assert.Equal(t, 1, res.ExitCode)
	assert.NotEmpty(t, res.Stderr)
}

func TestFetchURLPatternGating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	policy := testPolicy()
	policy.Allow = nil
	policy.Deny = []string{"fetch(http://*)"}
	d, _ := newTestDispatcher(t, policy)

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolFetch,
		Params: map[string]string{"url": srv.URL}, // httptest serves plain http
	})
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.PolicyViolation))
	require.NotNil(t, res)
	assert.Empty(t, res.Stdout, "nothing fetched")
}
