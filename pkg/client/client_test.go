package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/measures/internal/catalog"
	"github.com/loykin/measures/internal/lock"
	"github.com/loykin/measures/internal/server"
	"github.com/loykin/measures/internal/testutil"
	"github.com/loykin/measures/internal/update"
)

const (
	v1 = "WSRT_Measures_20240101-160001.ztar"
	v2 = "WSRT_Measures_20240301-160001.ztar"
)

func newTestClient(t *testing.T) (*Client, string, *testutil.Source) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := filepath.Join(t.TempDir(), "measures")
	src := testutil.NewSource()
	src.Add(v1, testutil.MeasuresArchive(t, v1))
	src.Add(v2, testutil.MeasuresArchive(t, v2))
	u := update.New(update.Config{Path: dir}, src)
	ts := httptest.NewServer(server.NewRouter(u, "/api").Handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL + "/api/", Timeout: 10 * time.Second}), dir, src
}

func TestDefaultConfig(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "http://localhost:8080/api", c.baseURL)
	assert.Equal(t, 30*time.Minute, c.client.Timeout)
}

func TestUpdateStatusVersions(t *testing.T) {
	c, dir, src := newTestClient(t)
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))

	vs, err := c.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{v1, v2}, vs.Versions)
	assert.Equal(t, v2, vs.Latest)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, dir, st.Path)
	assert.Nil(t, st.Record)
	assert.False(t, st.Lock.Exists)

	res, err := c.Update(ctx, UpdateRequest{Version: v1})
	require.NoError(t, err)
	assert.Equal(t, "installed", res.Action)
	assert.Equal(t, v1, res.Version)
	assert.Nil(t, res.Previous)

	res, err = c.Update(ctx, UpdateRequest{})
	require.NoError(t, err)
	assert.Equal(t, "noop", res.Action)
	assert.Equal(t, int32(1), src.Fetches.Load())

	st, err = c.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Record)
	assert.Equal(t, "valid", st.Record.Classification)
	assert.Equal(t, v1, st.Record.Version)
	assert.True(t, st.Lock.Exists)
	assert.False(t, st.Lock.Dirty)
}

func TestErrorsMatchSentinels(t *testing.T) {
	c, dir, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Update(ctx, UpdateRequest{Version: "WSRT_Measures_19990101-000000.ztar"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrVersionNotFound), "got %v", err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = c.Update(ctx, UpdateRequest{AutoUpdate: true})
	assert.True(t, errors.Is(err, update.ErrAutoUpdatesNotAllowed), "got %v", err)

	_, err = c.Update(ctx, UpdateRequest{})
	require.NoError(t, err)
	h, err := lock.Acquire(ctx, dir, "test")
	require.NoError(t, err)
	require.NoError(t, h.Release(false))

	_, err = c.Update(ctx, UpdateRequest{Force: true})
	assert.True(t, errors.Is(err, lock.ErrBadLock), "got %v", err)

	require.NoError(t, c.ResetLock(ctx))
	_, err = c.Update(ctx, UpdateRequest{Force: true})
	require.NoError(t, err)
}

func TestNonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL})
	_, err := c.Status(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Empty(t, apiErr.Code)
	assert.Nil(t, errors.Unwrap(err))
}

func TestUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(Config{BaseURL: url, Timeout: time.Second})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Versions(context.Background())
	assert.Error(t, err)
}

func TestSetupClientTLS(t *testing.T) {
	cfg, err := setupClientTLS(Config{Insecure: true})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)

	cfg, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, ServerName: "measures.local"}})
	require.NoError(t, err)
	assert.Equal(t, "measures.local", cfg.ServerName)
	assert.False(t, cfg.InsecureSkipVerify)

	_, err = setupClientTLS(Config{TLS: &TLSClientConfig{Enabled: true, CACert: filepath.Join(t.TempDir(), "missing.pem")}})
	assert.Error(t, err)
}
