package measures

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/measures/internal/history"
	"github.com/loykin/measures/internal/history/sqlite"
	"github.com/loykin/measures/internal/metrics"
	"github.com/loykin/measures/internal/testutil"
)

const version = "WSRT_Measures_20240301-160001.ztar"

func writeMirror(t *testing.T) string {
	t.Helper()
	mirror := t.TempDir()
	if err := os.WriteFile(filepath.Join(mirror, version), testutil.MeasuresArchive(t, version), 0o644); err != nil {
		t.Fatal(err)
	}
	return mirror
}

func TestUpdaterFacade(t *testing.T) {
	src := testutil.NewSource()
	src.Add(version, testutil.MeasuresArchive(t, version))
	dir := filepath.Join(t.TempDir(), "data")
	u := New(UpdaterConfig{Path: dir}, src)
	defer func() { _ = u.Close() }()

	res, err := u.Update(context.Background(), Options{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Action != ActionInstalled || res.Version != version {
		t.Fatalf("unexpected result: %+v", res)
	}
	st, err := u.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Record == nil || st.Record.Version != version {
		t.Fatalf("unexpected status: %+v", st)
	}

	_, err = u.Update(context.Background(), Options{Version: "WSRT_Measures_19990101-000000.ztar"})
	if !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	dir := t.TempDir()
	mirror := writeMirror(t)
	db := filepath.Join(dir, "history.db")
	cfgText := `
path = "` + filepath.ToSlash(filepath.Join(dir, "measures")) + `"
require_observatories = false

[source]
type = "dir"
dir = "` + filepath.ToSlash(mirror) + `"

[history]
dsn = "` + filepath.ToSlash(db) + `"
`
	p := filepath.Join(dir, "measures.toml")
	if err := os.WriteFile(p, []byte(cfgText), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	u, err := NewFromConfig(c)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	vs, err := u.Available(context.Background())
	if err != nil || len(vs) != 1 || vs[0] != version {
		t.Fatalf("available: %v %v", vs, err)
	}
	if _, err := u.Update(context.Background(), Options{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	path, _ := u.Path()
	if err := u.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sink, err := sqlite.New(db)
	if err != nil {
		t.Fatalf("reopen history: %v", err)
	}
	defer func() { _ = sink.Close() }()
	n, err := sink.Count(context.Background(), path, history.EventInstalled)
	if err != nil || n != 1 {
		t.Fatalf("expected one installed event, got %d (%v)", n, err)
	}
}

func TestNewFromConfigBadHistory(t *testing.T) {
	c, err := DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	c.History.DSN = "mongodb://localhost"
	if _, err := NewFromConfig(c); err == nil {
		t.Fatalf("expected unsupported DSN error")
	}
}

func TestHTTPServerFacade(t *testing.T) {
	src := testutil.NewSource()
	src.Add(version, testutil.MeasuresArchive(t, version))
	u := New(UpdaterConfig{Path: t.TempDir()}, src)
	srv, err := NewHTTPServer("127.0.0.1:0", "/api", u)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + srv.Addr + "/api/versions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestMetricsHelpers(t *testing.T) {
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
	// later registrations are no-ops
	if err := RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}

	src := testutil.NewSource()
	src.Add(version, testutil.MeasuresArchive(t, version))
	u := New(UpdaterConfig{Path: filepath.Join(t.TempDir(), "m")}, src)
	if _, err := u.Update(context.Background(), Options{IncludeObservatories: true}); err != nil {
		t.Fatalf("update: %v", err)
	}

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "measures_") {
		t.Fatalf("metrics output missing measures prefix: %s", rr.Body.String())
	}
}
