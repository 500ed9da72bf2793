package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncCheck("/data", "noop")
	IncCheck("/data", "installed")
	IncInstall("/data")
	ObserveInstallDuration("/data", 12.5)
	ObserveLockWait(0.01)
	SetLastCheck("/data", 1700000000)
	SetInstalledVersion("/data", "v1")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"measures_update_checks_total":                 false,
		"measures_update_installs_total":               false,
		"measures_update_install_duration_seconds":     false,
		"measures_lock_wait_seconds":                   false,
		"measures_update_last_check_timestamp_seconds": false,
		"measures_data_installed_info":                 false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestSetInstalledVersionReplacesPrevious(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	SetInstalledVersion("/replace", "old")
	SetInstalledVersion("/replace", "new")
	if got := testutil.ToFloat64(installedVersion.WithLabelValues("/replace", "new")); got != 1 {
		t.Fatalf("new version gauge = %v", got)
	}
	n := 0
	mfs, _ := reg.Gather()
	for _, mf := range mfs {
		if mf.GetName() != "measures_data_installed_info" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" && l.GetValue() == "/replace" {
					n++
				}
			}
		}
	}
	if n != 1 {
		t.Fatalf("expected one series for /replace, got %d", n)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncCheck("/x", "noop")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "measures_update_checks_total") {
		t.Fatalf("metrics output missing checks_total: %s", s[:min(200, len(s))])
	}
}

func TestHelpersNoopBeforeRegister(t *testing.T) {
	original := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(original)

	// must not panic
	IncCheck("/y", "failed")
	ObserveLockWait(1)
	SetInstalledVersion("/y", "v")
}

func TestConcurrentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncCheck("c", "noop")
			ObserveLockWait(0.001)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
