// Package measures installs and refreshes measures reference data in a
// managed directory, coordinating concurrent updaters through a lock file.
package measures

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/measures/internal/catalog"
	cfg "github.com/loykin/measures/internal/config"
	"github.com/loykin/measures/internal/history"
	"github.com/loykin/measures/internal/history/factory"
	"github.com/loykin/measures/internal/lock"
	"github.com/loykin/measures/internal/metrics"
	iapi "github.com/loykin/measures/internal/server"
	"github.com/loykin/measures/internal/state"
	"github.com/loykin/measures/internal/update"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Options = update.Options

type Result = update.Result

type Status = update.Status

type Record = state.Record

type LockStatus = lock.Status

type Source = catalog.Source

type SourceConfig = catalog.Config

type UpdaterConfig = update.Config

type Config = cfg.Config

type HistorySink = history.Sink

const (
	ActionNoop      = update.ActionNoop
	ActionInstalled = update.ActionInstalled
)

var (
	ErrUnsetPath             = update.ErrUnsetPath
	ErrAutoUpdatesNotAllowed = update.ErrAutoUpdatesNotAllowed
	ErrNotWritable           = update.ErrNotWritable
	ErrNoReadme              = update.ErrNoReadme
	ErrBadReadme             = update.ErrBadReadme
	ErrNotManaged            = update.ErrNotManaged
	ErrNoObservatories       = update.ErrNoObservatories
	ErrBadLock               = lock.ErrBadLock
	ErrLocked                = lock.ErrLocked
	ErrRemote                = catalog.ErrRemote
	ErrNoVersions            = catalog.ErrNoVersions
	ErrVersionNotFound       = catalog.ErrVersionNotFound
)

// Updater is a thin facade over internal/update.Updater that also owns the
// history sinks it was built with.
type Updater struct {
	inner *update.Updater
	close func() error
}

// New returns an Updater for c.Path fetching archives from src.
func New(c UpdaterConfig, src Source, opts ...UpdaterOption) *Updater {
	return &Updater{inner: update.New(c, src, opts...)}
}

type UpdaterOption = update.Option

func WithLogger(l *slog.Logger) UpdaterOption       { return update.WithLogger(l) }
func WithHistory(s HistorySink) UpdaterOption       { return update.WithHistory(s) }
func WithClock(now func() time.Time) UpdaterOption { return update.WithClock(now) }

// NewSource builds the catalog source described by c.
func NewSource(c SourceConfig) (Source, error) { return catalog.New(c) }

// NewFromConfig wires the source and history sinks named in c. Close releases the sinks.
func NewFromConfig(c *Config, opts ...UpdaterOption) (*Updater, error) {
	src, err := catalog.New(c.Source)
	if err != nil {
		return nil, err
	}
	u := &Updater{}
	if targets := c.History.Targets(); len(targets) > 0 {
		sink, closeFn, err := factory.NewSinks(targets)
		if err != nil {
			return nil, err
		}
		opts = append([]UpdaterOption{update.WithHistory(sink)}, opts...)
		u.close = closeFn
	}
	u.inner = update.New(c.UpdateConfig(), src, opts...)
	return u, nil
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func DefaultConfig() (*Config, error) { return cfg.Default() }

func (u *Updater) Update(ctx context.Context, opts Options) (*Result, error) {
	return u.inner.Update(ctx, opts)
}
func (u *Updater) Available(ctx context.Context) ([]string, error) { return u.inner.Available(ctx) }
func (u *Updater) Status() (*Status, error)                        { return u.inner.Status() }
func (u *Updater) ResetLock() error                                { return u.inner.ResetLock() }
func (u *Updater) Path() (string, error)                           { return u.inner.Path() }

// Close releases the history sinks opened by NewFromConfig.
func (u *Updater) Close() error {
	if u.close == nil {
		return nil
	}
	return u.close()
}

// UpdateData updates path from the default FTP catalog.
func UpdateData(ctx context.Context, path string, opts Options) (*Result, error) {
	src, err := catalog.New(catalog.Config{})
	if err != nil {
		return nil, err
	}
	return update.New(update.Config{Path: path}, src).Update(ctx, opts)
}

// NewHTTPServer starts an HTTP server exposing the update API of u.
func NewHTTPServer(addr, basePath string, u *Updater) (*http.Server, error) {
	return iapi.NewServer(addr, iapi.NewRouter(u, basePath))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
