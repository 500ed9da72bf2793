// Package update decides whether a managed measures directory needs new data
// and, when it does, installs it while holding the directory lock.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/measures/internal/catalog"
	"github.com/loykin/measures/internal/history"
	"github.com/loykin/measures/internal/install"
	"github.com/loykin/measures/internal/lock"
	"github.com/loykin/measures/internal/metrics"
	"github.com/loykin/measures/internal/state"
)

const (
	DefaultCheckInterval = 24 * time.Hour
	DefaultLockLabel     = "measures update"
)

// Config describes one managed directory.
type Config struct {
	Path string
	// RequireObservatories refuses non-forced updates of data that lacks
	// geodetic/Observatories unless the archive copy is requested.
	RequireObservatories bool
	// CheckInterval is how long a valid install counts as up to date
	// without asking the catalog. Zero means DefaultCheckInterval.
	CheckInterval time.Duration
	LockLabel     string
}

// Options select what a single Update call does.
type Options struct {
	Version              string `json:"version,omitempty"`
	Force                bool   `json:"force,omitempty"`
	AutoUpdate           bool   `json:"auto_update,omitempty"`
	IncludeObservatories bool   `json:"include_observatories,omitempty"`
}

type Action string

const (
	ActionNoop      Action = "noop"
	ActionInstalled Action = "installed"
)

// Result reports what Update did. Version is the installed version after the call.
type Result struct {
	Action   Action        `json:"action"`
	Reason   string        `json:"reason,omitempty"`
	Path     string        `json:"path"`
	Version  string        `json:"version,omitempty"`
	Checked  bool          `json:"checked"` // the catalog was consulted
	Previous *state.Record `json:"previous,omitempty"`
}

// Status is a read-only snapshot of a managed directory.
type Status struct {
	Path   string        `json:"path"`
	Record *state.Record `json:"record,omitempty"`
	Lock   lock.Status   `json:"lock"`
}

type Updater struct {
	cfg       Config
	src       catalog.Source
	installer *install.Installer
	history   history.Sink
	log       *slog.Logger
	now       func() time.Time
	host      string
}

type Option func(*Updater)

func WithLogger(l *slog.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.log = l
		}
	}
}

func WithHistory(s history.Sink) Option { return func(u *Updater) { u.history = s } }

func WithClock(now func() time.Time) Option {
	return func(u *Updater) {
		if now != nil {
			u.now = now
		}
	}
}

func WithInstaller(i *install.Installer) Option {
	return func(u *Updater) {
		if i != nil {
			u.installer = i
		}
	}
}

// New returns an Updater for cfg.Path fetching archives from src.
func New(cfg Config, src catalog.Source, opts ...Option) *Updater {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.LockLabel == "" {
		cfg.LockLabel = DefaultLockLabel
	}
	host, _ := os.Hostname()
	u := &Updater{
		cfg:       cfg,
		src:       src,
		installer: install.New(src),
		log:       slog.Default(),
		now:       time.Now,
		host:      host,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Path returns the managed directory with a leading ~ expanded.
func (u *Updater) Path() (string, error) {
	p := strings.TrimSpace(u.cfg.Path)
	if p == "" {
		return "", ErrUnsetPath
	}
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", p, err)
		}
		p = filepath.Join(home, p[1:])
	}
	return filepath.Clean(p), nil
}

// Available lists the versions offered by the catalog, latest last.
func (u *Updater) Available(ctx context.Context) ([]string, error) {
	return u.src.List(ctx)
}

// Status classifies the directory and inspects its lock without modifying either.
func (u *Updater) Status() (*Status, error) {
	dir, err := u.Path()
	if err != nil {
		return nil, err
	}
	rec, err := state.Classify(dir)
	if err != nil {
		return nil, err
	}
	ls, err := lock.Inspect(dir)
	if err != nil {
		return nil, err
	}
	return &Status{Path: dir, Record: rec, Lock: ls}, nil
}

// ResetLock clears a dirty lock left by a failed update.
func (u *Updater) ResetLock() error {
	dir, err := u.Path()
	if err != nil {
		return err
	}
	return lock.Reset(dir)
}

type plan struct {
	target  string
	noop    bool
	checked bool
	reason  string
}

// Update brings the directory to opts.Version, or to the latest catalog
// version, unless the installed data is recent or already current.
func (u *Updater) Update(ctx context.Context, opts Options) (res *Result, err error) {
	dir, err := u.Path()
	if err != nil {
		return nil, err
	}
	var prev *state.Record
	defer func() { u.report(ctx, dir, opts, prev, res, err) }()

	if opts.AutoUpdate {
		if err := checkAuto(dir, opts); err != nil {
			return nil, err
		}
	}

	prev, err = state.Classify(dir)
	if err != nil {
		return nil, err
	}
	if opts.AutoUpdate && prev == nil {
		return nil, fmt.Errorf("%w at %s; auto updates need an existing install", ErrNoReadme, dir)
	}

	p, err := u.decide(ctx, dir, prev, opts, "")
	if err != nil {
		return nil, err
	}
	if p.noop {
		return u.skip(dir, prev, p)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	if err := checkWritable(dir); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotWritable, dir, err)
	}

	u.log.Debug("Acquiring data lock", "path", dir)
	h, err := lock.Acquire(ctx, dir, u.cfg.LockLabel)
	if err != nil {
		if errors.Is(err, lock.ErrBadLock) {
			u.log.Error("Data lock is not empty, a previous update may have failed; check the data and reset the lock",
				"path", dir, "error", err)
		}
		return nil, err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if !opts.Force {
		cur, cerr := state.Classify(dir)
		if cerr != nil {
			return nil, cerr
		}
		if cur != nil && cur.Classification != state.Valid {
			h.MarkDirty()
			return nil, fmt.Errorf("%w: %s changed to %s while waiting for the lock", ErrBadReadme, dir, cur.Classification)
		}
		prev = cur
		if p, err = u.decide(ctx, dir, cur, opts, p.target); err != nil {
			return nil, err
		}
		if p.noop {
			return u.skip(dir, cur, p)
		}
	} else {
		u.log.Info("Forced measures update requested", "path", dir, "version", p.target)
	}

	h.MarkDirty()
	if err := u.installer.Install(ctx, dir, p.target, opts.IncludeObservatories); err != nil {
		u.log.Error("Measures update failed, the data lock stays dirty until reset",
			"path", dir, "version", p.target, "error", err)
		return nil, err
	}
	h.MarkClean()

	return &Result{Action: ActionInstalled, Path: dir, Version: p.target, Checked: true, Previous: prev}, nil
}

// decide applies the no-op and refusal rules to rec. resolved, when set, is a
// target already fetched from the catalog and is reused without listing again.
func (u *Updater) decide(ctx context.Context, dir string, rec *state.Record, opts Options, resolved string) (plan, error) {
	if opts.Force {
		target, err := u.resolve(ctx, opts.Version, resolved)
		return plan{target: target}, err
	}

	if opts.Version == "" && rec.Recent(u.now(), u.cfg.CheckInterval) {
		return plan{noop: true, target: rec.Version, reason: "version installed or checked less than a day ago"}, nil
	}

	current := ""
	if rec != nil {
		switch rec.Classification {
		case state.Invalid:
			return plan{}, fmt.Errorf("%w at %s, nothing updated or checked", ErrNoReadme, dir)
		case state.Error:
			return plan{}, fmt.Errorf("%w at %s (%s), use force to replace it", ErrBadReadme, dir, rec.Detail)
		case state.Unknown:
			return plan{}, fmt.Errorf("%w at %s, use force to replace it", ErrNotManaged, dir)
		}
		current = rec.Version
	}

	if opts.Version != "" && opts.Version == current {
		return plan{noop: true, checked: true, target: current, reason: "requested version already installed"}, nil
	}
	target, err := u.resolve(ctx, opts.Version, resolved)
	if err != nil {
		return plan{}, err
	}
	if target == current {
		return plan{noop: true, checked: true, target: current, reason: "latest version already installed"}, nil
	}

	if u.cfg.RequireObservatories && !opts.IncludeObservatories && !isDir(state.ObservatoriesPath(dir)) {
		return plan{}, fmt.Errorf("%w in %s, install it first or include the table from the archive", ErrNoObservatories, dir)
	}
	return plan{target: target}, nil
}

func (u *Updater) resolve(ctx context.Context, version, resolved string) (string, error) {
	if resolved != "" {
		return resolved, nil
	}
	versions, err := u.src.List(ctx)
	if err != nil {
		return "", err
	}
	if version == "" {
		if len(versions) == 0 {
			return "", catalog.ErrNoVersions
		}
		return versions[len(versions)-1], nil
	}
	if !catalog.Contains(versions, version) {
		return "", fmt.Errorf("%w: %s", catalog.ErrVersionNotFound, version)
	}
	return version, nil
}

func (u *Updater) skip(dir string, rec *state.Record, p plan) (*Result, error) {
	if p.checked {
		if err := state.Touch(dir, u.now()); err != nil {
			return nil, err
		}
	}
	u.log.Info("Measures data up to date", "path", dir, "version", p.target, "reason", p.reason)
	return &Result{Action: ActionNoop, Reason: p.reason, Path: dir, Version: p.target, Checked: p.checked, Previous: rec}, nil
}

func (u *Updater) report(ctx context.Context, dir string, opts Options, prev *state.Record, res *Result, err error) {
	now := u.now()
	rec := history.Record{
		Path:  dir,
		Host:  u.host,
		PID:   os.Getpid(),
		Force: opts.Force,
		Auto:  opts.AutoUpdate,
	}
	if prev != nil {
		rec.Previous = prev.Version
	}

	var typ history.EventType
	switch {
	case err != nil:
		typ = history.EventFailed
		rec.Version = opts.Version
		rec.Error = err.Error()
	case res.Action == ActionInstalled:
		typ = history.EventInstalled
		rec.Version = res.Version
	case res.Checked:
		typ = history.EventChecked
		rec.Version, rec.Reason = res.Version, res.Reason
	default:
		typ = history.EventSkipped
		rec.Version, rec.Reason = res.Version, res.Reason
	}

	metrics.IncCheck(dir, string(typ))
	if err == nil {
		metrics.SetLastCheck(dir, float64(now.Unix()))
		metrics.SetInstalledVersion(dir, res.Version)
	}

	if u.history == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := u.history.Send(sctx, history.Event{Type: typ, OccurredAt: now.UTC(), Record: rec}); serr != nil {
		u.log.Warn("Failed to record update history", "path", dir, "error", serr)
	}
}

func checkAuto(dir string, opts Options) error {
	if opts.Version != "" || opts.Force {
		return fmt.Errorf("%w: version and force must not be set", ErrAutoUpdatesNotAllowed)
	}
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s must be an existing directory", ErrAutoUpdatesNotAllowed, dir)
	}
	if err := checkOwner(dir); err != nil {
		return fmt.Errorf("%w: %v", ErrAutoUpdatesNotAllowed, err)
	}
	return nil
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
