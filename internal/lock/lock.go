// Package lock guards a managed directory with a sentinel file that carries
// an OS advisory lock and diagnostics about the process holding it.
//
// An empty sentinel means unlocked and clean. A sentinel left non-empty after
// its holder went away marks a dirty directory: an update started and did not
// finish, so the directory content must not be trusted until an operator resets it.
package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/measures/internal/metrics"
	"github.com/loykin/measures/internal/state"
)

var (
	// ErrBadLock matches *BadLockError.
	ErrBadLock = errors.New("lock file is not empty")
	// ErrLocked is returned by Reset when another process holds the lock.
	ErrLocked = errors.New("lock is held by another process")
)

// BadLockError reports a sentinel found non-empty at acquire time.
type BadLockError struct {
	Path   string
	Holder Holder
	Raw    string
}

func (e *BadLockError) Error() string {
	h := e.Holder
	if h.PID == 0 && h.Label == "" {
		return fmt.Sprintf("lock file %s is not empty: %q", e.Path, strings.TrimSpace(e.Raw))
	}
	return fmt.Sprintf("lock file %s is not empty: locked by %q pid %d on %s at %s",
		e.Path, h.Label, h.PID, h.Host, h.AcquiredAt.Format(time.RFC3339))
}

func (e *BadLockError) Is(target error) bool { return target == ErrBadLock }

// Path returns the sentinel location for dir.
func Path(dir string) string { return filepath.Join(dir, state.LockFileName) }

// Handle is an acquired lock. It must be released exactly once; extra
// Release or Close calls are no-ops.
type Handle struct {
	path   string
	holder Holder

	mu       sync.Mutex
	file     *os.File
	dirty    bool
	released bool
}

// Acquire takes the exclusive lock on dir's sentinel. When another process
// holds it, Acquire waits on the OS lock. ctx may abandon the wait; a lock
// obtained after that is dropped immediately.
func Acquire(ctx context.Context, dir, label string) (*Handle, error) {
	p := Path(dir)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	start := time.Now()
	ok, err := tryLock(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", p, err)
	}
	if !ok {
		if raw, rerr := os.ReadFile(p); rerr == nil && strings.TrimSpace(string(raw)) != "" {
			h := parseHolder(string(raw))
			slog.Info("Waiting for data lock", "path", p, "holder", h.Label, "pid", h.PID, "host", h.Host)
		} else {
			slog.Info("Waiting for data lock", "path", p)
		}
		if err := waitFor(ctx, f); err != nil {
			return nil, err
		}
	}
	metrics.ObserveLockWait(time.Since(start).Seconds())

	raw, err := readAll(f)
	if err != nil {
		_ = unlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	if strings.TrimSpace(raw) != "" {
		_ = unlock(f)
		_ = f.Close()
		return nil, &BadLockError{Path: p, Holder: parseHolder(raw), Raw: raw}
	}

	h := &Handle{path: p, file: f, holder: currentHolder(label, time.Now())}
	if err := h.writeHolder(); err != nil {
		_ = f.Truncate(0)
		_ = unlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write lock holder: %w", err)
	}
	return h, nil
}

func waitFor(ctx context.Context, f *os.File) error {
	if err := ctx.Err(); err != nil {
		_ = f.Close()
		return err
	}
	done := make(chan error, 1)
	go func() { done <- waitLock(f) }()
	select {
	case err := <-done:
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("wait for lock: %w", err)
		}
		return nil
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				_ = unlock(f)
			}
			_ = f.Close()
		}()
		return ctx.Err()
	}
}

func readAll(f *os.File) (string, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	b, err := io.ReadAll(f)
	return string(b), err
}

func (h *Handle) writeHolder() error {
	if err := h.file.Truncate(0); err != nil {
		return err
	}
	if _, err := h.file.WriteAt([]byte(h.holder.String()), 0); err != nil {
		return err
	}
	return h.file.Sync()
}

// Holder returns the diagnostics written for this handle.
func (h *Handle) Holder() Holder { return h.holder }

// Path returns the sentinel path.
func (h *Handle) Path() string { return h.path }

// MarkDirty records that the directory is being mutated; Close will then
// leave the sentinel populated.
func (h *Handle) MarkDirty() {
	h.mu.Lock()
	h.dirty = true
	h.mu.Unlock()
}

// MarkClean clears the dirty flag once the mutation completed.
func (h *Handle) MarkClean() {
	h.mu.Lock()
	h.dirty = false
	h.mu.Unlock()
}

// Dirty reports the recorded dirty flag.
func (h *Handle) Dirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirty
}

// Released reports whether the handle was already released.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Release drops the OS lock. clean truncates the sentinel; otherwise the
// holder diagnostics stay in place for the next acquirer to find.
func (h *Handle) Release(clean bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	h.dirty = !clean

	var errs []error
	if clean {
		if err := h.file.Truncate(0); err != nil {
			errs = append(errs, fmt.Errorf("truncate lock file: %w", err))
		}
	} else {
		slog.Warn("Leaving data lock dirty", "path", h.path)
	}
	if err := unlock(h.file); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := h.file.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases according to the dirty flag.
func (h *Handle) Close() error { return h.Release(!h.Dirty()) }

// Status is a read-only view of a sentinel.
type Status struct {
	Path   string  `json:"path"`
	Exists bool    `json:"exists"`
	Held   bool    `json:"held"`  // another handle holds the OS lock right now
	Dirty  bool    `json:"dirty"` // non-empty and not held: a previous update did not finish
	Holder *Holder `json:"holder,omitempty"`
}

// Inspect reports the sentinel state of dir without modifying it.
func Inspect(dir string) (Status, error) {
	p := Path(dir)
	st := Status{Path: p}
	f, err := os.OpenFile(p, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = f.Close() }()
	st.Exists = true

	ok, err := tryLock(f)
	if err != nil {
		return st, fmt.Errorf("probe lock: %w", err)
	}
	if ok {
		defer func() { _ = unlock(f) }()
	}
	st.Held = !ok

	raw, err := readAll(f)
	if err != nil {
		return st, fmt.Errorf("read lock file: %w", err)
	}
	if strings.TrimSpace(raw) != "" {
		h := parseHolder(raw)
		st.Holder = &h
		st.Dirty = ok
	}
	return st, nil
}

// Reset empties a dirty sentinel. It refuses while another process holds the lock.
func Reset(dir string) error {
	p := Path(dir)
	f, err := os.OpenFile(p, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = f.Close() }()
	ok, err := tryLock(f)
	if err != nil {
		return fmt.Errorf("probe lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	defer func() { _ = unlock(f) }()
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	slog.Info("Data lock reset", "path", p)
	return nil
}
