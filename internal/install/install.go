// Package install downloads a measures archive into a managed directory and
// swaps it in, committing with a new marker only after extraction completes.
package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/measures/internal/catalog"
	"github.com/loykin/measures/internal/metrics"
	"github.com/loykin/measures/internal/state"
)

// Installer performs the download / extract / commit sequence. Callers must
// hold the directory lock.
type Installer struct {
	Source catalog.Source
	// Now stamps the marker date; time.Now when nil.
	Now func() time.Time
}

// New returns an Installer reading archives from src.
func New(src catalog.Source) *Installer { return &Installer{Source: src} }

func (i *Installer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Install replaces the measures data in dir with version. On failure the
// marker is gone and the error is returned; the caller decides how to
// flag the directory.
func (i *Installer) Install(ctx context.Context, dir, version string, includeObservatories bool) error {
	start := time.Now()
	if err := RemoveStale(dir); err != nil {
		return err
	}

	tmp := filepath.Join(dir, state.TempPrefix+uuid.NewString()+state.TempSuffix)
	defer func() {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove temporary archive", "path", tmp, "error", err)
		}
	}()

	slog.Info("Downloading measures", "version", version, "path", dir)
	if err := i.download(ctx, version, tmp); err != nil {
		return err
	}

	if err := state.RemoveMarker(dir); err != nil {
		return err
	}

	slog.Info("Extracting measures", "version", version, "path", dir, "observatories", includeObservatories)
	n, err := ExtractTarGz(tmp, dir, MemberFilter(includeObservatories))
	if err != nil {
		return fmt.Errorf("extract %s: %w", version, err)
	}

	if err := state.WriteMarker(dir, version, i.now()); err != nil {
		return err
	}

	metrics.IncInstall(dir)
	metrics.ObserveInstallDuration(dir, time.Since(start).Seconds())
	slog.Info("Measures data updated", "version", version, "path", dir, "members", n, "duration", time.Since(start))
	return nil
}

func (i *Installer) download(ctx context.Context, version, tmp string) error {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create temporary archive: %w", err)
	}
	if err := i.Source.Fetch(ctx, version, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("download %s: %w", version, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// RemoveStale deletes temporary archives left behind by earlier attempts.
func RemoveStale(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, state.TempPrefix+"*"+state.TempSuffix))
	if err != nil {
		return err
	}
	matches = append(matches, filepath.Join(dir, state.LegacyArchiveName))
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("remove stale archives: %w", err)
	}
	return nil
}
