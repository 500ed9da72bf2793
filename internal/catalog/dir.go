package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Dir serves archives from a local directory, e.g. a shared mirror or an
// offline copy of the remote area.
type Dir struct {
	Root string
}

func (s *Dir) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Root, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if info, err := e.Info(); err != nil || info.Size() == 0 {
			continue
		}
		names = append(names, e.Name())
	}
	return Normalize(names), nil
}

func (s *Dir) Fetch(ctx context.Context, version string, w io.Writer) error {
	if err := checkName(version); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(s.Root, version))
	if err != nil {
		return fmt.Errorf("open %s: %w", version, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("copy %s: %w", version, err)
	}
	return nil
}
