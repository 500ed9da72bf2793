package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fixed names inside a managed directory.
const (
	GeodeticDir       = "geodetic"
	EphemeridesDir    = "ephemerides"
	MarkerName        = "readme.txt"
	ObservatoriesName = "Observatories"

	markerHeader = "# measures data populated by measures"
	dateLayout   = "2006-01-02"
)

// ErrMalformedMarker is returned by DecodeMarker when the content does not
// follow the three line marker layout.
var ErrMalformedMarker = errors.New("malformed marker")

// Marker is the decoded content of geodetic/readme.txt.
type Marker struct {
	Version string
	Date    string // YYYY-MM-DD
}

// MarkerPath returns the location of the marker file inside dir.
func MarkerPath(dir string) string { return filepath.Join(dir, GeodeticDir, MarkerName) }

// ObservatoriesPath returns the location of the auxiliary Observatories table.
func ObservatoriesPath(dir string) string {
	return filepath.Join(dir, GeodeticDir, ObservatoriesName)
}

// EncodeMarker renders the marker text. The result has no trailing newline.
func EncodeMarker(m Marker) string {
	return fmt.Sprintf("%s\nversion : %s\ndate : %s", markerHeader, m.Version, m.Date)
}

// DecodeMarker parses marker text produced by EncodeMarker.
// Line endings may be \n or \r\n and a trailing newline is accepted.
func DecodeMarker(text string) (Marker, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	lines := strings.Split(text, "\n")
	if len(lines) != 3 {
		return Marker{}, fmt.Errorf("%w: expected 3 lines, got %d", ErrMalformedMarker, len(lines))
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[0]), "#") {
		return Marker{}, fmt.Errorf("%w: missing header comment", ErrMalformedMarker)
	}
	version, err := markerField(lines[1], "version")
	if err != nil {
		return Marker{}, err
	}
	date, err := markerField(lines[2], "date")
	if err != nil {
		return Marker{}, err
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return Marker{}, fmt.Errorf("%w: invalid date %q", ErrMalformedMarker, date)
	}
	return Marker{Version: version, Date: date}, nil
}

func markerField(line, key string) (string, error) {
	k, v, ok := strings.Cut(line, ":")
	if !ok || strings.TrimSpace(k) != key {
		return "", fmt.Errorf("%w: expected %q line, got %q", ErrMalformedMarker, key, line)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformedMarker, key)
	}
	return v, nil
}

// WriteMarker atomically replaces the marker in dir with version and the
// date of now. The geodetic directory is created when missing.
func WriteMarker(dir, version string, now time.Time) error {
	gd := filepath.Join(dir, GeodeticDir)
	if err := os.MkdirAll(gd, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", gd, err)
	}
	tmp, err := os.CreateTemp(gd, ".readme-*.tmp")
	if err != nil {
		return fmt.Errorf("create marker temp: %w", err)
	}
	tmpName := tmp.Name()
	body := EncodeMarker(Marker{Version: version, Date: now.Format(dateLayout)})
	if _, err := tmp.WriteString(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write marker: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, MarkerPath(dir)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace marker: %w", err)
	}
	return nil
}

// RemoveMarker deletes the marker if present.
func RemoveMarker(dir string) error {
	if err := os.Remove(MarkerPath(dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker: %w", err)
	}
	return nil
}

// Touch sets the marker modification time to now, recording a successful check.
func Touch(dir string, now time.Time) error {
	p := MarkerPath(dir)
	if err := os.Chtimes(p, now, now); err != nil {
		return fmt.Errorf("touch marker: %w", err)
	}
	return nil
}
