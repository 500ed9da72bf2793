package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Names of scratch entries that do not count as data content.
const (
	LockFileName      = "data_update.lock"
	TempPrefix        = ".measures-"
	TempSuffix        = ".ztar.part"
	LegacyArchiveName = "measures.ztar"
)

// Classification describes what a managed directory holds.
type Classification int

const (
	// Valid means the marker parsed cleanly.
	Valid Classification = iota
	// Unknown means measures-like data without a marker: not maintained here.
	Unknown
	// Invalid means content without a marker that does not look like measures data.
	Invalid
	// Error means a marker exists but could not be parsed.
	Error
)

func (c Classification) String() string {
	switch c {
	case Valid:
		return "valid"
	case Unknown:
		return "unknown"
	case Invalid:
		return "invalid"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

func (c Classification) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Classification) UnmarshalText(b []byte) error {
	for _, v := range []Classification{Valid, Unknown, Invalid, Error} {
		if v.String() == string(b) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown classification %q", b)
}

// Record is the install record found in a managed directory.
// Version, Date and InstalledAt are only set for Valid records.
type Record struct {
	Classification Classification `json:"classification"`
	Version        string         `json:"version,omitempty"`
	Date           string         `json:"date,omitempty"`
	InstalledAt    time.Time      `json:"installed_at,omitempty"`
	Detail         string         `json:"detail,omitempty"`
}

// Age returns how long ago the record was installed or last checked.
// Non-valid records report a zero age and callers must check Classification.
func (r *Record) Age(now time.Time) time.Duration {
	if r == nil || r.InstalledAt.IsZero() {
		return 0
	}
	return now.Sub(r.InstalledAt)
}

// Recent reports whether a valid record was installed or checked within window.
func (r *Record) Recent(now time.Time, window time.Duration) bool {
	return r != nil && r.Classification == Valid && !r.InstalledAt.IsZero() && r.Age(now) < window
}

// IsScratch reports whether a top level entry name is lock or download
// scratch space rather than data.
func IsScratch(name string) bool {
	if name == LockFileName || name == LegacyArchiveName {
		return true
	}
	return strings.HasPrefix(name, TempPrefix) && strings.HasSuffix(name, TempSuffix)
}

// Classify inspects dir and returns its install record. A nil record with a
// nil error means dir is missing or holds no data (fresh install).
func Classify(dir string) (*Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	content := false
	for _, e := range entries {
		if !IsScratch(e.Name()) {
			content = true
			break
		}
	}
	if !content {
		return nil, nil
	}

	mp := MarkerPath(dir)
	info, err := os.Stat(mp)
	switch {
	case err == nil:
		if !info.Mode().IsRegular() {
			return &Record{Classification: Error, Detail: mp + " is not a regular file"}, nil
		}
		b, rerr := os.ReadFile(mp)
		if rerr != nil {
			return &Record{Classification: Error, Detail: rerr.Error()}, nil
		}
		m, derr := DecodeMarker(string(b))
		if derr != nil {
			return &Record{Classification: Error, Detail: derr.Error()}, nil
		}
		return &Record{
			Classification: Valid,
			Version:        m.Version,
			Date:           m.Date,
			InstalledAt:    info.ModTime(),
		}, nil
	case errors.Is(err, os.ErrNotExist):
		if isDir(filepath.Join(dir, GeodeticDir)) && isDir(filepath.Join(dir, EphemeridesDir)) {
			return &Record{Classification: Unknown, Detail: "measures tables found without " + MarkerName}, nil
		}
		return &Record{Classification: Invalid, Detail: "no " + MarkerName + " found"}, nil
	default:
		return nil, fmt.Errorf("stat %s: %w", mp, err)
	}
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
