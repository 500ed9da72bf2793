package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, p, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	in := Marker{Version: "WSRT_Measures_20240101-160001.ztar", Date: "2024-01-02"}
	out, err := DecodeMarker(EncodeMarker(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v want %+v", out, in)
	}
}

func TestDecodeMarkerAcceptsTrailingNewlineAndCRLF(t *testing.T) {
	text := "# header\r\nversion : v1\r\ndate : 2023-05-06\r\n"
	m, err := DecodeMarker(text)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Version != "v1" || m.Date != "2023-05-06" {
		t.Fatalf("unexpected marker %+v", m)
	}
}

func TestDecodeMarkerRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"two lines":     "# h\nversion : v1",
		"no header":     "h\nversion : v1\ndate : 2023-05-06",
		"wrong key":     "# h\nrelease : v1\ndate : 2023-05-06",
		"empty version": "# h\nversion :  \ndate : 2023-05-06",
		"bad date":      "# h\nversion : v1\ndate : yesterday",
		"extra line":    "# h\nversion : v1\ndate : 2023-05-06\nmore",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeMarker(text); !errors.Is(err, ErrMalformedMarker) {
				t.Fatalf("expected ErrMalformedMarker, got %v", err)
			}
		})
	}
}

func TestClassifyMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	rec, err := Classify(filepath.Join(dir, "nope"))
	if err != nil || rec != nil {
		t.Fatalf("missing dir: rec=%v err=%v", rec, err)
	}
	rec, err = Classify(dir)
	if err != nil || rec != nil {
		t.Fatalf("empty dir: rec=%v err=%v", rec, err)
	}
}

func TestClassifyIgnoresScratchEntries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, LockFileName), "")
	writeFile(t, filepath.Join(dir, TempPrefix+"abc"+TempSuffix), "partial")
	rec, err := Classify(dir)
	if err != nil || rec != nil {
		t.Fatalf("scratch only dir should be fresh: rec=%v err=%v", rec, err)
	}
}

func TestClassifyValidAfterWriteMarker(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	if err := WriteMarker(dir, "v20240304", now); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	rec, err := Classify(dir)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if rec == nil || rec.Classification != Valid {
		t.Fatalf("expected valid record, got %+v", rec)
	}
	if rec.Version != "v20240304" || rec.Date != "2024-03-04" {
		t.Fatalf("unexpected record %+v", rec)
	}
	b, _ := os.ReadFile(MarkerPath(dir))
	if !strings.HasPrefix(string(b), "#") || strings.Count(string(b), "\n") != 2 {
		t.Fatalf("marker should be three lines with a header, got %q", b)
	}
	// no temp leftovers next to the marker
	ents, _ := os.ReadDir(filepath.Join(dir, GeodeticDir))
	if len(ents) != 1 {
		t.Fatalf("expected only the marker in geodetic, got %d entries", len(ents))
	}
}

func TestClassifyCorruptMarkerIsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, MarkerPath(dir), "garbage")
	rec, err := Classify(dir)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if rec == nil || rec.Classification != Error {
		t.Fatalf("expected error classification, got %+v", rec)
	}
}

func TestClassifyUnknownAndInvalid(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, GeodeticDir, "IERSeop2000"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, EphemeridesDir, "DE200"), 0o755); err != nil {
		t.Fatal(err)
	}
	rec, err := Classify(dir)
	if err != nil || rec == nil || rec.Classification != Unknown {
		t.Fatalf("expected unknown, got rec=%+v err=%v", rec, err)
	}

	other := t.TempDir()
	writeFile(t, filepath.Join(other, "notes.txt"), "hello")
	rec, err = Classify(other)
	if err != nil || rec == nil || rec.Classification != Invalid {
		t.Fatalf("expected invalid, got rec=%+v err=%v", rec, err)
	}
}

func TestTouchRefreshesAge(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-72 * time.Hour)
	if err := WriteMarker(dir, "v1", old); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(MarkerPath(dir), old, old); err != nil {
		t.Fatal(err)
	}
	rec, _ := Classify(dir)
	if rec.Recent(time.Now(), 24*time.Hour) {
		t.Fatalf("record should be stale before touch")
	}
	if err := Touch(dir, time.Now()); err != nil {
		t.Fatalf("touch: %v", err)
	}
	rec, _ = Classify(dir)
	if !rec.Recent(time.Now(), 24*time.Hour) {
		t.Fatalf("record should be recent after touch, age=%v", rec.Age(time.Now()))
	}
}

func TestRemoveMarkerMissingIsNoop(t *testing.T) {
	if err := RemoveMarker(t.TempDir()); err != nil {
		t.Fatalf("remove missing marker: %v", err)
	}
}

func TestRecordJSONRoundTrip(t *testing.T) {
	in := Record{Classification: Error, Detail: "malformed marker"}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"classification":"error"`) {
		t.Fatalf("classification should be encoded by name: %s", b)
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Classification != Error || out.Detail != in.Detail {
		t.Fatalf("unexpected record: %+v", out)
	}
	var c Classification
	if err := c.UnmarshalText([]byte("broken")); err == nil {
		t.Fatalf("expected error for unknown classification")
	}
}
