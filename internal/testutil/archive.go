// Package testutil holds fixtures shared by package tests: measures-like
// archives and a scriptable catalog source.
package testutil

import (
	"archive/tar"
	"bytes"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// TarGz builds a gzip compressed tar holding files (name -> content).
// Directory entries for every parent are emitted first.
func TarGz(t testing.TB, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	dirs := map[string]bool{}
	for _, n := range names {
		for i := 0; i < len(n); i++ {
			if n[i] != '/' {
				continue
			}
			d := n[:i+1]
			if dirs[d] {
				continue
			}
			dirs[d] = true
			if err := tw.WriteHeader(&tar.Header{Name: d, Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
				t.Fatalf("tar dir header: %v", err)
			}
		}
		body := files[n]
		if err := tw.WriteHeader(&tar.Header{Name: n, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(body))}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// MeasuresArchive returns an archive laid out like the ASTRON tarball with
// version embedded in one table so tests can tell installs apart.
func MeasuresArchive(t testing.TB, version string) []byte {
	t.Helper()
	return TarGz(t, map[string]string{
		"ephemerides/DE200/table.dat":            "de200",
		"ephemerides/Lines/table.dat":            "lines",
		"geodetic/IERSeop2000/table.dat":         "eop " + version,
		"geodetic/IERSeop2000/table.f0.old":      "backup",
		"geodetic/TAI_UTC/table.dat":             "tai",
		"geodetic/Observatories/table.dat":       "astron observatories",
		"geodetic/Observatories/table.info":      "info",
		"geodetic/IGRF/table.dat":                "igrf",
		"geodetic/IGRF/table.lock":               "",
		"geodetic/IERSpredict2000/table.f0.old":  "backup",
		"geodetic/IERSpredict2000/table.f0_real": "predict",
	})
}

// Truncated returns the first half of an archive, which fails part way
// through extraction.
func Truncated(archive []byte) []byte {
	return append([]byte(nil), archive[:len(archive)/2]...)
}
