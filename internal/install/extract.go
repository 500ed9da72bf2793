package install

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Filter decides whether an archive member is extracted.
type Filter func(name string) bool

// MemberFilter skips backup copies under geodetic and, unless
// includeObservatories is set, the Observatories table.
func MemberFilter(includeObservatories bool) Filter {
	return func(name string) bool {
		if strings.Contains(name, "geodetic") && strings.Contains(name, ".old") {
			return false
		}
		if !includeObservatories && strings.Contains(name, "Observatories") {
			return false
		}
		return true
	}
}

// ExtractTarGz unpacks the gzip compressed tar at archive into dest, keeping
// only members accepted by keep. It returns the number of members written.
func ExtractTarGz(archive, dest string, keep Filter) (int, error) {
	f, err := os.Open(archive)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("open gzip: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	n := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read archive: %w", err)
		}
		if keep != nil && !keep(hdr.Name) {
			continue
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return n, err
		}
		if target == "" {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr); err != nil {
				return n, fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := writeSymlink(dest, target, hdr.Linkname); err != nil {
				return n, fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		default:
			// devices, fifos and hard links have no place in a measures tree
			continue
		}
		n++
	}
	return n, nil
}

func writeFile(target string, r io.Reader, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	// replace rather than write through an existing symlink
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	mode := hdr.FileInfo().Mode().Perm()&0o755 | 0o600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(out, r, hdr.Size); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func writeSymlink(dest, target, linkname string) error {
	resolved := linkname
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(target), linkname)
	}
	if !within(dest, resolved) {
		return fmt.Errorf("link target %q escapes destination", linkname)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(linkname, target)
}

// safeJoin maps an archive member name onto dest. The archive root itself
// maps to "".
func safeJoin(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(name)))
	if clean == "." || clean == "" {
		return "", nil
	}
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("absolute archive path: %s", name)
	}
	target := filepath.Join(dest, clean)
	if !within(dest, target) {
		return "", fmt.Errorf("archive path escapes destination: %s", name)
	}
	return target, nil
}

func within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
