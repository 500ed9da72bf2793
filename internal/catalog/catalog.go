// Package catalog lists and fetches measures archives from a remote source.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"syscall"
)

var (
	// ErrRemote matches *RemoteError.
	ErrRemote = errors.New("remote source unreachable")
	// ErrNoVersions is returned when a listing is empty.
	ErrNoVersions = errors.New("no measures versions available")
	// ErrVersionNotFound is returned when a requested version is not listed.
	ErrVersionNotFound = errors.New("measures version not found")
)

// Source is a remote store of measures archives.
type Source interface {
	// List returns the available versions sorted so that the last one is the latest.
	List(ctx context.Context) ([]string, error)
	// Fetch streams the archive for version into w.
	Fetch(ctx context.Context, version string, w io.Writer) error
}

// RemoteError is a connectivity failure talking to a Source.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("unable to %s measures from remote source: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// Classify wraps err as a *RemoteError when it is a connectivity failure and
// as an unexpected error otherwise. nil stays nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRemote) || errors.Is(err, context.Canceled) {
		return err
	}
	if isConnectivity(err) {
		return &RemoteError{Op: op, Err: err}
	}
	return fmt.Errorf("unexpected error while trying to %s measures: %w", op, err)
}

func isConnectivity(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH)
}

// Normalize drops empty names and *.dat entries and sorts the rest.
func Normalize(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || strings.HasSuffix(n, ".dat") {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Latest returns the newest version offered by src.
func Latest(ctx context.Context, src Source) (string, error) {
	versions, err := src.List(ctx)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", ErrNoVersions
	}
	return versions[len(versions)-1], nil
}

// Contains reports whether version is present in versions.
func Contains(versions []string, version string) bool {
	for _, v := range versions {
		if v == version {
			return true
		}
	}
	return false
}
