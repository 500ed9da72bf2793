package testutil

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// Source is an in-memory catalog.Source. ListHook and FetchHook, when set,
// run before the call and may block or fail it.
type Source struct {
	mu       sync.Mutex
	archives map[string][]byte

	ListErr   error
	ListHook  func(ctx context.Context) error
	FetchHook func(ctx context.Context, version string) error

	Lists   atomic.Int32
	Fetches atomic.Int32
}

// NewSource returns an empty Source.
func NewSource() *Source { return &Source{archives: map[string][]byte{}} }

// Add publishes an archive under version.
func (s *Source) Add(version string, archive []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[version] = archive
}

func (s *Source) List(ctx context.Context) ([]string, error) {
	s.Lists.Add(1)
	if s.ListHook != nil {
		if err := s.ListHook(ctx); err != nil {
			return nil, err
		}
	}
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.archives))
	for v := range s.archives {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Source) Fetch(ctx context.Context, version string, w io.Writer) error {
	s.Fetches.Add(1)
	if s.FetchHook != nil {
		if err := s.FetchHook(ctx, version); err != nil {
			return err
		}
	}
	s.mu.Lock()
	b, ok := s.archives[version]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no archive %s", version)
	}
	_, err := w.Write(b)
	return err
}
