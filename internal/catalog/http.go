package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/html"
)

// HTTP reads a plain directory index served over HTTP(S), the way mirrors of
// the measures FTP area are usually published.
type HTTP struct {
	BaseURL    string
	Client     *http.Client
	MaxRetries uint64
}

func (s *HTTP) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 5 * time.Minute}
}

func (s *HTTP) base() string { return strings.TrimRight(s.BaseURL, "/") + "/" }

// get retries until the server answers 200. 4xx answers are not retried.
func (s *HTTP) get(ctx context.Context, u string) (*http.Response, error) {
	retries := s.MaxRetries
	if retries == 0 {
		retries = 3
	}
	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := s.client().Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, r.Body)
			_ = r.Body.Close()
			err := fmt.Errorf("GET %s: status %d", u, r.StatusCode)
			if r.StatusCode >= 400 && r.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return nil, err
	}
	return resp, nil
}

func (s *HTTP) List(ctx context.Context) ([]string, error) {
	resp, err := s.get(ctx, s.base())
	if err != nil {
		return nil, Classify("list", err)
	}
	defer func() { _ = resp.Body.Close() }()
	names, err := parseIndex(resp.Body)
	if err != nil {
		return nil, Classify("list", err)
	}
	return Normalize(names), nil
}

func (s *HTTP) Fetch(ctx context.Context, version string, w io.Writer) error {
	if err := checkName(version); err != nil {
		return err
	}
	resp, err := s.get(ctx, s.base()+url.PathEscape(version))
	if err != nil {
		return Classify("download", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return Classify("download", err)
	}
	return nil
}

// parseIndex collects file links from an HTML directory listing. Links to
// subdirectories, parents, queries and other hosts are skipped.
func parseIndex(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	var names []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if name, ok := fileLink(a.Val); ok {
					names = append(names, name)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return names, nil
}

func fileLink(href string) (string, bool) {
	if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "/") {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil || u.IsAbs() || u.RawQuery != "" {
		return "", false
	}
	p := u.Path
	if p == "" || strings.Contains(p, "/") || p == "." || p == ".." {
		return "", false
	}
	return p, true
}
