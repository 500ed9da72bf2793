package catalog

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// Default ASTRON location of the measures tarballs.
const (
	DefaultFTPAddress = "ftp.astron.nl:21"
	DefaultFTPDir     = "outgoing/Measures"
)

// FTP lists and downloads archives from an FTP server, anonymously unless
// User is set.
type FTP struct {
	Address  string
	Dir      string
	User     string
	Password string
	TLS      bool
	Timeout  time.Duration
}

func (s *FTP) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := s.Address
	if addr == "" {
		addr = DefaultFTPAddress
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout)}
	if s.TLS {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}))
	}
	c, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, Classify("connect to", err)
	}
	user, pass := s.User, s.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := c.Login(user, pass); err != nil {
		_ = c.Quit()
		return nil, Classify("log in to", err)
	}
	dir := s.Dir
	if dir == "" {
		dir = DefaultFTPDir
	}
	if err := c.ChangeDir(dir); err != nil {
		_ = c.Quit()
		return nil, Classify("open directory on", fmt.Errorf("cwd %s: %w", dir, err))
	}
	return c, nil
}

func (s *FTP) List(ctx context.Context) ([]string, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Quit() }()

	entries, err := c.List("")
	if err != nil {
		// some servers reject LIST parsing; fall back to bare names
		names, nerr := c.NameList("")
		if nerr != nil {
			return nil, Classify("list", nerr)
		}
		return Normalize(names), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || e.Size == 0 {
			continue
		}
		names = append(names, e.Name)
	}
	return Normalize(names), nil
}

func (s *FTP) Fetch(ctx context.Context, version string, w io.Writer) error {
	if err := checkName(version); err != nil {
		return err
	}
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Quit() }()

	resp, err := c.Retr(version)
	if err != nil {
		return Classify("download", fmt.Errorf("retr %s: %w", version, err))
	}
	if _, err := io.Copy(w, resp); err != nil {
		_ = resp.Close()
		return Classify("download", fmt.Errorf("read %s: %w", version, err))
	}
	return resp.Close()
}

// checkName rejects version tokens that would address anything but a plain
// file in the source directory.
func checkName(version string) error {
	if version == "" || version == "." || version == ".." || strings.ContainsAny(version, `/\`) {
		return fmt.Errorf("invalid version name %q", version)
	}
	return nil
}
