package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/loykin/measures"
	"github.com/loykin/measures/internal/logger"
	"github.com/loykin/measures/pkg/client"
)

var errRemotePath = errors.New("--path cannot be combined with --api-url; the daemon manages its own directory")

type command struct {
	global *GlobalFlags
	out    io.Writer
}

// session is the local wiring of one command: config, logger and updater.
type session struct {
	cfg     *measures.Config
	updater *measures.Updater
	logs    io.Closer
}

func (s *session) Close() error {
	return errors.Join(s.updater.Close(), s.logs.Close())
}

// open loads the config, installs the configured logger as slog default and
// builds the updater. path, when set, replaces the configured directory.
func (c *command) open(configPath, path string) (*session, error) {
	if configPath == "" {
		configPath = c.global.ConfigPath
	}
	cfg, err := measures.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if path != "" {
		cfg.Path = path
	}
	log, closer, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(log)

	u, err := measures.NewFromConfig(cfg, measures.WithLogger(log))
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &session{cfg: cfg, updater: u, logs: closer}, nil
}

func (c *command) remote() *client.Client {
	return client.New(client.Config{
		BaseURL: c.global.APIUrl,
		Timeout: c.global.APITimeout,
		Logger:  slog.Default(),
	})
}

// Update installs or refreshes the data locally or through the daemon.
func (c *command) Update(ctx context.Context, f UpdateFlags) error {
	if c.global.APIUrl != "" {
		if f.Path != "" {
			return errRemotePath
		}
		res, err := c.remote().Update(ctx, client.UpdateRequest{
			Version:              f.Version,
			Force:                f.Force,
			AutoUpdate:           f.Auto,
			IncludeObservatories: f.IncludeObservatories,
		})
		if err != nil {
			return err
		}
		if c.global.JSON {
			return printJSON(c.out, res)
		}
		printUpdate(c.out, remoteUpdateView(res))
		return nil
	}

	s, err := c.open("", f.Path)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	opts := measures.Options{
		Version:              f.Version,
		Force:                f.Force,
		AutoUpdate:           f.Auto,
		IncludeObservatories: f.IncludeObservatories,
	}
	if !f.IncludeObservatoriesSet {
		opts.IncludeObservatories = s.cfg.IncludeObservatories
	}
	res, err := s.updater.Update(ctx, opts)
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, res)
	}
	printUpdate(c.out, localUpdateView(res))
	return nil
}

// Available lists the catalog versions, marking the latest and the installed one.
func (c *command) Available(ctx context.Context) error {
	var versions []string
	installed := ""
	if c.global.APIUrl != "" {
		cl := c.remote()
		vs, err := cl.Versions(ctx)
		if err != nil {
			return err
		}
		versions = vs.Versions
		if st, err := cl.Status(ctx); err == nil && st.Record != nil {
			installed = st.Record.Version
		}
	} else {
		s, err := c.open("", "")
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		if versions, err = s.updater.Available(ctx); err != nil {
			return err
		}
		if st, err := s.updater.Status(); err == nil && st.Record != nil {
			installed = st.Record.Version
		}
	}

	if c.global.JSON {
		resp := client.VersionsResponse{Versions: versions}
		if len(versions) > 0 {
			resp.Latest = versions[len(versions)-1]
		}
		return printJSON(c.out, resp)
	}
	printVersions(c.out, versions, installed)
	return nil
}

// Status prints the record and lock state without modifying anything.
func (c *command) Status(ctx context.Context, path string) error {
	v, raw, err := c.status(ctx, path)
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, raw)
	}
	printStatus(c.out, v)
	return nil
}

// LockShow prints the lock part of the status.
func (c *command) LockShow(ctx context.Context, path string) error {
	v, _, err := c.status(ctx, path)
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, v.Lock)
	}
	printLock(c.out, v.Lock)
	return nil
}

// LockReset clears a dirty lock.
func (c *command) LockReset(ctx context.Context, path string) error {
	if c.global.APIUrl != "" {
		if path != "" {
			return errRemotePath
		}
		if err := c.remote().ResetLock(ctx); err != nil {
			return err
		}
	} else {
		s, err := c.open("", path)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		if err := s.updater.ResetLock(); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintln(c.out, "Data lock reset")
	return nil
}

func (c *command) status(ctx context.Context, path string) (statusView, any, error) {
	if c.global.APIUrl != "" {
		if path != "" {
			return statusView{}, nil, errRemotePath
		}
		st, err := c.remote().Status(ctx)
		if err != nil {
			return statusView{}, nil, err
		}
		return remoteStatusView(st), st, nil
	}
	s, err := c.open("", path)
	if err != nil {
		return statusView{}, nil, err
	}
	defer func() { _ = s.Close() }()
	st, err := s.updater.Status()
	if err != nil {
		return statusView{}, nil, err
	}
	return localStatusView(st), st, nil
}
