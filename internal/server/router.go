package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/measures/internal/metrics"
	"github.com/loykin/measures/internal/schedule"
	"github.com/loykin/measures/internal/update"
)

// Service is the update API served over HTTP; *update.Updater satisfies it.
type Service interface {
	Update(ctx context.Context, opts update.Options) (*update.Result, error)
	Available(ctx context.Context) ([]string, error)
	Status() (*update.Status, error)
	ResetLock() error
}

// Router provides embeddable HTTP handlers for one managed directory.
// Endpoints:
//
//	GET  {basePath}/status       directory record, lock state, schedule
//	GET  {basePath}/versions     catalog listing, latest last
//	POST {basePath}/update       body: update.Options JSON (optional)
//	POST {basePath}/lock/reset   clear a dirty lock
//	GET  {basePath}/metrics      prometheus exposition, when enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	svc      Service
	sched    *schedule.Scheduler
	basePath string
	metrics  bool
}

type RouterOption func(*Router)

// WithScheduler reports the auto-update schedule in /status.
func WithScheduler(s *schedule.Scheduler) RouterOption { return func(r *Router) { r.sched = s } }

// WithMetrics mounts the prometheus handler under {basePath}/metrics.
func WithMetrics() RouterOption { return func(r *Router) { r.metrics = true } }

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(svc Service, basePath string, opts ...RouterOption) *Router {
	r := &Router{svc: svc, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/versions", r.handleVersions)
	group.POST("/update", r.handleUpdate)
	group.POST("/lock/reset", r.handleLockReset)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer binds addr and serves the router in the background. Bind errors
// are returned; the caller shuts the server down.
func NewServer(addr string, r *Router) (*http.Server, error) {
	return NewTLSServer(addr, nil, r)
}

// NewTLSServer is NewServer over TLS; a nil tlsConfig serves plain HTTP.
func NewTLSServer(addr string, tlsConfig *tls.Config, r *Router) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// updates download whole archives
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type versionsResp struct {
	Versions []string `json:"versions"`
	Latest   string   `json:"latest,omitempty"`
}

type scheduleResp struct {
	Next time.Time     `json:"next"`
	Last *schedule.Run `json:"last,omitempty"`
}

type statusResp struct {
	*update.Status
	Schedule *scheduleResp `json:"schedule,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.svc.Status()
	if err != nil {
		writeError(c, err)
		return
	}
	resp := statusResp{Status: st}
	if r.sched != nil {
		resp.Schedule = &scheduleResp{Next: r.sched.Next(), Last: r.sched.Last()}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleVersions(c *gin.Context) {
	versions, err := r.svc.Available(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := versionsResp{Versions: versions}
	if len(versions) > 0 {
		resp.Latest = versions[len(versions)-1]
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleUpdate(c *gin.Context) {
	var opts update.Options
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	if opts.Version != "" && !isSafeName(opts.Version) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid version: allowed [A-Za-z0-9._-] and no '..'"})
		return
	}
	// A client going away must not abort an install holding the lock.
	res, err := r.svc.Update(context.WithoutCancel(c.Request.Context()), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleLockReset(c *gin.Context) {
	if err := r.svc.ResetLock(); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func writeError(c *gin.Context, err error) {
	code := update.ErrorCode(err)
	writeJSON(c, statusFor(code), errorResp{Error: err.Error(), Code: code})
}

func statusFor(code string) int {
	switch code {
	case "unset_path", "auto_updates_not_allowed":
		return http.StatusBadRequest
	case "not_writable":
		return http.StatusForbidden
	case "version_not_found", "no_versions":
		return http.StatusNotFound
	case "bad_lock", "locked", "no_readme", "bad_readme", "not_managed", "no_observatories":
		return http.StatusConflict
	case "remote":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
