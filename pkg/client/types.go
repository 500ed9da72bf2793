package client

import "time"

// UpdateRequest selects what a remote update does.
type UpdateRequest struct {
	Version              string `json:"version,omitempty"`
	Force                bool   `json:"force,omitempty"`
	AutoUpdate           bool   `json:"auto_update,omitempty"`
	IncludeObservatories bool   `json:"include_observatories,omitempty"`
}

// Record is the install record of a managed directory.
type Record struct {
	Classification string    `json:"classification"`
	Version        string    `json:"version,omitempty"`
	Date           string    `json:"date,omitempty"`
	InstalledAt    time.Time `json:"installed_at,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}

// UpdateResponse reports what a remote update did.
type UpdateResponse struct {
	Action   string  `json:"action"` // noop or installed
	Reason   string  `json:"reason,omitempty"`
	Path     string  `json:"path"`
	Version  string  `json:"version,omitempty"`
	Checked  bool    `json:"checked"`
	Previous *Record `json:"previous,omitempty"`
}

// LockHolder identifies the process that wrote the lock sentinel.
type LockHolder struct {
	Label      string    `json:"label"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// LockStatus is the sentinel state of a managed directory.
type LockStatus struct {
	Path   string      `json:"path"`
	Exists bool        `json:"exists"`
	Held   bool        `json:"held"`
	Dirty  bool        `json:"dirty"`
	Holder *LockHolder `json:"holder,omitempty"`
}

// ScheduledRun is the outcome of one daemon auto update.
type ScheduledRun struct {
	At     time.Time       `json:"at"`
	Result *UpdateResponse `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ScheduleInfo describes the daemon auto update schedule.
type ScheduleInfo struct {
	Next time.Time     `json:"next"`
	Last *ScheduledRun `json:"last,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Path     string        `json:"path"`
	Record   *Record       `json:"record,omitempty"`
	Lock     LockStatus    `json:"lock"`
	Schedule *ScheduleInfo `json:"schedule,omitempty"`
}

// VersionsResponse is returned by GET /versions.
type VersionsResponse struct {
	Versions []string `json:"versions"`
	Latest   string   `json:"latest,omitempty"`
}

// ErrorResponse is the body of every non-200 reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
