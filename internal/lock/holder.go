package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Holder is the diagnostic payload written into the sentinel while a lock is held.
type Holder struct {
	Label      string    `json:"label"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func currentHolder(label string, now time.Time) Holder {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return Holder{Label: label, PID: os.Getpid(), Host: host, AcquiredAt: now.UTC()}
}

// String renders the sentinel payload, one "key : value" per line.
func (h Holder) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "locked by : %s\n", h.Label)
	fmt.Fprintf(&b, "pid : %d\n", h.PID)
	fmt.Fprintf(&b, "host : %s\n", h.Host)
	fmt.Fprintf(&b, "date : %s\n", h.AcquiredAt.Format(time.RFC3339))
	return b.String()
}

// parseHolder reads whatever fields it recognises. Sentinels written by
// other tools may not follow this layout; unknown lines are ignored.
func parseHolder(raw string) Holder {
	var h Holder
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.TrimSpace(k) {
		case "locked by":
			h.Label = v
		case "pid":
			if n, err := strconv.Atoi(v); err == nil {
				h.PID = n
			}
		case "host":
			h.Host = v
		case "date":
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				h.AcquiredAt = t
			}
		}
	}
	return h
}

// Alive reports whether the holder process still runs. known is false when
// the holder is on another host or carries no pid.
func (h Holder) Alive() (alive bool, known bool) {
	if h.PID <= 0 {
		return false, false
	}
	if host, err := os.Hostname(); err != nil || host != h.Host {
		return false, false
	}
	ok, err := gopsproc.PidExists(int32(h.PID))
	if err != nil {
		return false, false
	}
	return ok, true
}
