package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/loykin/measures"
	"github.com/loykin/measures/pkg/client"
)

type updateView struct {
	Action   string
	Reason   string
	Path     string
	Version  string
	Previous string
}

type lockView struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Held   bool   `json:"held"`
	Dirty  bool   `json:"dirty"`
	Holder string `json:"holder,omitempty"`
}

type statusView struct {
	Path           string
	Classification string // empty when there is no readme
	Version        string
	Date           string
	Detail         string
	InstalledAt    time.Time
	Lock           lockView
	NextRun        time.Time
	LastRunError   string
}

func localUpdateView(r *measures.Result) updateView {
	v := updateView{Action: string(r.Action), Reason: r.Reason, Path: r.Path, Version: r.Version}
	if r.Previous != nil {
		v.Previous = r.Previous.Version
	}
	return v
}

func remoteUpdateView(r *client.UpdateResponse) updateView {
	v := updateView{Action: r.Action, Reason: r.Reason, Path: r.Path, Version: r.Version}
	if r.Previous != nil {
		v.Previous = r.Previous.Version
	}
	return v
}

func localStatusView(st *measures.Status) statusView {
	v := statusView{
		Path: st.Path,
		Lock: lockView{Path: st.Lock.Path, Exists: st.Lock.Exists, Held: st.Lock.Held, Dirty: st.Lock.Dirty},
	}
	if h := st.Lock.Holder; h != nil {
		v.Lock.Holder = holderString(h.Label, h.PID, h.Host, h.AcquiredAt)
		if alive, known := h.Alive(); known && !alive {
			v.Lock.Holder += ", process no longer running"
		}
	}
	if r := st.Record; r != nil {
		v.Classification = r.Classification.String()
		v.Version, v.Date, v.Detail, v.InstalledAt = r.Version, r.Date, r.Detail, r.InstalledAt
	}
	return v
}

func remoteStatusView(st *client.StatusResponse) statusView {
	v := statusView{
		Path: st.Path,
		Lock: lockView{Path: st.Lock.Path, Exists: st.Lock.Exists, Held: st.Lock.Held, Dirty: st.Lock.Dirty},
	}
	if h := st.Lock.Holder; h != nil {
		v.Lock.Holder = holderString(h.Label, h.PID, h.Host, h.AcquiredAt)
	}
	if r := st.Record; r != nil {
		v.Classification = r.Classification
		v.Version, v.Date, v.Detail, v.InstalledAt = r.Version, r.Date, r.Detail, r.InstalledAt
	}
	if sc := st.Schedule; sc != nil {
		v.NextRun = sc.Next
		if sc.Last != nil {
			v.LastRunError = sc.Last.Error
		}
	}
	return v
}

func holderString(label string, pid int, host string, at time.Time) string {
	s := fmt.Sprintf("%s (pid %d on %s", label, pid, host)
	if !at.IsZero() {
		s += ", since " + at.Local().Format(time.DateTime)
	}
	return s + ")"
}

func printUpdate(w io.Writer, v updateView) {
	if v.Action == string(measures.ActionInstalled) {
		msg := fmt.Sprintf("Installed %s in %s", color.New(color.FgGreen).Sprint(v.Version), v.Path)
		if v.Previous != "" && v.Previous != v.Version {
			msg += fmt.Sprintf(" (was %s)", v.Previous)
		}
		_, _ = fmt.Fprintln(w, msg)
		return
	}
	_, _ = fmt.Fprintf(w, "Up to date: %s in %s (%s)\n", color.New(color.FgGreen).Sprint(v.Version), v.Path, v.Reason)
}

func printVersions(w io.Writer, versions []string, installed string) {
	if len(versions) == 0 {
		_, _ = fmt.Fprintln(w, "No versions available")
		return
	}
	for i, v := range versions {
		line := "  " + v
		if i == len(versions)-1 {
			line += color.New(color.FgCyan).Sprint(" [latest]")
		}
		if v == installed {
			line += color.New(color.FgGreen).Sprint(" [installed]")
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func classificationString(c string) string {
	switch c {
	case "":
		return color.New(color.FgYellow).Sprint("not installed")
	case "valid":
		return color.New(color.FgGreen).Sprint(c)
	case "invalid":
		return color.New(color.FgYellow).Sprint("no readme")
	default:
		return color.New(color.FgRed).Sprint(c)
	}
}

func printStatus(w io.Writer, v statusView) {
	_, _ = fmt.Fprintf(w, "Path:       %s\n", v.Path)
	data := classificationString(v.Classification)
	if v.Detail != "" {
		data += " (" + v.Detail + ")"
	}
	_, _ = fmt.Fprintf(w, "Data:       %s\n", data)
	if v.Version != "" {
		_, _ = fmt.Fprintf(w, "Version:    %s\n", v.Version)
	}
	if v.Date != "" {
		_, _ = fmt.Fprintf(w, "Date:       %s\n", v.Date)
	}
	if !v.InstalledAt.IsZero() {
		age := time.Since(v.InstalledAt).Round(time.Minute)
		_, _ = fmt.Fprintf(w, "Checked:    %s (%s ago)\n", v.InstalledAt.Local().Format(time.DateTime), age)
	}
	printLock(w, v.Lock)
	if !v.NextRun.IsZero() {
		_, _ = fmt.Fprintf(w, "Next run:   %s\n", v.NextRun.Local().Format(time.DateTime))
	}
	if v.LastRunError != "" {
		_, _ = fmt.Fprintf(w, "Last run:   %s\n", color.New(color.FgRed).Sprint(v.LastRunError))
	}
}

func printLock(w io.Writer, l lockView) {
	var state string
	switch {
	case !l.Exists:
		state = "none"
	case l.Held:
		state = color.New(color.FgCyan).Sprint("held")
	case l.Dirty:
		state = color.New(color.FgRed).Sprint("DIRTY") + " (check the data, then run 'measures lock reset')"
	default:
		state = color.New(color.FgGreen).Sprint("free")
	}
	_, _ = fmt.Fprintf(w, "Lock:       %s\n", state)
	if l.Holder != "" {
		_, _ = fmt.Fprintf(w, "Holder:     %s\n", l.Holder)
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
