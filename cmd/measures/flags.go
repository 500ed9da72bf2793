package main

import "time"

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	JSON       bool
	NoColor    bool
}

// UpdateFlags holds flags for the update command
type UpdateFlags struct {
	Path                 string
	Version              string
	Force                bool
	Auto                 bool
	IncludeObservatories bool
	// IncludeObservatoriesSet is true when the flag was given explicitly;
	// otherwise the config value applies.
	IncludeObservatoriesSet bool
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Listen     string
	NoSchedule bool
}
