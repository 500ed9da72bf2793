package update

import "errors"

var (
	ErrUnsetPath             = errors.New("measures path is not set")
	ErrAutoUpdatesNotAllowed = errors.New("auto updates not allowed")
	ErrNotWritable           = errors.New("measures path is not writable")
	ErrNoReadme              = errors.New("no measures readme found")
	ErrBadReadme             = errors.New("measures readme could not be read as expected")
	ErrNotManaged            = errors.New("measures data is not maintained by this tool")
	ErrNoObservatories       = errors.New("observatories table not found")
)
