package update

import (
	"errors"

	"github.com/loykin/measures/internal/catalog"
	"github.com/loykin/measures/internal/lock"
)

// Error codes carried over the HTTP API so clients can rebuild sentinels.
var codes = []struct {
	code string
	err  error
}{
	{"unset_path", ErrUnsetPath},
	{"auto_updates_not_allowed", ErrAutoUpdatesNotAllowed},
	{"not_writable", ErrNotWritable},
	{"bad_lock", lock.ErrBadLock},
	{"locked", lock.ErrLocked},
	{"no_readme", ErrNoReadme},
	{"bad_readme", ErrBadReadme},
	{"not_managed", ErrNotManaged},
	{"no_observatories", ErrNoObservatories},
	{"version_not_found", catalog.ErrVersionNotFound},
	{"no_versions", catalog.ErrNoVersions},
	{"remote", catalog.ErrRemote},
}

// ErrorCode returns the API code of err, or "" for unclassified errors.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// CodeError returns the sentinel for an API code, or nil when unknown.
func CodeError(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
