package update

import (
	"errors"
	"fmt"
	"testing"

	"github.com/loykin/measures/internal/catalog"
	"github.com/loykin/measures/internal/lock"
)

func TestErrorCodes(t *testing.T) {
	for _, c := range codes {
		wrapped := fmt.Errorf("context: %w", c.err)
		if got := ErrorCode(wrapped); got != c.code {
			t.Errorf("ErrorCode(%v) = %q, want %q", c.err, got, c.code)
		}
		if !errors.Is(CodeError(c.code), c.err) {
			t.Errorf("CodeError(%q) does not match %v", c.code, c.err)
		}
	}
	if ErrorCode(errors.New("boom")) != "" || CodeError("nope") != nil {
		t.Fatal("unknown errors must map to empty codes")
	}
	if ErrorCode(&lock.BadLockError{Path: "/x"}) != "bad_lock" {
		t.Fatal("typed lock error not mapped")
	}
	if ErrorCode(&catalog.RemoteError{Op: "list", Err: errors.New("dial")}) != "remote" {
		t.Fatal("typed remote error not mapped")
	}
}
