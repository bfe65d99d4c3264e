package fault

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

var trailFrame = regexp.MustCompile(` <- [A-Za-z0-9_.()]+\(\) in [A-Za-z0-9_.-]+\.go:\d+`)

func produceFault() error {
	return Errorf("produce failed: %w", errSentinel)
}

var errSentinel = errors.New("store is closed")

func TestDescribeCarriesTrail(t *testing.T) {
	err := produceFault()

	desc := Describe(err)
	if !strings.HasPrefix(desc, "produce failed: store is closed") {
		t.Fatalf("description = %q", desc)
	}
	if !trailFrame.MatchString(desc) {
		t.Fatalf("no call frames in %q", desc)
	}
	if !strings.Contains(desc, "produceFault()") {
		t.Fatalf("trail misses capture site: %q", desc)
	}
	if !strings.Contains(desc, "fault_test.go") {
		t.Fatalf("trail misses capture file: %q", desc)
	}
}

func TestUnwrap(t *testing.T) {
	err := produceFault()
	if !errors.Is(err, errSentinel) {
		t.Fatal("fault should unwrap to the sentinel")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}

	inner := Wrap(errSentinel)
	if Wrap(inner) != inner {
		t.Fatal("rewrapping must keep the original capture site")
	}
	if Describe(inner) == inner.Error() {
		t.Fatalf("wrapped error lost its trail: %q", Describe(inner))
	}
}

func TestDescribePlainError(t *testing.T) {
	if got := Describe(errSentinel); got != "store is closed" {
		t.Fatalf("Describe = %q", got)
	}
	if got := Describe(nil); got != "" {
		t.Fatalf("Describe(nil) = %q", got)
	}
}
