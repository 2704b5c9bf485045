package version

import "testing"

func TestString(t *testing.T) {
	if got, want := String("lexi-decode"), "lexi-decode dev (unknown, built unknown)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
