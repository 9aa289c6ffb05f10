package spinlock

import "testing"

func TestParseBackoff(t *testing.T) {
	for _, name := range []string{"", "exponential", "yield", "spin"} {
		b, err := ParseBackoff(name, 4)
		if err != nil {
			t.Fatalf("parse %q: %v", name, err)
		}
		b(1)
		b(40)
	}
	if _, err := ParseBackoff("random", 0); err == nil {
		t.Fatal("expected error for unknown backoff")
	}
}

func TestExponentialLargeAttempt(t *testing.T) {
	b := Exponential(0)
	// Must cap rather than overflow the shift.
	b(64)
	b(1 << 20)
}
