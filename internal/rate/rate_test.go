package rate

import "testing"

func TestNewAcceptLimiterDisabled(t *testing.T) {
	if l := NewAcceptLimiter(0); l != nil {
		t.Fatalf("got %v, want nil for rps <= 0", l)
	}
	if l := NewAcceptLimiter(-5); l != nil {
		t.Fatalf("got %v, want nil for negative rps", l)
	}
}

func TestNewAcceptLimiterEnabled(t *testing.T) {
	l := NewAcceptLimiter(10)
	if l == nil {
		t.Fatal("expected a non-nil limiter")
	}
	if !l.Allow() {
		t.Fatal("expected the first token to be immediately available")
	}
}
