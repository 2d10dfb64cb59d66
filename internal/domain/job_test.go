package domain

import "testing"

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
		want     bool
	}{
		{Pending, Checking, true},
		{Pending, Live, false},
		{Pending, Unknown, false},
		{Checking, Live, true},
		{Checking, Die, true},
		{Checking, Unknown, true},
		{Checking, Pending, false},
		{Checking, Checking, false},
		{Live, Die, false},
		{Die, Live, false},
		{Unknown, Checking, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Fatalf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminalAndNames(t *testing.T) {
	t.Parallel()

	for _, s := range AllStatuses {
		parsed, err := ParseStatus(s.String())
		if err != nil || parsed != s {
			t.Fatalf("ParseStatus(%q) = %v, %v", s.String(), parsed, err)
		}
	}
	if Pending.Terminal() || Checking.Terminal() {
		t.Fatalf("pending/checking must not be terminal")
	}
	if !Live.Terminal() || !Die.Terminal() || !Unknown.Terminal() {
		t.Fatalf("live/die/unknown must be terminal")
	}
	if Status(9).Valid() {
		t.Fatalf("status 9 should be invalid")
	}
	if _, err := ParseStatus("requeued"); err == nil {
		t.Fatalf("expected error for unknown status name")
	}
}
