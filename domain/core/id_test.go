package core

import (
	"testing"
	"time"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestParseSessionID(t *testing.T) {
	id := NewSessionID()
	parsed, err := ParseSessionID(" " + id.String() + " ")
	if err != nil {
		t.Fatalf("ParseSessionID failed: %v", err)
	}
	if parsed != id {
		t.Errorf("Expected %s, got %s", id, parsed)
	}

	if _, err := ParseSessionID(""); err == nil {
		t.Error("Expected error for empty session ID")
	}
	if _, err := ParseSessionID("not-a-uuid"); err == nil {
		t.Error("Expected error for malformed session ID")
	}
}

func TestDeriveSeedDeterministic(t *testing.T) {
	a1, a2 := DeriveSeed(42, "traces", "3")
	b1, b2 := DeriveSeed(42, "traces", "3")
	if a1 != b1 || a2 != b2 {
		t.Error("Expected identical seeds for identical inputs")
	}

	c1, _ := DeriveSeed(42, "traces", "4")
	if a1 == c1 {
		t.Error("Expected different seeds for different stream names")
	}
}

func TestDecimalYear(t *testing.T) {
	tests := []struct {
		day  time.Time
		want float64
	}{
		{NewDay(2001, time.January, 1), 2001 + 0.5/365},
		{NewDay(2000, time.December, 31), 2000 + 365.5/366},
		{NewDay(2001, time.July, 2), 2001 + 182.5/365},
	}
	for _, tt := range tests {
		got := DecimalYear(tt.day)
		if diff := got - tt.want; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("DecimalYear(%s) = %.10f, want %.10f", DayKey(tt.day), got, tt.want)
		}
	}

	if DaysBetween(NewDay(2000, time.February, 27), NewDay(2000, time.March, 1)) != 3 {
		t.Error("Expected 3 days across a leap-day February end")
	}
}
