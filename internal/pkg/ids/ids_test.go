package ids

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestEncodeTimestamp(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int64
		expected string
	}{
		{"Zero timestamp", 0, "000000"},
		{"One second", 1, "000001"},
		{"62 seconds", 62, "000010"},
		{"One hour", 3600, "0000w4"},
		{"One day", 86400, "000MTY"},
		{"2024-01-01", 1704067200, "1rK5iq"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeTimestamp(tt.seconds); got != tt.expected {
				t.Errorf("EncodeTimestamp(%d) = %s, want %s", tt.seconds, got, tt.expected)
			}
		})
	}
}

func TestNewFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^(tsk|msn|cmp|rpt|wrk)_[0-9A-Za-z]{24}$`)
	for _, prefix := range []string{Task, Mission, Campaign, Report, Worker} {
		id := New(prefix)
		if !pattern.MatchString(id) {
			t.Errorf("New(%q) = %s, does not match %s", prefix, id, pattern)
		}
		if !strings.HasPrefix(id, prefix+"_") {
			t.Errorf("New(%q) = %s, missing prefix", prefix, id)
		}
	}
}

func TestNewUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := New(Task)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestNewAtSortsByTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := NewAt(Task, base)
	later := NewAt(Task, base.Add(2*time.Second))

	if earlier[4:10] >= later[4:10] {
		t.Errorf("timestamp prefix not sortable: %s vs %s", earlier, later)
	}
}
