package delegation

import (
	"testing"
	"time"
)

func TestCommonPrefixLen(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 0},
		{"abc", "abc", 3},
		{"abc123456", "abc123999", 6},
		{"abc", "abcdef", 3},
		{"xyz", "abc123456", 0},
		{"9f1c2e7a-1111", "9f1c2e7a-2222", 9},
	}
	for _, tt := range tests {
		if got := CommonPrefixLen(tt.a, tt.b); got != tt.want {
			t.Errorf("CommonPrefixLen(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPrefixMatch(t *testing.T) {
	tests := []struct {
		name      string
		a, b      string
		minPrefix int
		want      bool
	}{
		{"identical", "abc", "abc", 6, true},
		{"shared long prefix", "abc123456", "abc123999", 6, true},
		{"below threshold", "abc123456", "abc123999", 7, false},
		{"no shared prefix", "abc123456", "xyz", 6, false},
		{"both empty", "", "", 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrefixMatch(tt.a, tt.b, tt.minPrefix); got != tt.want {
				t.Errorf("PrefixMatch(%q, %q, %d) = %v, want %v", tt.a, tt.b, tt.minPrefix, got, tt.want)
			}
		})
	}
}

func TestPairDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Pair{
		Request:    Request{RequestedAt: start},
		Completion: Completion{CompletedAt: start.Add(90 * time.Second)},
	}
	if p.Duration() != 90*time.Second {
		t.Errorf("expected 90s, got %v", p.Duration())
	}
}
