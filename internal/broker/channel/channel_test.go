package channel

import (
	"testing"
)

func TestName_Segments(t *testing.T) {
	tests := []struct {
		name     Name
		expected []string
	}{
		{Name("orders:eu:refunded"), []string{"orders", "eu", "refunded"}},
		{Name("orders:*"), []string{"orders", "*"}},
		{Name("single"), []string{"single"}},
		{Name(""), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name.String(), func(t *testing.T) {
			got := tt.name.Segments()
			if len(got) != len(tt.expected) {
				t.Errorf("Name.Segments() = %v, want %v", got, tt.expected)
				return
			}
			for i, seg := range got {
				if seg != tt.expected[i] {
					t.Errorf("Name.Segments()[%d] = %v, want %v", i, seg, tt.expected[i])
				}
			}
		})
	}
}

func TestName_WildcardCount(t *testing.T) {
	tests := []struct {
		name     Name
		expected int
	}{
		{Name("a:b:c"), 0},
		{Name("a:*"), 1},
		{Name("*:b:*"), 2},
		{Name("*"), 1},
		{Name("a*:b"), 0},
	}

	for _, tt := range tests {
		if got := tt.name.WildcardCount(); got != tt.expected {
			t.Errorf("%q.WildcardCount() = %d, want %d", tt.name, got, tt.expected)
		}
	}
}

func TestName_IsValid(t *testing.T) {
	tests := []struct {
		name  Name
		valid bool
	}{
		{Name("orders:created"), true},
		{Name("orders:*"), true},
		{Name("*"), true},
		{Name("a"), true},
		{Name(""), false},
		{Name(":orders"), false},
		{Name("orders:"), false},
		{Name("orders::created"), false},
		{Name("orders created"), false},
		{Name("orders:\tcreated"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name.String(), func(t *testing.T) {
			if got := tt.name.IsValid(); got != tt.valid {
				t.Errorf("Name(%q).IsValid() = %v, want %v", tt.name, got, tt.valid)
			}
		})
	}
}

func TestName_Matches(t *testing.T) {
	tests := []struct {
		name    Name
		pattern Name
		matches bool
	}{
		// Exact
		{"a:b:c", "a:b:c", true},
		{"a:b:c", "a:b:d", false},

		// Single wildcard in the middle
		{"a:x:c", "a:*:c", true},
		{"a:x:d", "a:*:c", false},
		{"a:c", "a:*:c", false},

		// Trailing wildcard accepts deeper channels
		{"a:b:c", "a:b:*", true},
		{"a:b:c:d", "a:b:*", true},
		{"a:b", "a:b:*", false},
		{"x:y:z", "x:*", true},

		// Patterns without a trailing wildcard need equal length
		{"a:b:c", "a:b", false},
		{"a:b", "a", false},

		// Patterns longer than the channel never match
		{"a", "a:*", false},
		{"a:b", "a:b:c", false},

		// Global wildcard
		{"a", "*", true},
		{"a:b:c", "*", true},

		// Empty
		{"", "a", false},
		{"a", "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.name)+"~"+string(tt.pattern), func(t *testing.T) {
			if got := tt.name.Matches(tt.pattern); got != tt.matches {
				t.Errorf("%q.Matches(%q) = %v, want %v", tt.name, tt.pattern, got, tt.matches)
			}
		})
	}
}

func BenchmarkName_Matches_Wildcard(b *testing.B) {
	name := Name("orders:eu:refunded:partial")
	pattern := Name("orders:*")
	for i := 0; i < b.N; i++ {
		name.Matches(pattern)
	}
}
