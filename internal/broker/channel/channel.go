package channel

import "strings"

// Name is a colon-delimited channel name or pattern.
// Examples: "orders:created", "orders:*", "*"
type Name string

const (
	// Wildcard matches exactly one segment, or everything that follows when
	// it terminates a pattern.
	Wildcard = "*"

	// Separator is the character used to separate channel segments.
	Separator = ":"
)

// String returns the channel name as a string.
func (n Name) String() string {
	return string(n)
}

// Segments returns the name split by the separator.
func (n Name) Segments() []string {
	if n == "" {
		return nil
	}
	return strings.Split(string(n), Separator)
}

// WildcardCount returns how many segments are the wildcard.
func (n Name) WildcardCount() int {
	count := 0
	for _, seg := range n.Segments() {
		if seg == Wildcard {
			count++
		}
	}
	return count
}

// IsValid returns true if the name is usable as a channel.
// A valid name:
//   - Is not empty
//   - Does not start or end with a separator
//   - Does not contain empty segments
//   - Does not contain whitespace
func (n Name) IsValid() bool {
	s := string(n)
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	for _, seg := range n.Segments() {
		if seg == "" {
			return false
		}
	}
	return true
}

// Matches returns true if this concrete name is matched by pattern.
//
// Segments are compared from the left. Each pattern segment must equal the
// concrete segment or be the wildcard. A pattern shorter than the name
// matches only when its last segment is the wildcard.
func (n Name) Matches(pattern Name) bool {
	if n == "" || pattern == "" {
		return false
	}
	if n == pattern {
		return true
	}
	return matchSegments(n.Segments(), pattern.Segments())
}

func matchSegments(name, pattern []string) bool {
	if len(pattern) > len(name) {
		return false
	}
	for i, seg := range pattern {
		if seg != Wildcard && seg != name[i] {
			return false
		}
	}
	if len(pattern) < len(name) {
		return pattern[len(pattern)-1] == Wildcard
	}
	return true
}
