package channel

import (
	"sort"
	"sync"
)

// Matcher resolves a concrete channel to the indexed patterns that match it.
// It stores patterns in a trie keyed by segment and is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	root  *trieNode
	count int
}

type trieNode struct {
	children map[string]*trieNode
	patterns []Name // Patterns that terminate at this node
}

func newTrieNode() *trieNode {
	return &trieNode{
		children: make(map[string]*trieNode),
	}
}

// NewMatcher creates a new channel matcher.
func NewMatcher() *Matcher {
	return &Matcher{
		root: newTrieNode(),
	}
}

// Add adds a pattern to the matcher. Adding an existing pattern is a no-op.
func (m *Matcher) Add(pattern Name) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	for _, seg := range pattern.Segments() {
		if node.children[seg] == nil {
			node.children[seg] = newTrieNode()
		}
		node = node.children[seg]
	}

	for _, p := range node.patterns {
		if p == pattern {
			return
		}
	}
	node.patterns = append(node.patterns, pattern)
	m.count++
}

// Remove removes a pattern from the matcher and prunes empty branches.
func (m *Matcher) Remove(pattern Name) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.remove(m.root, pattern, pattern.Segments()) {
		m.count--
	}
}

// remove deletes pattern below node and reports whether it was found.
func (m *Matcher) remove(node *trieNode, pattern Name, segments []string) bool {
	if len(segments) == 0 {
		for i, p := range node.patterns {
			if p == pattern {
				node.patterns = append(node.patterns[:i], node.patterns[i+1:]...)
				return true
			}
		}
		return false
	}

	child := node.children[segments[0]]
	if child == nil {
		return false
	}
	found := m.remove(child, pattern, segments[1:])
	if found && len(child.patterns) == 0 && len(child.children) == 0 {
		delete(node.children, segments[0])
	}
	return found
}

// Match returns every pattern matching the concrete channel, most specific
// first.
func (m *Matcher) Match(concrete Name) []Name {
	if concrete == "" {
		return nil
	}

	m.mu.RLock()
	var matches []Name
	m.matchRecursive(m.root, concrete.Segments(), 0, false, &matches)
	m.mu.RUnlock()

	SortBySpecificity(concrete, matches)
	return matches
}

// matchRecursive walks the exact and wildcard edges for each segment. A node
// reached through a wildcard edge also matches every deeper segment.
func (m *Matcher) matchRecursive(node *trieNode, segments []string, depth int, viaWildcard bool, matches *[]Name) {
	if depth == len(segments) {
		*matches = append(*matches, node.patterns...)
		return
	}

	if viaWildcard {
		*matches = append(*matches, node.patterns...)
	}

	if child := node.children[segments[depth]]; child != nil {
		m.matchRecursive(child, segments, depth+1, segments[depth] == Wildcard, matches)
	}

	if segments[depth] != Wildcard {
		if child := node.children[Wildcard]; child != nil {
			m.matchRecursive(child, segments, depth+1, true, matches)
		}
	}
}

// SortBySpecificity orders names for dispatch against concrete: the concrete
// name first, then longer names, then names with fewer wildcards, then
// lexically.
func SortBySpecificity(concrete Name, names []Name) {
	sort.SliceStable(names, func(i, j int) bool {
		return moreSpecific(concrete, names[i], names[j])
	})
}

func moreSpecific(concrete, a, b Name) bool {
	if a == concrete || b == concrete {
		return a == concrete && b != concrete
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	if wa, wb := a.WildcardCount(), b.WildcardCount(); wa != wb {
		return wa < wb
	}
	return a < b
}

// Patterns returns all patterns in the matcher in lexical order.
func (m *Matcher) Patterns() []Name {
	m.mu.RLock()
	defer m.mu.RUnlock()

	patterns := make([]Name, 0, m.count)
	collectPatterns(m.root, &patterns)
	sort.Slice(patterns, func(i, j int) bool { return patterns[i] < patterns[j] })
	return patterns
}

func collectPatterns(node *trieNode, patterns *[]Name) {
	*patterns = append(*patterns, node.patterns...)
	for _, child := range node.children {
		collectPatterns(child, patterns)
	}
}

// Count returns the number of patterns in the matcher.
func (m *Matcher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Clear removes all patterns from the matcher.
func (m *Matcher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.root = newTrieNode()
	m.count = 0
}
