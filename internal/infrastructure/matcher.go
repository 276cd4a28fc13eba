package infrastructure

import (
	"regexp"
	"sync"
)

// RegexMatcher implements domain.QueryMatcher on top of the standard regexp
// engine. Compiled patterns are memoized; an invalid pattern is memoized as
// nil so every later call fails closed without recompiling.
type RegexMatcher struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func NewRegexMatcher() *RegexMatcher {
	return &RegexMatcher{
		compiled: make(map[string]*regexp.Regexp),
	}
}

// Matches reports whether text matches pattern. It never panics and returns
// false for every input when the pattern does not compile.
func (m *RegexMatcher) Matches(pattern, text string) bool {
	m.mu.RLock()
	re, seen := m.compiled[pattern]
	m.mu.RUnlock()

	if !seen {
		re, _ = regexp.Compile("(?i)" + pattern)
		m.mu.Lock()
		m.compiled[pattern] = re
		m.mu.Unlock()
	}

	if re == nil {
		return false
	}
	return re.MatchString(text)
}
