package infrastructure

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegexMatcherCaseInsensitive(t *testing.T) {
	m := NewRegexMatcher()

	assert.True(t, m.Matches("acme", "Acme running shoes"))
	assert.True(t, m.Matches("acme|contoso", "best CONTOSO deals"))
	assert.False(t, m.Matches("acme", "running shoes"))
}

func TestRegexMatcherInvalidPatternFailsClosed(t *testing.T) {
	m := NewRegexMatcher()

	for i := 0; i < 3; i++ {
		assert.False(t, m.Matches("(unclosed", "anything"))
		assert.False(t, m.Matches("(unclosed", "(unclosed"))
	}
}

func TestRegexMatcherMemoizes(t *testing.T) {
	m := NewRegexMatcher()

	m.Matches("acme", "acme")
	m.Matches("(bad", "x")

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Len(t, m.compiled, 2)
	assert.NotNil(t, m.compiled["acme"])
	assert.Nil(t, m.compiled["(bad"])
}

func TestRegexMatcherConcurrentUse(t *testing.T) {
	m := NewRegexMatcher()
	patterns := []string{"acme", "(bad", "contoso", "^brand"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Matches(patterns[(i+j)%len(patterns)], "acme brand query")
			}
		}(i)
	}
	wg.Wait()
}
