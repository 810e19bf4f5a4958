package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMap(t *testing.T) {
	m := NewMap[string, int]()
	assert.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
}

func TestInsertAndGet(t *testing.T) {
	m := NewMap[string, int]()

	assert.True(t, m.Insert("one", 1))
	assert.True(t, m.Insert("two", 2))

	v, ok := m.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	// Non-existent key
	v, ok = m.Get("three")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestInsertKeepsExisting(t *testing.T) {
	m := NewMap[string, string]()

	assert.True(t, m.Insert("key", "old"))
	assert.False(t, m.Insert("key", "new"))

	v, _ := m.Get("key")
	assert.Equal(t, "old", v)
}

func TestCompareAndDelete(t *testing.T) {
	type entry struct{ n int }
	m := NewMap[string, *entry]()
	first := &entry{1}
	second := &entry{2}

	m.Insert("agent", first)
	assert.False(t, m.CompareAndDelete("agent", second))
	assert.True(t, m.Has("agent"))

	assert.True(t, m.CompareAndDelete("agent", first))
	assert.False(t, m.Has("agent"))

	// Stale owner must not remove a newer entry.
	m.Insert("agent", second)
	assert.False(t, m.CompareAndDelete("agent", first))
	got, ok := m.Get("agent")
	assert.True(t, ok)
	assert.Same(t, second, got)

	assert.False(t, m.CompareAndDelete("missing", first))
}

func TestRange(t *testing.T) {
	m := NewMap[string, int]()
	m.Insert("one", 1)
	m.Insert("two", 2)
	m.Insert("three", 3)

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	assert.Equal(t, 6, sum)

	count := 0
	m.Range(func(string, int) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestRangeAllowsMutation(t *testing.T) {
	m := NewMap[string, int]()
	m.Insert("a", 1)
	m.Insert("b", 2)

	m.Range(func(k string, v int) bool {
		m.CompareAndDelete(k, v)
		return true
	})
	assert.Equal(t, 0, m.Len())
}

func TestConcurrentInsertSingleWinner(t *testing.T) {
	m := NewMap[string, int]()
	var wins atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if m.Insert("agent", n) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, m.Len())
}
