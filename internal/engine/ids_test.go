package engine

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}

	a := gen.NewID()
	b := gen.NewID()
	assert.NotEqual(t, a, b)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestPrefixGenerator_Sequential(t *testing.T) {
	gen := NewPrefixGenerator("scenario")

	assert.Equal(t, "scenario-000001", gen.NewID())
	assert.Equal(t, "scenario-000002", gen.NewID())
	assert.Equal(t, "scenario-000003", gen.NewID())
}

func TestPrefixGenerator_EmptyPrefixDefault(t *testing.T) {
	gen := NewPrefixGenerator("")
	assert.Equal(t, "id-000001", gen.NewID())
}

func TestPrefixGenerator_ThreadSafe(t *testing.T) {
	gen := NewPrefixGenerator("p")
	const numGoroutines = 20
	const callsPerGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				id := gen.NewID()
				mu.Lock()
				assert.False(t, seen[id], "duplicate id %s", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
