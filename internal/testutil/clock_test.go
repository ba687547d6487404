package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTickingClock_StartsAtEpoch(t *testing.T) {
	clock := NewTickingClock(epoch, time.Second)
	assert.Equal(t, epoch, clock.Current())
	assert.Equal(t, epoch, clock.Now())
}

func TestTickingClock_AdvancesOneStepPerCall(t *testing.T) {
	clock := NewTickingClock(epoch, time.Second)

	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
	assert.Equal(t, epoch.Add(2*time.Second), clock.Now())
	assert.Equal(t, epoch.Add(3*time.Second), clock.Current())
}

func TestTickingClock_ZeroStepDefaultsToOneSecond(t *testing.T) {
	clock := NewTickingClock(epoch, 0)

	clock.Now()
	assert.Equal(t, epoch.Add(time.Second), clock.Current())
}

func TestTickingClock_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	clock := NewTickingClock(epoch.In(loc), time.Second)
	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestTickingClock_Reset(t *testing.T) {
	clock := NewTickingClock(epoch, time.Minute)

	clock.Now()
	clock.Now()
	require.Equal(t, epoch.Add(2*time.Minute), clock.Current())

	clock.Reset(epoch)
	assert.Equal(t, epoch, clock.Now())
}

func TestTickingClock_ThreadSafe(t *testing.T) {
	clock := NewTickingClock(epoch, time.Second)
	const numGoroutines = 50
	const callsPerGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]time.Time, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]time.Time, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = clock.Now()
			}
		}(i)
	}

	wg.Wait()

	// Every call must have received a distinct instant.
	seen := make(map[time.Time]bool)
	for i := 0; i < numGoroutines; i++ {
		for j := 0; j < callsPerGoroutine; j++ {
			at := results[i][j]
			require.False(t, seen[at], "duplicate instant %v", at)
			seen[at] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
	assert.Equal(t, epoch.Add(time.Duration(numGoroutines*callsPerGoroutine)*time.Second), clock.Current())
}

func TestTickingClock_Deterministic(t *testing.T) {
	clock1 := NewTickingClock(epoch, time.Second)
	clock2 := NewTickingClock(epoch, time.Second)

	for i := 0; i < 100; i++ {
		assert.Equal(t, clock1.Now(), clock2.Now())
	}
}
