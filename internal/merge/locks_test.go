package merge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_MutualExclusion(t *testing.T) {
	km := newKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("CVE-2024-0001")
			counter++
			km.Unlock("CVE-2024-0001")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedMutex_ReclaimsIdleLocks(t *testing.T) {
	km := newKeyedMutex()
	km.Lock("a")
	km.Unlock("a")
	km.Lock("b")
	km.Unlock("b")

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks, "released locks are removed from the arena")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := newKeyedMutex()
	km.Lock("a")

	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()

	<-done // must not deadlock while "a" is held
	km.Unlock("a")
}
