package backend

import (
	"sync"
	"testing"
)

func TestKeyLocksOppositeOrderNoDeadlock(t *testing.T) {
	locks := NewKeyLocks()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 200; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("a", "b")
			counter++
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := locks.Lock("b", "a", "b")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 400 {
		t.Fatalf("counter = %d", counter)
	}
	if locks.Len() != 0 {
		t.Fatalf("locks leaked: %d", locks.Len())
	}
}
