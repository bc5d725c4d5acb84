package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockedWith(t *testing.T) {
	l := New(0)
	l.With(func(v *int) { *v++ })
	l.With(func(v *int) { *v += 41 })

	v, release := l.Lock()
	defer release()
	assert.Equal(t, 42, *v)
}

func TestLockedReleaseOnPanic(t *testing.T) {
	l := New([]int{1, 2, 3})

	func() {
		defer func() { recover() }()
		l.With(func(v *[]int) {
			panic("boom")
		})
	}()

	// the guard must have been released despite the panic
	done := make(chan struct{})
	go func() {
		l.With(func(v *[]int) { *v = append(*v, 4) })
		close(done)
	}()
	<-done

	v, release := l.Lock()
	defer release()
	assert.Equal(t, []int{1, 2, 3, 4}, *v)
}

func TestLockedConcurrentAccess(t *testing.T) {
	l := New(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.With(func(v *int) { *v++ })
		}()
	}
	wg.Wait()

	v, release := l.Lock()
	defer release()
	assert.Equal(t, 100, *v)
}
