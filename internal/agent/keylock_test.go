package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLock_SerializesSameKey(t *testing.T) {
	l := NewKeyedLock()
	unlock, err := l.Lock(context.Background(), "U1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(context.Background(), "U1")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while key held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired")
	}
}

func TestKeyedLock_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewKeyedLock()
	ua, err := l.Lock(context.Background(), "A")
	require.NoError(t, err)
	defer ua()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ub, err := l.Lock(ctx, "B")
	require.NoError(t, err)
	ub()
}

func TestKeyedLock_ContextCancelWhileWaiting(t *testing.T) {
	l := NewKeyedLock()
	unlock, err := l.Lock(context.Background(), "U1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "U1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Zero(t, l.Len(), "slots are released once nobody holds or waits")
}

func TestKeyedLock_MutualExclusion(t *testing.T) {
	l := NewKeyedLock()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "shared")
			if err != nil {
				return
			}
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Zero(t, l.Len())
}
