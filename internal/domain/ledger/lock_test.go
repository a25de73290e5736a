package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerfbot-server-go/internal/domain/ledger/store"
)

func (l *Ledger) lockCount() int {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	return len(l.locks)
}

func TestIdentityLocksArePruned(t *testing.T) {
	l := New(store.NewMemory(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r, err := l.AuthorizeAndReserve(ctx, id, 0, 1)
			if !assert.NoError(t, err) {
				return
			}
			_, err = l.Settle(ctx, r, 1)
			assert.NoError(t, err)
			_, err = l.GrantBonus(ctx, id, 1)
			assert.NoError(t, err)
		}(fmt.Sprintf("viewer-%d", i%10))
	}
	wg.Wait()

	assert.Zero(t, l.lockCount())
}

func TestIdentityLockSerializesOneIdentity(t *testing.T) {
	l := New(store.NewMemory(), nil)

	unlock := l.lockIdentity("viewer")
	acquired := make(chan struct{})
	go func() {
		release := l.lockIdentity("viewer")
		close(acquired)
		release()
	}()

	// 其他身份不受影响
	other := l.lockIdentity("someone-else")
	other()

	select {
	case <-acquired:
		t.Fatal("second holder entered while the lock was held")
	case <-time.After(20 * time.Millisecond):
	}
	require.Equal(t, 1, l.lockCount())

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	require.Eventually(t, func() bool { return l.lockCount() == 0 }, time.Second, time.Millisecond)
}
