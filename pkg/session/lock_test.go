package session

import (
	"context"
	"fmt"
	"testing"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		key := Key("page", fmt.Sprintf("sub-%d", i))
		_ = mgr.WithLock(ctx, key, func(context.Context) error { return nil })
	}

	if n := mgr.active(); n != 0 {
		t.Fatalf("Memory Leak Detected: %d locks remained in memory after release", n)
	}
}
