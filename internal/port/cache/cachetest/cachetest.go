// Package cachetest holds the behaviour every cache.Cache implementation
// must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/port/cache"
)

// Run exercises c. settle, if non-nil, is called after writes for caches
// that apply them asynchronously.
func Run(t *testing.T, c cache.Cache, settle func()) {
	t.Helper()
	ctx := context.Background()
	if settle == nil {
		settle = func() {}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "task.1", []byte(`{"id":1}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		settle()
		val, found, err := c.Get(ctx, "task.1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected hit after Set")
		}
		if string(val) != `{"id":1}` {
			t.Fatalf("value = %s", val)
		}
	})

	t.Run("Miss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "task.404")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for absent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "task.2", []byte(`{"id":2}`), time.Minute)
		settle()
		if err := c.Delete(ctx, "task.2"); err != nil {
			t.Fatal(err)
		}
		settle()
		if _, found, err := c.Get(ctx, "task.2"); err != nil || found {
			t.Fatalf("after Delete: found=%v err=%v", found, err)
		}
	})

	t.Run("DeleteAbsent", func(t *testing.T) {
		if err := c.Delete(ctx, "task.405"); err != nil {
			t.Fatalf("Delete of absent key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "task.3", []byte("v1"), time.Minute)
		settle()
		_ = c.Set(ctx, "task.3", []byte("v2"), time.Minute)
		settle()
		val, found, err := c.Get(ctx, "task.3")
		if err != nil || !found {
			t.Fatalf("Get: found=%v err=%v", found, err)
		}
		if string(val) != "v2" {
			t.Fatalf("value = %s, want v2", val)
		}
	})
}
