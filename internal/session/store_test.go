package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"scholaris/console/internal/model"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestSessionLifecycle(t *testing.T) {
	store := NewStore(testClient(t), time.Minute)
	ctx := context.Background()
	user := model.UserProfile{ID: "u1", Email: "admin@demo.local", Role: model.RoleAdmin, SchoolID: "s1"}

	if err := store.Create(ctx, "token-1", user); err != nil {
		t.Fatalf("create error: %v", err)
	}
	got, err := store.Resolve(ctx, "token-1")
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if got.ID != "u1" || got.Role != model.RoleAdmin {
		t.Fatalf("unexpected profile: %+v", got)
	}

	if err := store.Delete(ctx, "token-1"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := store.Resolve(ctx, "token-1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	// Deleting again is a no-op.
	if err := store.Delete(ctx, "token-1"); err != nil {
		t.Fatalf("second delete error: %v", err)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	store := NewStore(testClient(t), time.Minute)
	if _, err := store.Resolve(context.Background(), "never-issued"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
