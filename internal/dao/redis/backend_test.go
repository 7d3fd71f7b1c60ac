package redis

import (
	"context"
	"testing"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/internal/dao/backend/backendtest"
	"fresh_chat_server/pkg/errorx"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b, err := NewBackend(context.Background(), client, 100)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	return b
}

func TestRedisBackendConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.SyncBackend {
		return newTestBackend(t)
	})
}

func TestRedisBackendKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b, err := NewBackend(context.Background(), client, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := b.UpsertRecord(ctx, "users", "U1", backend.Fields{"name": "amy"}); err != nil {
		t.Fatal(err)
	}
	if got := mr.HGet("doc:users:U1", "name"); got != `"amy"` {
		t.Fatalf("stored value %q", got)
	}
	if members, _ := mr.ZMembers("idx:users"); len(members) != 1 || members[0] != "U1" {
		t.Fatalf("index members %v", members)
	}
}

func TestRedisBackendIncrementNonInteger(t *testing.T) {
	b := newTestBackend(t)
	defer b.Close()
	ctx := context.Background()
	if err := b.UpsertRecord(ctx, "users", "U1", backend.Fields{"name": "amy"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AtomicIncrement(ctx, "users", "U1", "name", 1); !errorx.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	err := b.Apply(ctx,
		backend.Upsert("users", "U1", backend.Fields{"bio": "changed"}),
		backend.Increment("users", "U1", "name", 1),
	)
	if !errorx.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	doc, _ := b.Get(ctx, "users", "U1")
	if doc.Has("bio") {
		t.Fatal("batch partially applied")
	}
}

func TestRedisBackendCrossInstanceNotify(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	writer, err := NewBackend(ctx, redis.NewClient(&redis.Options{Addr: mr.Addr()}), 3)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()
	reader, err := NewBackend(ctx, redis.NewClient(&redis.Options{Addr: mr.Addr()}), 3)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	got := make(chan *backend.Document, 8)
	unsub := reader.SubscribeDocument("users", "U1", func(d *backend.Document) { got <- d })
	defer unsub()
	<-got

	if err := writer.UpsertRecord(ctx, "users", "U1", backend.Fields{"hearts": 1}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(backendtest.Wait)
	for {
		select {
		case d := <-got:
			if d != nil && d.Int("hearts") == 1 {
				return
			}
		case <-deadline:
			t.Fatal("change from another instance was not observed")
		}
	}
}

func TestRedisBackendUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBackend(context.Background(), redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), 3)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	mr.Close()
	if _, err := b.Get(context.Background(), "users", "U1"); !errorx.IsBackendUnavailable(err) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}
