// Package backendtest 提供 SyncBackend 实现的通用一致性测试
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fresh_chat_server/internal/dao/backend"
	"fresh_chat_server/pkg/errorx"
)

// Factory 为每个子测试创建一个全新的存储实例
type Factory func(t *testing.T) backend.SyncBackend

// Wait 订阅推送的最长等待时间
const Wait = 3 * time.Second

// Run 执行全部一致性用例
func Run(t *testing.T, newBackend Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, b backend.SyncBackend)
	}{
		{"UpsertMergesFields", testUpsertMerges},
		{"GetMissingReturnsNil", testGetMissing},
		{"ListKeepsInsertionOrder", testListOrder},
		{"AtomicIncrementConcurrent", testIncrementConcurrent},
		{"ApplyIsAllOrNothing", testApplyAllOrNothing},
		{"ApplyConcurrentUnread", testApplyConcurrent},
		{"ApplyRejectsNonIntegerIncrement", testApplyNonInteger},
		{"ApplyExpectGuardsBatch", testApplyExpect},
		{"ApplyExpectConcurrentCompareAndSet", testApplyExpectConcurrent},
		{"RunTransactionNoLostUpdates", testTransactionNoLostUpdates},
		{"RunTransactionPropagatesError", testTransactionError},
		{"NestedFieldsDecode", testNestedDecode},
		{"DeleteRemovesRecord", testDelete},
		{"SubscribeQuerySnapshots", testSubscribeQuery},
		{"SubscribeDocument", testSubscribeDocument},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(t)
			t.Cleanup(func() { _ = b.Close() })
			tc.fn(t, b)
		})
	}
}

func testUpsertMerges(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	if err := b.UpsertRecord(ctx, "users", "U1", backend.Fields{"name": "amy", "hearts": 3}); err != nil {
		t.Fatal(err)
	}
	if err := b.UpsertRecord(ctx, "users", "U1", backend.Fields{"bio": "hi"}); err != nil {
		t.Fatal(err)
	}
	doc, err := b.Get(ctx, "users", "U1")
	if err != nil || doc == nil {
		t.Fatalf("get: %v %v", doc, err)
	}
	if doc.String("name") != "amy" || doc.String("bio") != "hi" || doc.Int("hearts") != 3 {
		t.Fatalf("fields not merged: %v", doc.Fields)
	}
}

func testGetMissing(t *testing.T, b backend.SyncBackend) {
	doc, err := b.Get(context.Background(), "users", "nobody")
	if err != nil || doc != nil {
		t.Fatalf("expected nil doc, got %v %v", doc, err)
	}
}

func testListOrder(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	keys := []string{"m3", "m1", "m2"}
	for i, k := range keys {
		if err := b.UpsertRecord(ctx, "msgs", k, backend.Fields{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	// 再次写入不改变顺序
	if err := b.UpsertRecord(ctx, "msgs", "m3", backend.Fields{"edited": true}); err != nil {
		t.Fatal(err)
	}
	docs, err := b.List(ctx, "msgs", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs", len(docs))
	}
	for i, k := range keys {
		if docs[i].Key != k {
			t.Fatalf("position %d: got %s want %s", i, docs[i].Key, k)
		}
	}
	filtered, err := b.List(ctx, "msgs", func(d *backend.Document) bool { return d.Int("n") > 0 })
	if err != nil || len(filtered) != 2 {
		t.Fatalf("filter: %v %v", filtered, err)
	}
}

func testIncrementConcurrent(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.AtomicIncrement(ctx, "users", "U1", "hearts", 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	doc, err := b.Get(ctx, "users", "U1")
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Int("hearts"); got != n {
		t.Fatalf("hearts = %d, want %d", got, n)
	}
	next, err := b.AtomicIncrement(ctx, "users", "U1", "hearts", -5)
	if err != nil || next != n-5 {
		t.Fatalf("decrement: %d %v", next, err)
	}
}

func testApplyAllOrNothing(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	err := b.Apply(ctx,
		backend.Upsert("chats", "A_B", backend.Fields{"lastUpdated": 1}),
		backend.Increment("chats", "A_B", "", 1),
	)
	if !errorx.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	doc, err := b.Get(ctx, "chats", "A_B")
	if err != nil || doc != nil {
		t.Fatalf("partial write observed: %v %v", doc, err)
	}
}

func testApplyConcurrent(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- b.Apply(ctx,
				backend.Upsert("chats/A_B/messages", fmt.Sprintf("m%03d", i), backend.Fields{"senderId": "A", "text": "hi"}),
				backend.Upsert("chats", "A_B", backend.Fields{"lastUpdated": i}),
				backend.Increment("chats", "A_B", "unread.B", 1),
			)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	doc, err := b.Get(ctx, "chats", "A_B")
	if err != nil {
		t.Fatal(err)
	}
	if got := doc.Int("unread.B"); got != n {
		t.Fatalf("unread = %d, want %d", got, n)
	}
	msgs, err := b.List(ctx, "chats/A_B/messages", nil)
	if err != nil || len(msgs) != n {
		t.Fatalf("messages = %d (%v)", len(msgs), err)
	}
}

func testApplyNonInteger(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	if err := b.UpsertRecord(ctx, "chats", "A_B", backend.Fields{"unread.B": "many"}); err != nil {
		t.Fatal(err)
	}
	err := b.Apply(ctx,
		backend.Upsert("chats/A_B/messages", "m1", backend.Fields{"text": "hi"}),
		backend.Increment("chats", "A_B", "unread.B", 1),
	)
	if !errorx.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if doc, _ := b.Get(ctx, "chats/A_B/messages", "m1"); doc != nil {
		t.Fatal("batch partially applied")
	}
}

func testApplyExpect(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	// 缺省字段按 0 比较
	if err := b.Apply(ctx,
		backend.Expect("chats", "A_B", "unread.B", 0),
		backend.Upsert("chats", "A_B", backend.Fields{"lastRead.B": 1}),
	); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AtomicIncrement(ctx, "chats", "A_B", "unread.B", 2); err != nil {
		t.Fatal(err)
	}

	err := b.Apply(ctx,
		backend.Expect("chats", "A_B", "unread.B", 0),
		backend.Upsert("chats", "A_B", backend.Fields{"unread.B": 0, "lastRead.B": 2}),
		backend.Upsert("chats/A_B/messages", "m1", backend.Fields{"isRead": true}),
	)
	if !errorx.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	doc, err := b.Get(ctx, "chats", "A_B")
	if err != nil || doc == nil {
		t.Fatalf("get: %v %v", doc, err)
	}
	if doc.Int("unread.B") != 2 || doc.Int("lastRead.B") != 1 {
		t.Fatalf("rejected batch wrote fields: %v", doc.Fields)
	}
	if m, _ := b.Get(ctx, "chats/A_B/messages", "m1"); m != nil {
		t.Fatal("rejected batch wrote a message")
	}

	if err := b.Apply(ctx,
		backend.Expect("chats", "A_B", "unread.B", 2),
		backend.Upsert("chats", "A_B", backend.Fields{"unread.B": 0}),
	); err != nil {
		t.Fatal(err)
	}
	doc, _ = b.Get(ctx, "chats", "A_B")
	if doc.Int("unread.B") != 0 {
		t.Fatalf("unread = %d", doc.Int("unread.B"))
	}
}

// 以前置条件实现的比较并交换，成功次数必须等于最终计数
func testApplyExpectConcurrent(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 500; attempt++ {
				doc, err := b.Get(ctx, "counters", "c1")
				if err != nil {
					errs <- err
					return
				}
				var cur int64
				if doc != nil {
					cur = doc.Int("n")
				}
				err = b.Apply(ctx,
					backend.Expect("counters", "c1", "n", cur),
					backend.Upsert("counters", "c1", backend.Fields{"n": cur + 1}),
					backend.Increment("counters", "c1", "wins", 1),
				)
				if errorx.IsConflict(err) {
					continue
				}
				errs <- err
				return
			}
			errs <- errors.New("too many conflicts")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	doc, err := b.Get(ctx, "counters", "c1")
	if err != nil || doc == nil {
		t.Fatalf("get: %v %v", doc, err)
	}
	if doc.Int("n") != n || doc.Int("wins") != n {
		t.Fatalf("n = %d, wins = %d, want %d", doc.Int("n"), doc.Int("wins"), n)
	}
}

func testTransactionNoLostUpdates(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.RunTransaction(ctx, "users", "U1", func(cur *backend.Document) (backend.Fields, error) {
				var xp int64
				if cur != nil {
					xp = cur.Int("xp")
				}
				return backend.Fields{"xp": xp + 10}, nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	doc, _ := b.Get(ctx, "users", "U1")
	if doc == nil || doc.Int("xp") != n*10 {
		t.Fatalf("xp lost updates: %v", doc)
	}
}

func testTransactionError(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	sentinel := errorx.New(errorx.CodeInvalidState, "already friends")
	err := b.RunTransaction(ctx, "relationships", "A_B", func(cur *backend.Document) (backend.Fields, error) {
		return nil, sentinel
	})
	if !errors.Is(err, sentinel) || !errorx.IsInvalidState(err) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	// 空 patch 不创建记录
	if err := b.RunTransaction(ctx, "relationships", "A_B", func(cur *backend.Document) (backend.Fields, error) {
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	if doc, _ := b.Get(ctx, "relationships", "A_B"); doc != nil {
		t.Fatalf("unexpected record %v", doc.Fields)
	}
}

func testNestedDecode(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	if err := b.UpsertRecord(ctx, "chats", "A_B", backend.Fields{
		"participants": []string{"A", "B"},
		"typing.A":     true,
		"typing.B":     false,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AtomicIncrement(ctx, "chats", "A_B", "unread.B", 2); err != nil {
		t.Fatal(err)
	}
	doc, err := b.Get(ctx, "chats", "A_B")
	if err != nil {
		t.Fatal(err)
	}
	var thread struct {
		Participants []string         `json:"participants"`
		Unread       map[string]int64 `json:"unread"`
		Typing       map[string]bool  `json:"typing"`
	}
	if err := doc.Decode(&thread); err != nil {
		t.Fatal(err)
	}
	if len(thread.Participants) != 2 || thread.Unread["B"] != 2 || !thread.Typing["A"] || thread.Typing["B"] {
		t.Fatalf("decoded %+v", thread)
	}
}

func testDelete(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	if err := b.UpsertRecord(ctx, "users", "U1", backend.Fields{"name": "x"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Delete(ctx, "users", "U1"); err != nil {
		t.Fatal(err)
	}
	if doc, err := b.Get(ctx, "users", "U1"); err != nil || doc != nil {
		t.Fatalf("still present: %v %v", doc, err)
	}
	if docs, _ := b.List(ctx, "users", nil); len(docs) != 0 {
		t.Fatalf("list still has %d", len(docs))
	}
}

func testSubscribeQuery(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	if err := b.UpsertRecord(ctx, "relationships", "A_B", backend.Fields{"users": []string{"A", "B"}, "status": "PENDING"}); err != nil {
		t.Fatal(err)
	}
	snapshots := make(chan []backend.Document, 16)
	unsub := b.SubscribeQuery("relationships", func(d *backend.Document) bool {
		for _, u := range d.Strings("users") {
			if u == "A" {
				return true
			}
		}
		return false
	}, func(docs []backend.Document) { snapshots <- docs })
	defer unsub()

	first := waitSnapshot(t, snapshots, func(docs []backend.Document) bool { return len(docs) == 1 })
	if first[0].String("status") != "PENDING" {
		t.Fatalf("initial snapshot %v", first[0].Fields)
	}

	if err := b.UpsertRecord(ctx, "relationships", "A_B", backend.Fields{"status": "FRIEND"}); err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, snapshots, func(docs []backend.Document) bool {
		return len(docs) == 1 && docs[0].String("status") == "FRIEND"
	})

	if err := b.UpsertRecord(ctx, "relationships", "A_C", backend.Fields{"users": []string{"A", "C"}, "status": "PENDING"}); err != nil {
		t.Fatal(err)
	}
	waitSnapshot(t, snapshots, func(docs []backend.Document) bool { return len(docs) == 2 })
}

func testSubscribeDocument(t *testing.T, b backend.SyncBackend) {
	ctx := context.Background()
	snapshots := make(chan *backend.Document, 16)
	unsub := b.SubscribeDocument("chats", "A_B", func(d *backend.Document) { snapshots <- d })

	select {
	case d := <-snapshots:
		if d != nil {
			t.Fatalf("expected nil initial snapshot, got %v", d.Fields)
		}
	case <-time.After(Wait):
		t.Fatal("no initial snapshot")
	}

	if err := b.UpsertRecord(ctx, "chats", "A_B", backend.Fields{"typing.A": true}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(Wait)
	for {
		select {
		case d := <-snapshots:
			if d != nil && string(d.Fields["typing.A"]) == "true" {
				unsub()
				unsub()
				return
			}
		case <-deadline:
			t.Fatal("no update snapshot")
		}
	}
}

func waitSnapshot(t *testing.T, ch <-chan []backend.Document, ok func([]backend.Document) bool) []backend.Document {
	t.Helper()
	deadline := time.After(Wait)
	for {
		select {
		case docs := <-ch:
			if ok(docs) {
				return docs
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return nil
		}
	}
}
