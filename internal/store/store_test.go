package store_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bookdrop/internal/store"
	"bookdrop/internal/testsupport"
)

func TestHandleUpsertOverwrites(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, ok, err := st.GetHandle(ctx, 42, "fb2"); err != nil || ok {
		t.Fatalf("expected empty cache, ok=%v err=%v", ok, err)
	}
	if err := st.PutHandle(ctx, 42, "fb2", "file-1"); err != nil {
		t.Fatalf("PutHandle: %v", err)
	}
	if err := st.PutHandle(ctx, 42, "fb2", "file-2"); err != nil {
		t.Fatalf("PutHandle overwrite: %v", err)
	}
	rec, ok, err := st.GetHandle(ctx, 42, "fb2")
	if err != nil || !ok {
		t.Fatalf("GetHandle: ok=%v err=%v", ok, err)
	}
	if rec.Handle != "file-2" {
		t.Fatalf("expected overwritten handle, got %q", rec.Handle)
	}
	if rec.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at to be recorded")
	}
	n, err := st.CountHandles(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected exactly one row, got %d (err=%v)", n, err)
	}
}

func TestHandleKeysAreIndependent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	_ = st.PutHandle(ctx, 1, "fb2", "a")
	_ = st.PutHandle(ctx, 1, "epub", "b")
	_ = st.PutHandle(ctx, 2, "fb2", "c")

	removed, err := st.DeleteHandle(ctx, 1, "fb2")
	if err != nil || !removed {
		t.Fatalf("DeleteHandle: removed=%v err=%v", removed, err)
	}
	removed, err = st.DeleteHandle(ctx, 1, "fb2")
	if err != nil || removed {
		t.Fatalf("second DeleteHandle should report nothing removed, removed=%v err=%v", removed, err)
	}
	if _, ok, _ := st.GetHandle(ctx, 1, "epub"); !ok {
		t.Fatal("expected other format to survive")
	}
	list, err := st.ListHandles(ctx, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected two remaining handles, got %v (err=%v)", list, err)
	}
}

func TestConcurrentHandleUpserts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.PutHandle(ctx, 9, "epub", "h"+string(rune('a'+i))); err != nil {
				t.Errorf("PutHandle: %v", err)
			}
		}()
	}
	wg.Wait()
	if n, _ := st.CountHandles(ctx); n != 1 {
		t.Fatalf("expected one row after concurrent upserts, got %d", n)
	}
}

func TestExpiryUpsertReplaces(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(30 * time.Minute)
	if err := st.SetExpiry(ctx, "book.fb2", first); err != nil {
		t.Fatalf("SetExpiry: %v", err)
	}
	if err := st.SetExpiry(ctx, "book.fb2", second); err != nil {
		t.Fatalf("SetExpiry again: %v", err)
	}
	rec, ok, err := st.GetExpiry(ctx, "book.fb2")
	if err != nil || !ok {
		t.Fatalf("GetExpiry: ok=%v err=%v", ok, err)
	}
	if !rec.ExpiresAt.Equal(second) {
		t.Fatalf("expected expiry %s, got %s", second, rec.ExpiresAt)
	}
	if rec.Expired(second) || !rec.Expired(second.Add(time.Millisecond)) {
		t.Fatal("expected record to expire strictly after its timestamp")
	}

	if err := st.DeleteExpiry(ctx, "book.fb2"); err != nil {
		t.Fatalf("DeleteExpiry: %v", err)
	}
	if _, ok, _ := st.GetExpiry(ctx, "book.fb2"); ok {
		t.Fatal("expected record deleted")
	}
}

func TestListExpiriesOrdered(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = st.SetExpiry(ctx, "late.epub", now.Add(2*time.Hour))
	_ = st.SetExpiry(ctx, "early.fb2", now.Add(time.Hour))
	list, err := st.ListExpiries(ctx)
	if err != nil {
		t.Fatalf("ListExpiries: %v", err)
	}
	if len(list) != 2 || list[0].Filename != "early.fb2" {
		t.Fatalf("unexpected order %+v", list)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookdrop.db")
	st, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if err := st.PutHandle(context.Background(), 5, "mobi", "persisted"); err != nil {
		t.Fatalf("PutHandle: %v", err)
	}
	_ = st.Close()

	reopened, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	rec, ok, err := reopened.GetHandle(context.Background(), 5, "mobi")
	if err != nil || !ok || rec.Handle != "persisted" {
		t.Fatalf("expected persisted handle, got %+v ok=%v err=%v", rec, ok, err)
	}
}
