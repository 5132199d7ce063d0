package staging_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bookdrop/internal/services"
	"bookdrop/internal/staging"
	"bookdrop/internal/testsupport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*staging.Store, *fakeClock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := staging.NewFromConfig(cfg, st, staging.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	return s, clock
}

func TestStageWritesFileAndRecord(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()

	file, err := s.Stage(ctx, "Tolstoj_L_N_-_Vojna_i_mir.fb2", []byte("book-bytes"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if file.Size != int64(len("book-bytes")) {
		t.Fatalf("unexpected size %d", file.Size)
	}
	if !file.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("expected expiry now+ttl, got %s", file.ExpiresAt)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(), file.Name))
	if err != nil || string(data) != "book-bytes" {
		t.Fatalf("unexpected staged contents %q err=%v", data, err)
	}

	got, ok, err := s.Lookup(ctx, file.Name)
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if !got.ExpiresAt.Equal(file.ExpiresAt) {
		t.Fatalf("record mismatch: %s vs %s", got.ExpiresAt, file.ExpiresAt)
	}
}

func TestStageTwiceTouchesInsteadOfRewriting(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()
	name := "book.epub"

	if _, err := s.Stage(ctx, name, []byte("first")); err != nil {
		t.Fatalf("first Stage: %v", err)
	}
	clock.Advance(20 * time.Minute)
	second, err := s.Stage(ctx, name, []byte("second-and-longer"))
	if err != nil {
		t.Fatalf("second Stage: %v", err)
	}

	want := clock.Now().Add(time.Hour)
	if !second.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry reset to second call's now+ttl %s, got %s", want, second.ExpiresAt)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(), name))
	if err != nil || string(data) != "first" {
		t.Fatalf("expected original contents kept, got %q err=%v", data, err)
	}
	files, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected exactly one staged file, got %+v", files)
	}
}

func TestTouchCreatesMissingRecordAndReportsMissingFile(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()

	testsupport.WriteFile(t, filepath.Join(s.Dir(), "orphan.pdf"), 10)
	file, ok, err := s.Touch(ctx, "orphan.pdf")
	if err != nil || !ok {
		t.Fatalf("Touch existing: ok=%v err=%v", ok, err)
	}
	if !file.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", file.ExpiresAt)
	}

	_, ok, err = s.Touch(ctx, "gone.pdf")
	if err != nil {
		t.Fatalf("Touch missing: %v", err)
	}
	if ok {
		t.Fatal("expected Touch to report a missing file")
	}
}

func TestStageRejectsUnsafeNames(t *testing.T) {
	s, _ := newStore(t)
	for _, name := range []string{"", "..", "../escape.fb2", "dir/file.fb2", ".hidden", "download.php"} {
		_, err := s.Stage(context.Background(), name, []byte("x"))
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", name, err)
		}
	}
}

func TestConcurrentStageProducesOneFile(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Stage(ctx, "same.fb2", []byte("payload")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Stage: %v", err)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var visible int
	for _, e := range entries {
		if e.Name() == staging.LockFileName {
			continue
		}
		if staging.IsPartial(e.Name()) {
			t.Fatalf("leftover partial file %s", e.Name())
		}
		visible++
	}
	if visible != 1 {
		t.Fatalf("expected one staged file, found %d", visible)
	}
}

func TestListSkipsHiddenAndReserved(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if _, err := s.Stage(ctx, "a.fb2", []byte("a")); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	testsupport.WriteFile(t, filepath.Join(s.Dir(), "download.php"), 5)
	testsupport.WriteFile(t, filepath.Join(s.Dir(), ".a.fb2.123.partial"), 5)
	testsupport.WriteFile(t, filepath.Join(s.Dir(), "stray.epub"), 5)

	files, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 || files[0].Name != "a.fb2" || files[1].Name != "stray.epub" {
		t.Fatalf("unexpected listing %+v", files)
	}
	if !files[0].HasRecord() || files[1].HasRecord() {
		t.Fatalf("expected only a.fb2 to carry a record: %+v", files)
	}
}

func TestRemoveDeletesFileAndRecord(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	if _, err := s.Stage(ctx, "x.mobi", []byte("x")); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := s.Remove(ctx, "x.mobi"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, err := s.Lookup(ctx, "x.mobi"); err != nil || ok {
		t.Fatalf("expected file gone, ok=%v err=%v", ok, err)
	}
	if err := s.Remove(ctx, "x.mobi"); err != nil {
		t.Fatalf("second Remove should be a no-op, got %v", err)
	}
}
