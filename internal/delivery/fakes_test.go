package delivery_test

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"bookdrop/internal/books"
	"bookdrop/internal/delivery"
	"bookdrop/internal/mirror"
	"bookdrop/internal/services"
)

type fakeCatalog struct {
	books map[int64]books.Book
}

func (f *fakeCatalog) Book(_ context.Context, id int64) (*books.Book, error) {
	b, ok := f.books[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "book", fmt.Sprintf("book %d", id), nil)
	}
	return &b, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeFetcher) set(id int64, format books.Format, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	f.data[fmt.Sprintf("%d/%s", id, format)] = data
}

func (f *fakeFetcher) Fetch(ctx context.Context, id int64, format books.Format) (*mirror.Artifact, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[fmt.Sprintf("%d/%s", id, format)]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "mirror", "fetch", "", nil)
	}
	return &mirror.Artifact{Data: data, ContentType: "application/octet-stream", Mirror: "fake"}, nil
}

type sentDoc struct {
	To     delivery.Recipient
	Handle string
	Doc    delivery.Document
	Size   int
}

type fakeSurface struct {
	mu            sync.Mutex
	rejectHandles map[string]bool
	rejectUploads bool
	resendErr     error
	linkErr       error
	next          int
	resends       []sentDoc
	uploads       []sentDoc
	links         []delivery.Link
	linkTargets   []delivery.Recipient
}

func (f *fakeSurface) Resend(_ context.Context, to delivery.Recipient, handle string, doc delivery.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resendErr != nil {
		return f.resendErr
	}
	if f.rejectHandles[handle] {
		return services.Wrap(services.ErrDeliveryRejected, "surface", "resend", "wrong file identifier", nil)
	}
	f.resends = append(f.resends, sentDoc{To: to, Handle: handle, Doc: doc})
	return nil
}

func (f *fakeSurface) Upload(_ context.Context, to delivery.Recipient, data []byte, doc delivery.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectUploads {
		return "", services.Wrap(services.ErrDeliveryRejected, "surface", "upload", "request entity too large", nil)
	}
	f.next++
	handle := fmt.Sprintf("H-%d", f.next)
	f.uploads = append(f.uploads, sentDoc{To: to, Handle: handle, Doc: doc, Size: len(data)})
	return handle, nil
}

func (f *fakeSurface) SendLink(_ context.Context, to delivery.Recipient, link delivery.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return f.linkErr
	}
	f.links = append(f.links, link)
	f.linkTargets = append(f.linkTargets, to)
	return nil
}

func zipped(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range members {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}
