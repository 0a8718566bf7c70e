package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeS3 serves the handful of S3 calls MinioStore makes.
type fakeS3 struct {
	keys      []string
	paginate  bool
	denyWrite bool

	mu      sync.Mutex
	deleted []string

	nextPage    chan struct{}
	pageAborted chan struct{}
	pageOnce    sync.Once
	abortOnce   sync.Once
}

func newFakeS3(keys ...string) *fakeS3 {
	return &fakeS3{keys: keys, nextPage: make(chan struct{}), pageAborted: make(chan struct{})}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case r.Method == http.MethodGet && q.Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && q.Get("list-type") == "2":
		f.list(w, r)
	case r.Method == http.MethodDelete:
		f.remove(w, r)
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.String(), http.StatusBadRequest)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	if f.paginate && r.URL.Query().Get("continuation-token") != "" {
		f.pageOnce.Do(func() { close(f.nextPage) })
		select {
		case <-r.Context().Done():
			f.abortOnce.Do(func() { close(f.pageAborted) })
		case <-time.After(5 * time.Second):
		}
		return
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>reports</Name>`)
	fmt.Fprintf(&b, "<KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys>", len(f.keys))
	if f.paginate {
		b.WriteString("<IsTruncated>true</IsTruncated><NextContinuationToken>page-2</NextContinuationToken>")
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, key := range f.keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>1</Size></Contents>", key)
	}
	b.WriteString("</ListBucketResult>")
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, b.String())
}

func (f *fakeS3) remove(w http.ResponseWriter, r *http.Request) {
	if f.denyWrite {
		if f.paginate {
			select {
			case <-f.nextPage:
			case <-time.After(2 * time.Second):
			}
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied.</Message></Error>`)
		return
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, strings.TrimPrefix(r.URL.Path, "/reports/"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func newTestMinioStore(t *testing.T, f *fakeS3) *MinioStore {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	m, err := NewMinioStore(context.Background(), MinioConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "reports",
	})
	if err != nil {
		t.Fatalf("new minio store: %v", err)
	}
	return m
}

func TestMinioDeletePrefixRemovesListedObjects(t *testing.T) {
	f := newFakeS3("reports/r1/a.pdf", "reports/r1/b.pdf")
	m := newTestMinioStore(t, f)

	if err := m.DeletePrefix(context.Background(), "reports/r1/"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deleted) != 2 || f.deleted[0] != "reports/r1/a.pdf" || f.deleted[1] != "reports/r1/b.pdf" {
		t.Fatalf("unexpected deletes: %v", f.deleted)
	}
}

func TestMinioDeletePrefixStopsListingOnError(t *testing.T) {
	f := newFakeS3("reports/r1/a.pdf")
	f.paginate = true
	f.denyWrite = true
	m := newTestMinioStore(t, f)

	err := m.DeletePrefix(context.Background(), "reports/r1/")
	if err == nil || !strings.Contains(err.Error(), "remove reports/r1/a.pdf") {
		t.Fatalf("expected remove error, got %v", err)
	}
	select {
	case <-f.pageAborted:
	case <-time.After(3 * time.Second):
		t.Fatalf("listing still running after DeletePrefix returned")
	}
}
