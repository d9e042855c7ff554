package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/zenocr/internal/export"
	"github.com/Lllllllleong/zenocr/internal/i18n"
	"github.com/Lllllllleong/zenocr/internal/models"
)

// fakeJobs records job documents and the fields written to them.
type fakeJobs struct {
	mu      sync.Mutex
	byHash  map[string]string
	created []models.Document
	fields  map[string]map[string]any
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{byHash: map[string]string{}, fields: map[string]map[string]any{}}
}

func (j *fakeJobs) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id, ok := j.byHash[fileHash]
	return id, ok, nil
}

func (j *fakeJobs) Create(ctx context.Context, doc models.Document) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := fmt.Sprintf("job%d", len(j.created)+1)
	j.created = append(j.created, doc)
	j.byHash[doc.FileHash] = id
	j.fields[id] = map[string]any{"status": doc.Status}
	return id, nil
}

func (j *fakeJobs) Update(ctx context.Context, id string, updates []firestore.Update) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, u := range updates {
		j.fields[id][u.Path] = u.Value
	}
	return nil
}

func (j *fakeJobs) field(id, path string) any {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fields[id][path]
}

type fakeObjects struct {
	mu        sync.Mutex
	sources   map[string][]byte
	written   map[string]string
	failWrite bool
	reads     int
}

func (o *fakeObjects) Read(ctx context.Context, bucket, object string, limit int64) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reads++
	data, ok := o.sources[bucket+"/"+object]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (o *fakeObjects) Write(ctx context.Context, object, contentType, content string) (string, error) {
	if o.failWrite {
		return "", errors.New("503 backend unavailable")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.written == nil {
		o.written = map[string]string{}
	}
	o.written[object] = content
	return "gs://out/" + object, nil
}

func newTestIngester(source string) (*IngestFunction, *fakeJobs, *fakeObjects) {
	jobs := newFakeJobs()
	objects := &fakeObjects{sources: map[string][]byte{"in/inbox/scan.pdf": []byte(source)}}
	f := &IngestFunction{
		jobs:       jobs,
		objects:    objects,
		maxBytes:   1 << 20,
		msgs:       i18n.NewPrinter("en"),
		decoder:    stubDecoder{},
		recognizer: echoOCR{},
	}
	return f, jobs, objects
}

var scanEvent = GCSEvent{Bucket: "in", Name: "inbox/scan.pdf"}

func TestProcessCompletesJob(t *testing.T) {
	f, jobs, objects := newTestIngester("%PDF-stub:2")

	if err := f.Process(context.Background(), scanEvent); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(jobs.created) != 1 {
		t.Fatalf("created %d jobs", len(jobs.created))
	}
	doc := jobs.created[0]
	if doc.Status != models.JobValidating || doc.OriginalFilename != "scan.pdf" || doc.SourceURI != "gs://in/inbox/scan.pdf" {
		t.Errorf("initial job = %+v", doc)
	}
	if got := jobs.field("job1", "status"); got != models.JobCompleted {
		t.Errorf("status = %v", got)
	}
	if got := jobs.field("job1", "pageCount"); got != 2 {
		t.Errorf("pageCount = %v", got)
	}
	if got := jobs.field("job1", "failedPages"); !reflect.DeepEqual(got, []int{}) {
		t.Errorf("failedPages = %v", got)
	}
	wantURIs := []string{"gs://out/job1/zenocr_output.txt", "gs://out/job1/zenocr_output.md", "gs://out/job1/zenocr_output.json"}
	if got := jobs.field("job1", "outputUris"); !reflect.DeepEqual(got, wantURIs) {
		t.Errorf("outputUris = %v", got)
	}
	if md := objects.written["job1/zenocr_output.md"]; !strings.Contains(md, "text of img-2") {
		t.Errorf("markdown export = %q", md)
	}
}

func TestProcessSkipsDuplicate(t *testing.T) {
	f, jobs, objects := newTestIngester("%PDF-stub:1")
	jobs.byHash[hashBytes([]byte("%PDF-stub:1"))] = "existing"

	if err := f.Process(context.Background(), scanEvent); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(jobs.created) != 0 || len(objects.written) != 0 {
		t.Errorf("duplicate was processed: %d jobs, %d objects", len(jobs.created), len(objects.written))
	}
}

func TestProcessSkipsNonPDFObject(t *testing.T) {
	f, jobs, objects := newTestIngester("%PDF-stub:1")
	if err := f.Process(context.Background(), GCSEvent{Bucket: "in", Name: "inbox/notes.txt"}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if objects.reads != 0 || len(jobs.created) != 0 {
		t.Errorf("non-PDF object was read")
	}
}

func TestProcessFailuresMarkJobFailed(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		failWrite bool
		detail    string
	}{
		{"not a pdf", "hello", false, "rejected source object"},
		{"undecodable", "%PDF-broken", false, "failed to load PDF"},
		{"export upload", "%PDF-stub:1", true, "one or more exports failed to upload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, jobs, objects := newTestIngester(tt.source)
			objects.failWrite = tt.failWrite

			err := f.Process(context.Background(), scanEvent)
			if err == nil || !strings.Contains(err.Error(), tt.detail) {
				t.Fatalf("err = %v, want %q", err, tt.detail)
			}
			if got := jobs.field("job1", "status"); got != models.JobFailed {
				t.Errorf("status = %v", got)
			}
			details, _ := jobs.field("job1", "errorDetails").(string)
			if !strings.HasPrefix(details, tt.detail) {
				t.Errorf("errorDetails = %q", details)
			}
		})
	}
}

func TestIsPDFObject(t *testing.T) {
	tests := map[string]bool{
		"inbox/report.pdf": true,
		"SCAN.PDF":         true,
		"inbox/":           false,
		"notes.txt":        false,
		"archive.pdf.zip":  false,
	}
	for name, want := range tests {
		if got := isPDFObject(name); got != want {
			t.Errorf("isPDFObject(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestOutputObjectName(t *testing.T) {
	res := export.Result{Extension: "json"}
	if got := outputObjectName("abc123", res); got != "abc123/zenocr_output.json" {
		t.Errorf("got %q", got)
	}
}

func TestFailedPages(t *testing.T) {
	pages := models.NewPages(4)
	pages[1].Status = models.StatusError
	pages[3].Status = models.StatusError
	pages[0].Status = models.StatusCompleted
	if got := failedPages(pages); !reflect.DeepEqual(got, []int{2, 4}) {
		t.Errorf("got %v", got)
	}
	if got := failedPages(nil); got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", got)
	}
}

func TestHashBytes(t *testing.T) {
	const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := hashBytes(nil); got != emptySHA256 {
		t.Errorf("got %s", got)
	}
	if hashBytes([]byte("a")) == hashBytes([]byte("b")) {
		t.Error("distinct inputs hashed equal")
	}
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "obj", 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}

	boom := errors.New("boom")
	calls = 0
	err = withRetry(context.Background(), "obj", 2, time.Millisecond, func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 2 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = withRetry(ctx, "obj", 5, time.Hour, func(context.Context) error { return boom })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled retry returned %v", err)
	}
}
