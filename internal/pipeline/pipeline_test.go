package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/zenocr/internal/i18n"
	"github.com/Lllllllleong/zenocr/internal/models"
	"github.com/Lllllllleong/zenocr/internal/ocr"
	"github.com/Lllllllleong/zenocr/internal/pagestore"
	"github.com/Lllllllleong/zenocr/internal/render"
)

// fakeDecoder decodes "<name>:<pages>" into a document whose page n renders as "<name>-<n>".
type fakeDecoder struct {
	renderFail map[int]bool
}

func (d *fakeDecoder) Decode(ctx context.Context, data []byte) (render.Document, error) {
	var name string
	var pages int
	if _, err := fmt.Sscanf(string(data), "%1s:%d", &name, &pages); err != nil {
		return nil, fmt.Errorf("not a fake pdf: %w", err)
	}
	return &fakeDocument{name: name, pages: pages, renderFail: d.renderFail}, nil
}

type fakeDocument struct {
	name       string
	pages      int
	renderFail map[int]bool
	closed     bool
}

func (d *fakeDocument) PageCount() int { return d.pages }

func (d *fakeDocument) RenderPage(ctx context.Context, n int) ([]byte, error) {
	if d.renderFail[n] {
		return nil, errors.New("no drawing context")
	}
	return []byte(fmt.Sprintf("%s-%d", d.name, n)), nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

// fakeOCR echoes the image as text, fails images listed in fail, and blocks
// images with a gate until the gate is closed.
type fakeOCR struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]bool
	gates   map[string]chan struct{}
	entered chan string
}

func (f *fakeOCR) Recognize(ctx context.Context, jpeg []byte) ocr.Recognition {
	img := string(jpeg)
	f.mu.Lock()
	f.calls = append(f.calls, img)
	gate := f.gates[img]
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- img
	}
	if gate != nil {
		<-gate
	}
	if f.fail[img] {
		return ocr.Recognition{Text: "OCR failed: " + img, Err: errors.New("service error")}
	}
	return ocr.Recognition{Text: "text of " + img}
}

func newTestPipeline(dec *fakeDecoder, rec Recognizer) *Pipeline {
	return New(pagestore.New(), dec, rec, i18n.NewPrinter("en"), 1<<20)
}

func TestRunProcessesEveryPageInOrder(t *testing.T) {
	fo := &fakeOCR{fail: map[string]bool{"A-2": true}}
	p := newTestPipeline(&fakeDecoder{}, fo)

	session := p.Start()
	if err := p.Run(context.Background(), session, []byte("A:4")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats, pages := p.Store().Snapshot()
	if stats.TotalPages != 4 || stats.ProcessedPages != 4 || stats.IsProcessing || stats.LoadError != "" {
		t.Errorf("stats = %+v", stats)
	}
	for i, pg := range pages {
		if pg.PageNumber != i+1 {
			t.Fatalf("index %d holds page %d", i, pg.PageNumber)
		}
		if !pg.Status.Settled() {
			t.Errorf("page %d not settled: %s", pg.PageNumber, pg.Status)
		}
		if pg.ImageURL == "" {
			t.Errorf("page %d has no image", pg.PageNumber)
		}
	}
	if pages[1].Status != models.StatusError || pages[1].ExtractedText != "OCR failed: A-2" || pages[1].OriginalExtractedText != "" {
		t.Errorf("failed page = %+v", pages[1])
	}
	if pages[0].Status != models.StatusCompleted || pages[0].ExtractedText != "text of A-1" || pages[0].OriginalExtractedText != "text of A-1" {
		t.Errorf("completed page = %+v", pages[0])
	}
	if strings.Join(fo.calls, ",") != "A-1,A-2,A-3,A-4" {
		t.Errorf("OCR call order = %v", fo.calls)
	}
}

func TestRenderFailureBecomesPageError(t *testing.T) {
	fo := &fakeOCR{}
	p := newTestPipeline(&fakeDecoder{renderFail: map[int]bool{2: true}}, fo)
	session := p.Start()
	if err := p.Run(context.Background(), session, []byte("A:3")); err != nil {
		t.Fatal(err)
	}
	pg, _ := p.Store().Page(2)
	if pg.Status != models.StatusError || pg.ImageURL != "" {
		t.Errorf("page 2 = %+v", pg)
	}
	if !strings.Contains(pg.ExtractedText, "no drawing context") {
		t.Errorf("render failure text = %q", pg.ExtractedText)
	}
	for _, c := range fo.calls {
		if c == "A-2" {
			t.Error("OCR was attempted for a page that failed to render")
		}
	}
	if stats := p.Store().Stats(); stats.ProcessedPages != 3 {
		t.Errorf("processed = %d", stats.ProcessedPages)
	}
}

func TestUndecodableDocument(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{}, &fakeOCR{})
	session := p.Start()
	if err := p.Run(context.Background(), session, []byte("garbage")); err == nil {
		t.Fatal("expected a document-level error")
	}
	stats, pages := p.Store().Snapshot()
	if len(pages) != 0 || stats.IsProcessing || stats.LoadError == "" {
		t.Errorf("stats = %+v, pages = %d", stats, len(pages))
	}
}

func TestValidateRejectsWithoutStateChange(t *testing.T) {
	p := newTestPipeline(&fakeDecoder{}, &fakeOCR{})
	session := p.Start()
	if err := p.Run(context.Background(), session, []byte("A:2")); err != nil {
		t.Fatal(err)
	}
	before, beforePages := p.Store().Snapshot()

	tests := []struct {
		name, filename string
		data           []byte
		want           error
	}{
		{"png", "scan.png", []byte("\x89PNG...."), render.ErrNotPDF},
		{"fake pdf", "scan.pdf", []byte("hello"), render.ErrNotPDF},
		{"too large", "scan.pdf", append([]byte("%PDF-"), make([]byte, 1<<20)...), ErrTooLarge},
	}
	for _, tt := range tests {
		err := p.Validate(tt.filename, "", tt.data)
		var inErr *InputError
		if !errors.As(err, &inErr) || !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v", tt.name, err)
			continue
		}
		if inErr.Message == "" {
			t.Errorf("%s: no user-facing message", tt.name)
		}
	}
	after, afterPages := p.Store().Snapshot()
	if before != after || len(beforePages) != len(afterPages) {
		t.Error("validation changed the store")
	}
	if err := p.Validate("ok.pdf", "application/pdf", []byte("%PDF-1.7")); err != nil {
		t.Errorf("valid pdf rejected: %v", err)
	}
}

func TestNewUploadMidFlightKeepsOnlyNewDocument(t *testing.T) {
	gate := make(chan struct{})
	fo := &fakeOCR{
		gates:   map[string]chan struct{}{"A-2": gate},
		entered: make(chan string, 16),
	}
	p := newTestPipeline(&fakeDecoder{}, fo)

	first := p.Start()
	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), first, []byte("A:5")) }()

	for img := range fo.entered {
		if img == "A-2" {
			break
		}
	}

	second := p.Start()
	if err := p.Run(context.Background(), second, []byte("B:2")); err != nil {
		t.Fatalf("second run: %v", err)
	}
	close(gate)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stale run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stale run did not stop")
	}

	stats, pages := p.Store().Snapshot()
	if stats.SessionID != second || stats.TotalPages != 2 || stats.ProcessedPages != 2 || stats.IsProcessing {
		t.Errorf("stats = %+v", stats)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	for _, pg := range pages {
		if !strings.HasPrefix(pg.ExtractedText, "text of B-") {
			t.Errorf("page %d carries text %q", pg.PageNumber, pg.ExtractedText)
		}
	}
	for _, c := range fo.calls {
		if c == "A-3" {
			t.Error("stale run kept going after its session was replaced")
		}
	}
}

func TestRedo(t *testing.T) {
	fo := &fakeOCR{fail: map[string]bool{"A-1": true}}
	p := newTestPipeline(&fakeDecoder{}, fo)
	session := p.Start()
	if err := p.Run(context.Background(), session, []byte("A:2")); err != nil {
		t.Fatal(err)
	}
	statsBefore := p.Store().Stats()

	// Failed page: the service recovers.
	fo.mu.Lock()
	fo.fail = nil
	fo.mu.Unlock()
	if err := p.Redo(context.Background(), "", 1, false); err != nil {
		t.Fatalf("redo: %v", err)
	}
	pg, _ := p.Store().Page(1)
	if pg.Status != models.StatusCompleted || pg.ExtractedText != "text of A-1" {
		t.Errorf("page 1 after redo = %+v", pg)
	}

	// Edited page: declined, then confirmed.
	if err := p.Store().SetText("", 2, "mine"); err != nil {
		t.Fatal(err)
	}
	if err := p.Redo(context.Background(), "", 2, false); !errors.Is(err, pagestore.ErrConfirmationRequired) {
		t.Fatalf("expected ErrConfirmationRequired, got %v", err)
	}
	pg, _ = p.Store().Page(2)
	if pg.ExtractedText != "mine" || pg.Status != models.StatusCompleted {
		t.Errorf("declined redo changed page 2: %+v", pg)
	}
	calls := len(fo.calls)
	if err := p.Redo(context.Background(), "", 2, true); err != nil {
		t.Fatal(err)
	}
	if len(fo.calls) != calls+1 || fo.calls[len(fo.calls)-1] != "A-2" {
		t.Errorf("redo did not reuse the cached image: %v", fo.calls)
	}
	pg, _ = p.Store().Page(2)
	if pg.ExtractedText != "text of A-2" {
		t.Errorf("page 2 after confirmed redo = %+v", pg)
	}

	if statsAfter := p.Store().Stats(); statsAfter != statsBefore {
		t.Errorf("redo changed global counters: %+v -> %+v", statsBefore, statsAfter)
	}
}

func TestRedoAfterNewUploadIsDropped(t *testing.T) {
	gate := make(chan struct{})
	fo := &fakeOCR{}
	p := newTestPipeline(&fakeDecoder{}, fo)
	session := p.Start()
	if err := p.Run(context.Background(), session, []byte("A:1")); err != nil {
		t.Fatal(err)
	}

	ticket, err := p.BeginRedo("", 1, false)
	if err != nil {
		t.Fatal(err)
	}
	fo.mu.Lock()
	fo.gates = map[string]chan struct{}{"A-1": gate}
	fo.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.FinishRedo(context.Background(), ticket) }()

	next := p.Start()
	if err := p.Run(context.Background(), next, []byte("B:1")); err != nil {
		t.Fatal(err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("stale redo returned %v", err)
	}
	pg, _ := p.Store().Page(1)
	if pg.ExtractedText != "text of B-1" {
		t.Errorf("stale redo overwrote new document: %+v", pg)
	}
}
