package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/zenocr/internal/config"
	"github.com/Lllllllleong/zenocr/internal/export"
	"github.com/Lllllllleong/zenocr/internal/gcp"
	"github.com/Lllllllleong/zenocr/internal/i18n"
	"github.com/Lllllllleong/zenocr/internal/models"
	"github.com/Lllllllleong/zenocr/internal/ocr"
	"github.com/Lllllllleong/zenocr/internal/pagestore"
	"github.com/Lllllllleong/zenocr/internal/pipeline"
	"github.com/Lllllllleong/zenocr/internal/render"
)

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// jobStore keeps the per-upload job record.
type jobStore interface {
	FindByHash(ctx context.Context, fileHash string) (id string, found bool, err error)
	Create(ctx context.Context, doc models.Document) (string, error)
	Update(ctx context.Context, id string, updates []firestore.Update) error
}

// objectStore reads source PDFs and writes export files.
type objectStore interface {
	Read(ctx context.Context, bucket, object string, limit int64) ([]byte, error)
	Write(ctx context.Context, object, contentType, content string) (uri string, err error)
}

type firestoreJobs struct {
	client     *firestore.Client
	collection string
}

func (j *firestoreJobs) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	docs, err := j.client.Collection(j.collection).Where("fileHash", "==", fileHash).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

func (j *firestoreJobs) Create(ctx context.Context, doc models.Document) (string, error) {
	docRef, _, err := j.client.Collection(j.collection).Add(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to create job document: %w", err)
	}
	return docRef.ID, nil
}

func (j *firestoreJobs) Update(ctx context.Context, id string, updates []firestore.Update) error {
	_, err := j.client.Collection(j.collection).Doc(id).Update(ctx, updates)
	return err
}

type gcsObjects struct {
	client       *storage.Client
	outputBucket string
}

func (g *gcsObjects) Read(ctx context.Context, bucket, object string, limit int64) ([]byte, error) {
	return gcp.ReadGCSObject(ctx, g.client, bucket, object, limit)
}

func (g *gcsObjects) Write(ctx context.Context, object, contentType, content string) (string, error) {
	err := withRetry(ctx, object, 4, time.Second, func(ctx context.Context) error {
		writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
		defer cancel()
		return gcp.SaveToGCSAtomically(writeCtx, g.client.Bucket(g.outputBucket), object, contentType, content)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", g.outputBucket, object), nil
}

// IngestFunction runs the OCR pipeline headless over PDFs dropped in a bucket
// and writes every export format next to a Firestore job record.
type IngestFunction struct {
	jobs       jobStore
	objects    objectStore
	maxBytes   int64
	msgs       *i18n.Printer
	decoder    render.Decoder
	recognizer pipeline.Recognizer
}

func NewIngester(ctx context.Context, cfg *config.Config) (*IngestFunction, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if cfg.Ingest.OutputBucket == "" {
		return nil, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	msgs := i18n.NewPrinter(cfg.Language)
	f := &IngestFunction{
		jobs:       &firestoreJobs{client: firestoreClient, collection: cfg.Ingest.CollectionName},
		objects:    &gcsObjects{client: storageClient, outputBucket: cfg.Ingest.OutputBucket},
		maxBytes:   cfg.MaxUploadBytes(),
		msgs:       msgs,
		decoder:    render.NewFitzDecoder(cfg.Render.Scale, cfg.Render.JPEGQuality),
		recognizer: ocr.New(cfg.OCR, cfg.ProjectID, msgs),
	}
	slog.Info("Ingest logic initialized.", "outputBucket", cfg.Ingest.OutputBucket, "ocrProvider", cfg.OCR.Provider)
	return f, nil
}

func (f *IngestFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !isPDFObject(e.Name) {
		logCtx.Info("Not a PDF object. Skipping.")
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	data, err := f.objects.Read(ctx, e.Bucket, e.Name, f.maxBytes)
	if err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}

	fileHash := hashBytes(data)
	logCtx = logCtx.With("fileHash", fileHash)

	docID, isDuplicate, err := f.jobs.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", docID)
		return nil
	}

	docID, err = f.jobs.Create(ctx, models.Document{
		FileHash:         fileHash,
		OriginalFilename: path.Base(e.Name),
		SourceURI:        fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name),
		Status:           models.JobValidating,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return err
	}
	logCtx = logCtx.With("documentId", docID)
	logCtx.Info("Created job document in Firestore.")

	p := pipeline.New(pagestore.New(), f.decoder, f.recognizer, f.msgs, f.maxBytes)
	if err := p.Validate(path.Base(e.Name), "", data); err != nil {
		return f.handleError(ctx, logCtx, docID, "rejected source object", err)
	}
	if err := f.updateStatus(ctx, docID, models.JobProcessing, ""); err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to update status to PROCESSING", err)
	}

	session := p.Start()
	if err := p.Run(ctx, session, data); err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to load PDF", err)
	}
	pages := p.Store().Pages()
	failed := failedPages(pages)
	logCtx.Info("All pages processed.", "pageCount", len(pages), "failedPages", len(failed))

	uris, err := f.uploadExports(ctx, logCtx, docID, pages)
	if err != nil {
		return f.handleError(ctx, logCtx, docID, "one or more exports failed to upload", err)
	}

	updates := []firestore.Update{
		{Path: "status", Value: models.JobCompleted},
		{Path: "pageCount", Value: len(pages)},
		{Path: "failedPages", Value: failed},
		{Path: "outputUris", Value: uris},
	}
	if err := f.jobs.Update(ctx, docID, updates); err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to update status to COMPLETED", err)
	}
	logCtx.Info("Ingest complete.")
	return nil
}

func (f *IngestFunction) uploadExports(ctx context.Context, logCtx *slog.Logger, docID string, pages []models.PageRecord) ([]string, error) {
	uris := make([]string, len(export.Formats))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(len(export.Formats))
	for i, format := range export.Formats {
		res, err := export.Export(pages, format, f.msgs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", format, err)
		}
		object := outputObjectName(docID, res)

		eg.Go(func() error {
			uri, err := f.objects.Write(gctx, object, res.MIMEType+"; charset=utf-8", res.Content)
			if err != nil {
				return fmt.Errorf("%s: %w", format, err)
			}
			uris[i] = uri
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	logCtx.Info("All exports uploaded.", "outputUris", uris)
	return uris, nil
}

func (f *IngestFunction) handleError(ctx context.Context, logCtx *slog.Logger, docID string, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.updateStatus(ctx, docID, models.JobFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func (f *IngestFunction) updateStatus(ctx context.Context, docID, status, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	return f.jobs.Update(ctx, docID, updates)
}

// withRetry runs op up to attempts times, doubling backoff between tries.
func withRetry(ctx context.Context, object string, attempts int, backoff time.Duration, op func(context.Context) error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", attempts,
			"backoff", backoff.String(),
			"error", err,
		)
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", object, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", object, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", object, lastErr)
}

func isPDFObject(name string) bool {
	return !strings.HasSuffix(name, "/") && strings.EqualFold(path.Ext(name), ".pdf")
}

func outputObjectName(docID string, res export.Result) string {
	return fmt.Sprintf("%s/%s", docID, res.Filename())
}

func failedPages(pages []models.PageRecord) []int {
	failed := []int{}
	for _, p := range pages {
		if p.Status == models.StatusError {
			failed = append(failed, p.PageNumber)
		}
	}
	return failed
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
