package models

import "time"

// Document is the Firestore job record for a bucket-triggered OCR run.
// Page records themselves are never persisted; this only tracks the job.
type Document struct {
	FileHash         string    `firestore:"fileHash,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	SourceURI        string    `firestore:"sourceUri,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	FailedPages      []int     `firestore:"failedPages,omitempty"`
	OutputURIs       []string  `firestore:"outputUris,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
}

// Job statuses stored on Document.Status.
const (
	JobValidating = "VALIDATING"
	JobProcessing = "PROCESSING"
	JobCompleted  = "COMPLETED"
	JobFailed     = "FAILED"
)
