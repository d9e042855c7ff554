package models

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a single PageRecord.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRendering  Status = "rendering"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ErrIllegalTransition is returned when a status change is not in the transition table.
var ErrIllegalTransition = errors.New("illegal page status transition")

// transitions lists, for each status, the statuses it may move to.
// rendering -> error covers pages whose raster step fails.
var transitions = map[Status][]Status{
	StatusPending:    {StatusRendering},
	StatusRendering:  {StatusProcessing, StatusError},
	StatusProcessing: {StatusCompleted, StatusError},
	StatusCompleted:  {StatusProcessing},
	StatusError:      {StatusProcessing},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Transition validates a move from s to next and returns next on success.
func (s Status) Transition(next Status) (Status, error) {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return next, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
}

// Settled reports whether the page has left the pipeline for the current pass.
func (s Status) Settled() bool {
	return s == StatusCompleted || s == StatusError
}

// PageRecord is the per-page unit of state, one per PDF page in document order.
type PageRecord struct {
	PageNumber            int    `json:"pageNumber"`
	ImageURL              string `json:"imageUrl"`
	ExtractedText         string `json:"extractedText"`
	OriginalExtractedText string `json:"originalExtractedText"`
	Status                Status `json:"status"`

	// Image holds the raw JPEG behind ImageURL so redo can skip rendering.
	Image []byte `json:"-"`
	// FailureText is the fallback stored by the last failed attempt.
	FailureText string `json:"-"`
}

// Edited reports whether the user changed the text since the pipeline last
// wrote it: the OCR result for a completed page, the fallback for a failed one.
func (p PageRecord) Edited() bool {
	if p.Status == StatusError {
		return p.ExtractedText != p.FailureText
	}
	return p.ExtractedText != p.OriginalExtractedText
}

// HasText reports whether the page has anything worth exporting.
func (p PageRecord) HasText() bool {
	return p.Status == StatusCompleted || p.ExtractedText != ""
}

// NewPages materializes n pending records numbered 1..n.
func NewPages(n int) []PageRecord {
	pages := make([]PageRecord, n)
	for i := range pages {
		pages[i] = PageRecord{PageNumber: i + 1, Status: StatusPending}
	}
	return pages
}

// ProcessingStats are the aggregate counters for the current document load.
type ProcessingStats struct {
	SessionID      string `json:"sessionId"`
	TotalPages     int    `json:"totalPages"`
	ProcessedPages int    `json:"processedPages"`
	IsProcessing   bool   `json:"isProcessing"`
	LoadError      string `json:"loadError,omitempty"`
}
