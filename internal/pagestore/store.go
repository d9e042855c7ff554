// Package pagestore is the single source of truth for the pages of the
// currently loaded document.
//
// Every mutation replaces exactly one PageRecord, matched by page number, and
// leaves the rest untouched. Pipeline writes carry the session id returned by
// Reset; writes from a session that has since been replaced by a newer upload
// are rejected with ErrStaleSession.
package pagestore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Lllllllleong/zenocr/internal/models"
	"github.com/Lllllllleong/zenocr/internal/render"
)

var (
	ErrStaleSession         = errors.New("session has been replaced by a newer upload")
	ErrPageNotFound         = errors.New("page not found")
	ErrNotEditable          = errors.New("page is not editable yet")
	ErrBusy                 = errors.New("page is already being processed")
	ErrConfirmationRequired = errors.New("page text was edited; confirmation required")
	ErrNoImage              = errors.New("page has no rendered image")
	ErrBadPageSet           = errors.New("page records must be numbered 1..N in order")
)

// Store holds the page records and progress counters.
type Store struct {
	mu      sync.RWMutex
	session string
	pages   []models.PageRecord
	stats   models.ProcessingStats
}

// New returns an empty store with no active session.
func New() *Store {
	return &Store{}
}

// Reset discards all state, starts a new session, and marks it processing.
func (s *Store) Reset() string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = id
	s.pages = nil
	s.stats = models.ProcessingStats{SessionID: id, IsProcessing: true}
	return id
}

// Session returns the active session id.
func (s *Store) Session() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// ReplaceAll installs the page set for session and sets totalPages.
func (s *Store) ReplaceAll(session string, pages []models.PageRecord) error {
	for i, p := range pages {
		if p.PageNumber != i+1 {
			return fmt.Errorf("%w: index %d has page %d", ErrBadPageSet, i, p.PageNumber)
		}
		if !p.Status.Valid() {
			return fmt.Errorf("%w: page %d has status %q", ErrBadPageSet, p.PageNumber, p.Status)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if session != s.session {
		return ErrStaleSession
	}
	s.pages = append([]models.PageRecord(nil), pages...)
	s.stats.TotalPages = len(pages)
	return nil
}

// SetStatus moves a page through the transition table.
func (s *Store) SetStatus(session string, page int, status models.Status) error {
	return s.update(session, page, func(p *models.PageRecord) error {
		next, err := p.Status.Transition(status)
		if err != nil {
			return err
		}
		p.Status = next
		return nil
	})
}

// SetImage stores the rendered JPEG for a page that is being rendered.
func (s *Store) SetImage(session string, page int, jpeg []byte) error {
	return s.update(session, page, func(p *models.PageRecord) error {
		if p.Status != models.StatusRendering {
			return fmt.Errorf("set image on page %d in status %s: %w", page, p.Status, models.ErrIllegalTransition)
		}
		p.Image = jpeg
		p.ImageURL = render.DataURI(jpeg)
		return nil
	})
}

// Complete records a successful OCR result. It overwrites any interim edit.
func (s *Store) Complete(session string, page int, text string) error {
	return s.update(session, page, func(p *models.PageRecord) error {
		next, err := p.Status.Transition(models.StatusCompleted)
		if err != nil {
			return err
		}
		p.Status = next
		p.ExtractedText = text
		p.OriginalExtractedText = text
		p.FailureText = ""
		return nil
	})
}

// Fail records a failed render or OCR attempt with the text to display.
func (s *Store) Fail(session string, page int, text string) error {
	return s.update(session, page, func(p *models.PageRecord) error {
		next, err := p.Status.Transition(models.StatusError)
		if err != nil {
			return err
		}
		p.Status = next
		p.ExtractedText = text
		p.FailureText = text
		return nil
	})
}

// SetText is the user edit: it overwrites extractedText of the active session's
// page without touching status or originalExtractedText. A non-empty session
// must match the active one.
func (s *Store) SetText(session string, page int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClientSession(session); err != nil {
		return err
	}
	p, err := s.find(page)
	if err != nil {
		return err
	}
	if p.Status == models.StatusPending || p.Status == models.StatusRendering {
		return fmt.Errorf("page %d is %s: %w", page, p.Status, ErrNotEditable)
	}
	p.ExtractedText = text
	return nil
}

// RedoTicket carries what a redo needs to run OCR outside the store lock.
type RedoTicket struct {
	Session string
	Page    int
	Image   []byte
}

// BeginRedo moves a settled page back to processing. A page already in flight
// is left alone (ErrBusy). A page whose text was hand-edited needs
// confirmed=true, otherwise nothing changes (ErrConfirmationRequired).
func (s *Store) BeginRedo(session string, page int, confirmed bool) (RedoTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkClientSession(session); err != nil {
		return RedoTicket{}, err
	}
	p, err := s.find(page)
	if err != nil {
		return RedoTicket{}, err
	}
	if !p.Status.Settled() {
		return RedoTicket{}, fmt.Errorf("page %d is %s: %w", page, p.Status, ErrBusy)
	}
	if p.Edited() && !confirmed {
		return RedoTicket{}, ErrConfirmationRequired
	}
	if len(p.Image) == 0 {
		return RedoTicket{}, fmt.Errorf("page %d: %w", page, ErrNoImage)
	}
	next, err := p.Status.Transition(models.StatusProcessing)
	if err != nil {
		return RedoTicket{}, err
	}
	p.Status = next
	return RedoTicket{Session: s.session, Page: page, Image: p.Image}, nil
}

// SetProcessed records that pages 1..n have left the pipeline.
func (s *Store) SetProcessed(session string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session != s.session {
		return ErrStaleSession
	}
	if n > s.stats.ProcessedPages {
		s.stats.ProcessedPages = n
	}
	return nil
}

// Finish ends the load. loadErr is the user-facing notice for a document-level failure.
func (s *Store) Finish(session string, loadErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session != s.session {
		return ErrStaleSession
	}
	s.stats.IsProcessing = false
	s.stats.LoadError = loadErr
	return nil
}

// Page returns a copy of one record.
func (s *Store) Page(page int) (models.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pages {
		if p.PageNumber == page {
			return p, nil
		}
	}
	return models.PageRecord{}, fmt.Errorf("page %d: %w", page, ErrPageNotFound)
}

// Pages returns a copy of all records in page order.
func (s *Store) Pages() []models.PageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PageRecord(nil), s.pages...)
}

// Stats returns the current counters.
func (s *Store) Stats() models.ProcessingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Snapshot returns stats and pages read under a single lock.
func (s *Store) Snapshot() (models.ProcessingStats, []models.PageRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats, append([]models.PageRecord(nil), s.pages...)
}

func (s *Store) update(session string, page int, fn func(*models.PageRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session != s.session {
		return ErrStaleSession
	}
	p, err := s.find(page)
	if err != nil {
		return err
	}
	// Work on a copy so a rejected change leaves the record untouched.
	next := *p
	if err := fn(&next); err != nil {
		return err
	}
	*p = next
	return nil
}

// checkClientSession rejects a user action aimed at an earlier document. An
// empty session means the current one. Callers hold s.mu.
func (s *Store) checkClientSession(session string) error {
	if session != "" && session != s.session {
		return ErrStaleSession
	}
	return nil
}

// find must be called with mu held.
func (s *Store) find(page int) (*models.PageRecord, error) {
	// Records are always 1..N in order.
	if page < 1 || page > len(s.pages) {
		return nil, fmt.Errorf("page %d: %w", page, ErrPageNotFound)
	}
	return &s.pages[page-1], nil
}
