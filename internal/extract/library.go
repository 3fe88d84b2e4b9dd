package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"readaloud/internal/domain/document"
	"readaloud/internal/domain/page"

	"github.com/sirupsen/logrus"
)

// Library opens documents by path and keeps them open for page extraction.
// Document ids are cleaned file paths.
type Library struct {
	mu    sync.Mutex
	books map[string]Book
	log   *logrus.Entry
}

// NewLibrary returns an empty library.
func NewLibrary(log *logrus.Entry) *Library {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Library{
		books: make(map[string]Book),
		log:   log.WithField("component", "extract"),
	}
}

// ID returns the document id for a path.
func ID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func (l *Library) book(ctx context.Context, documentID string) (Book, Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	format, err := Lookup(documentID)
	if err != nil {
		return nil, nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.books[documentID]; ok {
		return b, format, nil
	}

	b, err := format.Open(documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", filepath.Base(documentID), err)
	}
	l.books[documentID] = b
	l.log.WithFields(logrus.Fields{
		"document": documentID,
		"format":   format.Name(),
		"pages":    b.PageCount(),
	}).Debug("Opened document")
	return b, format, nil
}

// Open describes the document, opening it on first use.
func (l *Library) Open(ctx context.Context, documentID string) (document.Document, error) {
	b, format, err := l.book(ctx, documentID)
	if err != nil {
		return document.Document{ID: documentID}, err
	}
	meta := b.Meta()
	title := meta.Title
	if title == "" {
		base := filepath.Base(documentID)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return document.Document{
		ID:        documentID,
		Title:     title,
		Author:    meta.Author,
		Format:    format.Name(),
		PageCount: b.PageCount(),
	}, nil
}

// ExtractRuns returns the runs of one page.
func (l *Library) ExtractRuns(ctx context.Context, documentID string, pageIndex int) ([]page.Run, error) {
	b, _, err := l.book(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := checkPage(b, pageIndex); err != nil {
		return nil, err
	}
	runs, err := b.Runs(pageIndex)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", pageIndex, err)
	}
	return runs, ctx.Err()
}

// Forget closes and drops a cached document.
func (l *Library) Forget(documentID string) error {
	l.mu.Lock()
	b, ok := l.books[documentID]
	delete(l.books, documentID)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return b.Close()
}

// Close closes every open document.
func (l *Library) Close() error {
	l.mu.Lock()
	books := l.books
	l.books = make(map[string]Book)
	l.mu.Unlock()

	var firstErr error
	for id, b := range books {
		if err := b.Close(); err != nil {
			l.log.WithError(err).WithField("document", id).Warn("Failed to close document")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
