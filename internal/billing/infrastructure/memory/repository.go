package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	billing "metering-billing/internal/billing/domain"
)

// Repository is an in-memory billing document store for demo/testing.
type Repository struct {
	mu   sync.RWMutex
	docs map[string]billing.Document
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{docs: make(map[string]billing.Document)}
}

// Create stores the document and its lines.
func (r *Repository) Create(ctx context.Context, doc *billing.Document) error {
	_ = ctx
	if doc == nil {
		return billing.ErrNilDocument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[doc.ID]; exists {
		return errors.New("billing repo: duplicate document id")
	}
	r.docs[doc.ID] = cloneDocument(*doc)
	return nil
}

// Get returns the document, or nil when missing.
func (r *Repository) Get(ctx context.Context, id string) (*billing.Document, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	found := cloneDocument(doc)
	return &found, nil
}

// UpdateStatus sets the document status.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status billing.Status, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return billing.ErrDocumentNotFound
	}
	doc.Status = status
	doc.UpdatedAt = at.UTC()
	r.docs[id] = doc
	return nil
}

func cloneDocument(doc billing.Document) billing.Document {
	doc.Lines = append([]billing.Line(nil), doc.Lines...)
	return doc
}
