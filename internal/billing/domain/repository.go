package billing

import (
	"context"
	"time"
)

// Repository persists billing documents.
type Repository interface {
	// Create stores the document and all of its lines atomically.
	Create(ctx context.Context, doc *Document) error
	// Get returns the document with its lines, or nil when missing.
	Get(ctx context.Context, id string) (*Document, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
}
