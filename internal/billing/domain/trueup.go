package billing

import "context"

// TrueUpStrategy produces correcting lines for a freshly generated document.
// Returned lines must have IsTrueUp set and reference the corrected line.
type TrueUpStrategy interface {
	TrueUp(ctx context.Context, doc *Document) ([]Line, error)
}

// NoTrueUp emits no corrections.
type NoTrueUp struct{}

// TrueUp implements TrueUpStrategy.
func (NoTrueUp) TrueUp(context.Context, *Document) ([]Line, error) { return nil, nil }
