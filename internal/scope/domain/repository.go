package scope

import (
	"context"
	"time"
)

// AssignmentReader loads meter assignments and replacement events.
type AssignmentReader interface {
	ListAssignments(ctx context.Context, ref Ref) ([]Assignment, error)
	ListReplacements(ctx context.Context, start, end time.Time) ([]MeterReplacement, error)
}

// MeterReader loads meters and their constant history.
type MeterReader interface {
	GetMeters(ctx context.Context, ids []MeterID) ([]Meter, error)
	GetMeterByNo(ctx context.Context, meterNo string) (*Meter, error)
	ListConstantHistory(ctx context.Context, meterID MeterID) ([]ConstantHistory, error)
}

// HierarchyReader resolves the billing-unit chain above a reference.
type HierarchyReader interface {
	Lineage(ctx context.Context, ref Ref) (Lineage, error)
}
