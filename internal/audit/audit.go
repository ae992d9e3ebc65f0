package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the trigger surface.
const (
	ActionConsolidate = "jobs.consolidate"
	ActionAllocate    = "jobs.allocate"
	ActionCreateBill  = "bills.create"
	ActionTransition  = "bills.transition"
	ActionExport      = "bills.export"
)

// Entry records one job trigger or billing document action.
type Entry struct {
	ID            string
	CustomerID    string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	Scope         string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalized fills the id, digest and timestamp the caller left empty.
func (e Entry) normalized(now time.Time) Entry {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.PayloadDigest == "" {
		e.PayloadDigest = DigestJSON(e.Metadata)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	return e
}

// Recorder keeps audit entries in memory for demo/testing.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Log implements Logger.
func (r *Recorder) Log(ctx context.Context, entry Entry) error {
	_ = ctx
	entry = entry.normalized(time.Now())
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

// Entries returns a copy of the recorded entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
