package readings

import (
	"time"

	"github.com/google/uuid"
)

// IngestBatch records one ingestion run. Only FinishedAt changes after creation.
type IngestBatch struct {
	ID         uuid.UUID
	Source     string
	FileName   string
	FileHash   string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// NewIngestBatch starts a batch.
func NewIngestBatch(source, fileName, fileHash string, startedAt time.Time) *IngestBatch {
	return &IngestBatch{
		ID:        uuid.New(),
		Source:    source,
		FileName:  fileName,
		FileHash:  fileHash,
		StartedAt: startedAt.UTC(),
	}
}

// Finish stamps the batch end.
func (b *IngestBatch) Finish(at time.Time) {
	finished := at.UTC()
	b.FinishedAt = &finished
}
