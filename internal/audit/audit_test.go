package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestJSON(t *testing.T) {
	assert.Empty(t, DigestJSON(nil))
	a := DigestJSON([]byte(`{"a":1}`))
	assert.Len(t, a, 64)
	assert.Equal(t, a, DigestJSON([]byte(`{"a":1}`)))
	assert.NotEqual(t, a, DigestJSON([]byte(`{"a":2}`)))
}

func TestRecorder_FillsIDAndDigest(t *testing.T) {
	rec := &Recorder{}
	meta := json.RawMessage(`{"start":"2026-01-01T00:00:00Z"}`)
	require.NoError(t, rec.Log(context.Background(), Entry{Action: ActionConsolidate, Metadata: meta}))

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].ID, "audit-"))
	assert.Equal(t, DigestJSON(meta), entries[0].PayloadDigest)
}

func TestRepository_NilDB(t *testing.T) {
	assert.Nil(t, NewRepository(nil))
	var repo *Repository
	require.Error(t, repo.Log(context.Background(), Entry{}))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:4411"
	assert.Equal(t, "10.0.0.5", ClientIP(r))

	r.Header.Set("X-Real-IP", " 10.0.0.7 ")
	assert.Equal(t, "10.0.0.7", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")
	assert.Equal(t, "192.168.1.1", ClientIP(r))
	assert.Empty(t, ClientIP(nil))
}

func TestStamp_CopiesRequestOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/bills", nil)
	r.RemoteAddr = "10.1.2.3:5000"
	r.Header.Set("User-Agent", "billing-cli/1.0")

	entry := Stamp(r, Entry{Action: ActionCreateBill, CustomerID: "C-1"})
	assert.Equal(t, "10.1.2.3", entry.IP)
	assert.Equal(t, "billing-cli/1.0", entry.UserAgent)
	assert.Equal(t, "C-1", entry.CustomerID)
	assert.Equal(t, Entry{Action: ActionExport}, Stamp(nil, Entry{Action: ActionExport}))
}

func TestEntryNormalized_KeepsCallerValues(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := Entry{ID: "audit-fixed", CreatedAt: at}.normalized(at.Add(time.Hour))
	assert.Equal(t, "audit-fixed", entry.ID)
	assert.Equal(t, at, entry.CreatedAt)

	entry = Entry{}.normalized(at)
	assert.True(t, strings.HasPrefix(entry.ID, "audit-"))
	assert.Equal(t, at, entry.CreatedAt)
}
