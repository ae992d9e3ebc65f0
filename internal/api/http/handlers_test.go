package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metering-billing/internal/audit"
	"metering-billing/internal/auth"
	billing "metering-billing/internal/billing/domain"
	estimationapp "metering-billing/internal/estimation/application"
	estimation "metering-billing/internal/estimation/domain"
	readingsapp "metering-billing/internal/readings/application"
	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
)

type fakeConsolidator struct {
	start, end time.Time
	meterNos   []string
	err        error
}

func (f *fakeConsolidator) Consolidate(_ context.Context, start, end time.Time, meterNos []string) (readingsapp.ConsolidationResult, error) {
	f.start, f.end, f.meterNos = start, end, meterNos
	return readingsapp.ConsolidationResult{Written: 4, Groups: 4}, f.err
}

type fakeAllocator struct {
	ref    scope.Ref
	method string
	err    error
}

func (f *fakeAllocator) Allocate(_ context.Context, ref scope.Ref, _, _ time.Time, method string) (estimationapp.AllocationResult, error) {
	f.ref, f.method = ref, method
	if f.err != nil {
		return estimationapp.AllocationResult{}, f.err
	}
	return estimationapp.AllocationResult{SyntheticRows: 6, Buckets: 3, Meters: 2}, nil
}

type fakeBilling struct {
	docs map[string]*billing.Document
	err  error
}

func (f *fakeBilling) CreateBillForScope(_ context.Context, customerID string, ref scope.Ref, start, end time.Time, _ *string) (*billing.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, err := billing.NewDocument("doc-1", customerID, ref, start, end, "RON", start)
	if err != nil {
		return nil, err
	}
	_ = doc.AddLine(billing.Line{
		ID:             "line-1",
		MeterNo:        "M1",
		Channel:        readings.ActiveImport,
		TariffCode:     "BASE",
		Unit:           "kWh",
		Quantity:       15,
		UnitPriceCents: 50,
		AmountCents:    750,
		VatRatePercent: 19,
		VatAmountCents: 143,
		PeriodStart:    start,
		PeriodEnd:      end,
	})
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeBilling) Get(_ context.Context, id string) (*billing.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, billing.ErrDocumentNotFound
	}
	return doc, nil
}

func (f *fakeBilling) Transition(ctx context.Context, id string, next billing.Status) (*billing.Document, error) {
	doc, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := doc.TransitionTo(next, time.Now()); err != nil {
		return nil, err
	}
	return doc, nil
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return doAs(t, h, nil, method, path, body)
}

func doAs(t *testing.T, h http.Handler, caller *auth.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *caller))
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestJobsHandler_Consolidate(t *testing.T) {
	cons := &fakeConsolidator{}
	rec := &audit.Recorder{}
	h, err := NewJobsHandler(cons, &fakeAllocator{}, rec, nil)
	require.NoError(t, err)

	resp := do(t, h, http.MethodPost, "/api/v1/jobs/consolidate", map[string]any{
		"start":     "2026-01-01T00:00:00Z",
		"end":       "2026-01-01T01:00:00Z",
		"meter_nos": []string{"M1"},
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var out map[string]int
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, 4, out["written"])
	assert.Equal(t, []string{"M1"}, cons.meterNos)
	assert.True(t, cons.end.Sub(cons.start) == time.Hour)

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionConsolidate, entries[0].Action)
	assert.NotEmpty(t, entries[0].PayloadDigest)
}

func TestJobsHandler_BadRequests(t *testing.T) {
	h, err := NewJobsHandler(&fakeConsolidator{}, &fakeAllocator{}, nil, nil)
	require.NoError(t, err)

	resp := do(t, h, http.MethodPost, "/api/v1/jobs/consolidate", map[string]any{
		"start": "2026-01-01T01:00:00Z",
		"end":   "2026-01-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, h, http.MethodPost, "/api/v1/jobs/allocate", map[string]any{
		"scope_type": "region",
		"scope_id":   1,
		"start":      "2026-01-01T00:00:00Z",
		"end":        "2026-01-01T01:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(t, h, http.MethodGet, "/api/v1/jobs/consolidate", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestJobsHandler_Allocate(t *testing.T) {
	alloc := &fakeAllocator{}
	h, err := NewJobsHandler(&fakeConsolidator{}, alloc, nil, nil)
	require.NoError(t, err)

	resp := do(t, h, http.MethodPost, "/api/v1/jobs/allocate", map[string]any{
		"scope_type": "pod",
		"scope_id":   7,
		"start":      "2026-01-01T00:00:00Z",
		"end":        "2026-01-01T03:00:00Z",
		"method":     "equal_split",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "pod:7", alloc.ref.String())
	assert.Equal(t, "equal_split", alloc.method)

	alloc.err = estimation.ErrUnknownMethod
	resp = do(t, h, http.MethodPost, "/api/v1/jobs/allocate", map[string]any{
		"scope_type": "pod",
		"scope_id":   7,
		"start":      "2026-01-01T00:00:00Z",
		"end":        "2026-01-01T03:00:00Z",
		"method":     "weighted",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestBillsHandler_CreateExportTransition(t *testing.T) {
	svc := &fakeBilling{docs: map[string]*billing.Document{}}
	rec := &audit.Recorder{}
	h, err := NewBillsHandler(svc, rec, nil)
	require.NoError(t, err)

	resp := do(t, h, http.MethodPost, "/api/v1/bills", map[string]any{
		"customer_id":  "C-1",
		"scope_type":   "pod",
		"scope_id":     10,
		"period_start": "2026-01-01T00:00:00Z",
		"period_end":   "2026-01-01T01:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	var view documentView
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	assert.Equal(t, "doc-1", view.ID)
	assert.Equal(t, int64(893), view.TotalCents)
	assert.Equal(t, "pod:10", view.Scope)
	require.Len(t, view.Lines, 1)
	assert.Equal(t, "active_import", view.Lines[0].Channel)

	resp = do(t, h, http.MethodGet, "/api/v1/bills/doc-1/export.pdf", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")))

	resp = do(t, h, http.MethodGet, "/api/v1/bills/doc-1/export.xlsx", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("PK")))

	resp = do(t, h, http.MethodPost, "/api/v1/bills/doc-1/status", map[string]string{"status": "ACKOK"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = do(t, h, http.MethodPost, "/api/v1/bills/doc-1/status", map[string]string{"status": "READY"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	assert.Equal(t, "READY", view.Status)

	actions := make([]string, 0)
	for _, entry := range rec.Entries() {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []string{audit.ActionCreateBill, audit.ActionExport, audit.ActionExport, audit.ActionTransition}, actions)
}

func TestBillsHandler_Errors(t *testing.T) {
	svc := &fakeBilling{docs: map[string]*billing.Document{}}
	h, err := NewBillsHandler(svc, nil, nil)
	require.NoError(t, err)

	resp := do(t, h, http.MethodGet, "/api/v1/bills/missing/export.pdf", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = do(t, h, http.MethodPost, "/api/v1/bills", map[string]any{"scope_type": "pod", "scope_id": 1})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	svc.err = billing.ErrNoMetersInScope
	resp = do(t, h, http.MethodPost, "/api/v1/bills", map[string]any{
		"customer_id":  "C-1",
		"scope_type":   "site",
		"scope_id":     1,
		"period_start": "2026-01-01T00:00:00Z",
		"period_end":   "2026-02-01T00:00:00Z",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = do(t, h, http.MethodDelete, "/api/v1/bills/doc-1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)

	resp = do(t, h, http.MethodGet, "/api/v1/bills/doc-1/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestBillsHandler_CustomerBoundCaller(t *testing.T) {
	svc := &fakeBilling{docs: map[string]*billing.Document{}}
	rec := &audit.Recorder{}
	h, err := NewBillsHandler(svc, rec, nil)
	require.NoError(t, err)
	bound := &auth.Identity{Subject: "portal", Role: auth.RoleOperator, CustomerID: "C-1"}
	other := &auth.Identity{Subject: "portal", Role: auth.RoleOperator, CustomerID: "C-2"}
	body := map[string]any{
		"scope_type":   "pod",
		"scope_id":     10,
		"period_start": "2026-01-01T00:00:00Z",
		"period_end":   "2026-01-01T01:00:00Z",
	}

	resp := doAs(t, h, bound, http.MethodPost, "/api/v1/bills", body)
	require.Equal(t, http.StatusCreated, resp.Code)
	var view documentView
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	assert.Equal(t, "C-1", view.CustomerID)

	body["customer_id"] = "C-9"
	resp = doAs(t, h, bound, http.MethodPost, "/api/v1/bills", body)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = doAs(t, h, bound, http.MethodGet, "/api/v1/bills/doc-1", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = doAs(t, h, other, http.MethodGet, "/api/v1/bills/doc-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = doAs(t, h, other, http.MethodGet, "/api/v1/bills/doc-1/export.pdf", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = doAs(t, h, other, http.MethodPost, "/api/v1/bills/doc-1/status", map[string]string{"status": "READY"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, billing.StatusDraft, svc.docs["doc-1"].Status)

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "C-1", entries[0].CustomerID)
	assert.Equal(t, "portal", entries[0].Actor)
	assert.Equal(t, string(auth.RoleOperator), entries[0].Role)
}
