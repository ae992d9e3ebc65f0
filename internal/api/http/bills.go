package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"metering-billing/internal/audit"
	"metering-billing/internal/auth"
	billing "metering-billing/internal/billing/domain"
	billinginterfaces "metering-billing/internal/billing/interfaces"
	"metering-billing/internal/observability/logging"
	"metering-billing/internal/observability/metrics"
	scope "metering-billing/internal/scope/domain"
)

// BillingService creates and advances billing documents.
type BillingService interface {
	CreateBillForScope(ctx context.Context, customerID string, ref scope.Ref, start, end time.Time, operator *string) (*billing.Document, error)
	Get(ctx context.Context, id string) (*billing.Document, error)
	Transition(ctx context.Context, id string, next billing.Status) (*billing.Document, error)
}

// BillsHandler serves billing document endpoints.
type BillsHandler struct {
	service BillingService
	audit   audit.Logger
	logger  *zap.Logger
}

// NewBillsHandler constructs a BillsHandler.
func NewBillsHandler(service BillingService, auditLogger audit.Logger, logger *zap.Logger) (*BillsHandler, error) {
	if service == nil {
		return nil, errors.New("bills handler: nil service")
	}
	return &BillsHandler{service: service, audit: auditLogger, logger: logging.OrNop(logger)}, nil
}

type createBillRequest struct {
	CustomerID  string  `json:"customer_id"`
	ScopeType   string  `json:"scope_type"`
	ScopeID     int64   `json:"scope_id"`
	PeriodStart string  `json:"period_start"`
	PeriodEnd   string  `json:"period_end"`
	Operator    *string `json:"operator"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type documentView struct {
	ID                string     `json:"id"`
	DocType           string     `json:"doc_type"`
	CustomerID        string     `json:"customer_id"`
	Scope             string     `json:"scope"`
	PeriodStart       string     `json:"period_start"`
	PeriodEnd         string     `json:"period_end"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	SubtotalCents     int64      `json:"subtotal_cents"`
	VatCents          int64      `json:"vat_cents"`
	TotalCents        int64      `json:"total_cents"`
	ContainsEstimated bool       `json:"contains_estimated"`
	Lines             []lineView `json:"lines"`
}

type lineView struct {
	ID                string  `json:"id"`
	MeterNo           string  `json:"meter_no"`
	Channel           string  `json:"channel"`
	TariffCode        string  `json:"tariff_code"`
	Unit              string  `json:"unit"`
	Quantity          float64 `json:"quantity"`
	UnitPriceCents    int64   `json:"unit_price_cents"`
	AmountCents       int64   `json:"amount_cents"`
	VatRatePercent    float64 `json:"vat_rate_percent"`
	VatAmountCents    int64   `json:"vat_amount_cents"`
	ContainsEstimated bool    `json:"contains_estimated"`
	PeriodStart       string  `json:"period_start"`
	PeriodEnd         string  `json:"period_end"`
	IsTrueUp          bool    `json:"is_true_up"`
	TrueUpOfLine      *string `json:"true_up_of_line,omitempty"`
	TrueUpReason      *string `json:"true_up_reason,omitempty"`
}

// ServeHTTP handles /api/v1/bills and /api/v1/bills/{id}[/export.pdf|/export.xlsx|/status].
func (h *BillsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/bills" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCreate(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/bills/")
	id, action, _ := strings.Cut(path, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		h.handleGet(w, r, id)
	case action == "export.pdf" && r.Method == http.MethodGet:
		h.handleExport(w, r, id, "pdf")
	case action == "export.xlsx" && r.Method == http.MethodGet:
		h.handleExport(w, r, id, "xlsx")
	case action == "status" && r.Method == http.MethodPost:
		h.handleTransition(w, r, id)
	case action == "" || action == "export.pdf" || action == "export.xlsx" || action == "status":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (h *BillsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok && id.CustomerBound() {
		if req.CustomerID == "" {
			req.CustomerID = id.CustomerID
		}
		if !id.MayAccessCustomer(req.CustomerID) {
			http.Error(w, "customer_id outside token scope", http.StatusForbidden)
			return
		}
	}
	if req.CustomerID == "" {
		http.Error(w, "customer_id is required", http.StatusBadRequest)
		return
	}
	ref, err := scope.ParseRef(req.ScopeType, req.ScopeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, end, err := parseWindow("period_start", req.PeriodStart, "period_end", req.PeriodEnd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := h.service.CreateBillForScope(r.Context(), req.CustomerID, ref, start, end, req.Operator)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newDocumentView(doc))

	logAudit(r, h.audit, audit.Entry{
		Action:       audit.ActionCreateBill,
		ResourceType: "billing_document",
		ResourceID:   doc.ID,
		Scope:        ref.String(),
	}, map[string]any{
		"customer_id":  doc.CustomerID,
		"period_start": formatTime(start),
		"period_end":   formatTime(end),
		"total_cents":  doc.TotalCents,
	})
}

func (h *BillsHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	doc, ok := h.loadDocument(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDocumentView(doc))
}

func (h *BillsHandler) handleExport(w http.ResponseWriter, r *http.Request, id, format string) {
	began := time.Now()
	var err error
	defer func() {
		metrics.ObserveExport(format, metrics.Result(err), time.Since(began))
	}()

	doc, ok := h.loadDocument(w, r, id)
	if !ok {
		err = billing.ErrDocumentNotFound
		return
	}

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case "pdf":
		payload, err = billinginterfaces.BuildDocumentPDF(doc)
		contentType = "application/pdf"
	default:
		payload, err = billinginterfaces.BuildDocumentXLSX(doc)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+doc.ID+"."+format+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)

	logAudit(r, h.audit, audit.Entry{
		Action:       audit.ActionExport,
		ResourceType: "billing_document",
		ResourceID:   doc.ID,
		Scope:        doc.Scope.String(),
	}, map[string]any{"format": format})
}

func (h *BillsHandler) handleTransition(w http.ResponseWriter, r *http.Request, id string) {
	var req transitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	next, err := billing.ParseStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := h.loadDocument(w, r, id); !ok {
		return
	}
	doc, err := h.service.Transition(r.Context(), id, next)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newDocumentView(doc))

	logAudit(r, h.audit, audit.Entry{
		Action:       audit.ActionTransition,
		ResourceType: "billing_document",
		ResourceID:   doc.ID,
		Scope:        doc.Scope.String(),
	}, map[string]any{"status": string(next)})
}

// loadDocument fetches a document the caller may see. Documents of another
// customer are reported as not found to customer-bound callers.
func (h *BillsHandler) loadDocument(w http.ResponseWriter, r *http.Request, id string) (*billing.Document, bool) {
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return nil, false
	}
	if caller, ok := auth.IdentityFromContext(r.Context()); ok && !caller.MayAccessCustomer(doc.CustomerID) {
		respondError(w, h.logger, billing.ErrDocumentNotFound)
		return nil, false
	}
	return doc, true
}

func newDocumentView(doc *billing.Document) documentView {
	view := documentView{
		ID:                doc.ID,
		DocType:           doc.DocType,
		CustomerID:        doc.CustomerID,
		PeriodStart:       formatTime(doc.PeriodStart),
		PeriodEnd:         formatTime(doc.PeriodEnd),
		Currency:          doc.Currency,
		Status:            string(doc.Status),
		SubtotalCents:     doc.SubtotalCents,
		VatCents:          doc.VatCents,
		TotalCents:        doc.TotalCents,
		ContainsEstimated: doc.ContainsEstimated,
		Lines:             make([]lineView, 0, len(doc.Lines)),
	}
	if doc.Scope != nil {
		view.Scope = doc.Scope.String()
	}
	for _, line := range doc.Lines {
		view.Lines = append(view.Lines, lineView{
			ID:                line.ID,
			MeterNo:           line.MeterNo,
			Channel:           string(line.Channel),
			TariffCode:        line.TariffCode,
			Unit:              line.Unit,
			Quantity:          line.Quantity,
			UnitPriceCents:    line.UnitPriceCents,
			AmountCents:       line.AmountCents,
			VatRatePercent:    line.VatRatePercent,
			VatAmountCents:    line.VatAmountCents,
			ContainsEstimated: line.ContainsEstimated,
			PeriodStart:       formatTime(line.PeriodStart),
			PeriodEnd:         formatTime(line.PeriodEnd),
			IsTrueUp:          line.IsTrueUp,
			TrueUpOfLine:      line.TrueUpOfLine,
			TrueUpReason:      line.TrueUpReason,
		})
	}
	return view
}
