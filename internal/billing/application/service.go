package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	billing "metering-billing/internal/billing/domain"
	energyapp "metering-billing/internal/energy/application"
	energy "metering-billing/internal/energy/domain"
	"metering-billing/internal/observability/logging"
	"metering-billing/internal/observability/metrics"
	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
	tariffapp "metering-billing/internal/tariff/application"
	tariff "metering-billing/internal/tariff/domain"
)

const (
	defaultCurrency = "RON"
	defaultUnit     = "kWh"
)

// ScopeResolver answers which meters served a unit during a period.
type ScopeResolver interface {
	MetersInScopeDuring(ctx context.Context, ref scope.Ref, start, end time.Time) ([]scope.Meter, error)
	SegmentsDuring(ctx context.Context, ref scope.Ref, start, end time.Time) ([]scope.Segment, error)
}

// Pricing resolves slices, tariffs, unit prices and VAT.
type Pricing interface {
	SliceBoundaries(ctx context.Context, ref scope.Ref, start, end time.Time) ([]time.Time, error)
	ResolveTariffAssignment(ctx context.Context, ref scope.Ref, at time.Time, operator *string) (*tariffapp.ResolvedAssignment, error)
	ResolveUnitPriceCents(ctx context.Context, ref scope.Ref, resolved tariffapp.ResolvedAssignment, at time.Time) (int64, error)
	ResolveVatRateAt(ctx context.Context, at time.Time) (float64, error)
}

// EnergyCalculator computes the energy of one meter window.
type EnergyCalculator interface {
	WindowEnergy(ctx context.Context, w energyapp.Window, channels []readings.Channel) (energy.Result, error)
}

// Service creates billing documents.
type Service struct {
	repo     billing.Repository
	scopes   ScopeResolver
	pricing  Pricing
	energy   EnergyCalculator
	trueUp   billing.TrueUpStrategy
	channels []readings.Channel
	currency string
	newID    func() string
	clock    func() time.Time
	logger   *zap.Logger
}

// Option customises the service.
type Option func(*Service)

// WithChannels sets the billed channels.
func WithChannels(channels ...readings.Channel) Option {
	return func(s *Service) {
		if len(channels) > 0 {
			s.channels = append([]readings.Channel(nil), channels...)
		}
	}
}

// WithCurrency sets the document currency.
func WithCurrency(currency string) Option {
	return func(s *Service) {
		if currency != "" {
			s.currency = currency
		}
	}
}

// WithTrueUp plugs a true-up strategy run after line generation.
func WithTrueUp(strategy billing.TrueUpStrategy) Option {
	return func(s *Service) {
		if strategy != nil {
			s.trueUp = strategy
		}
	}
}

// WithIDGenerator overrides document and line id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

// NewService constructs the billing service.
func NewService(repo billing.Repository, scopes ScopeResolver, pricing Pricing, calc EnergyCalculator, logger *zap.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("billing service: nil repository")
	}
	if scopes == nil {
		return nil, errors.New("billing service: nil scope resolver")
	}
	if pricing == nil {
		return nil, errors.New("billing service: nil pricing")
	}
	if calc == nil {
		return nil, errors.New("billing service: nil energy calculator")
	}
	s := &Service{
		repo:     repo,
		scopes:   scopes,
		pricing:  pricing,
		energy:   calc,
		trueUp:   billing.NoTrueUp{},
		channels: []readings.Channel{readings.ActiveImport},
		currency: defaultCurrency,
		newID:    func() string { return uuid.NewString() },
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   logging.OrNop(logger),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// CreateBillForScope prices every meter of the unit over [start, end) and
// stores a DRAFT invoice. Slices without a tariff assignment are skipped.
func (s *Service) CreateBillForScope(ctx context.Context, customerID string, ref scope.Ref, start, end time.Time, operator *string) (doc *billing.Document, err error) {
	began := time.Now()
	defer func() {
		metrics.ObserveBill(metrics.Result(err), time.Since(began))
	}()

	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, billing.ErrInvalidPeriod
	}
	meters, err := s.scopes.MetersInScopeDuring(ctx, ref, start, end)
	if err != nil {
		return nil, err
	}
	if len(meters) == 0 {
		return nil, fmt.Errorf("%w: %s", billing.ErrNoMetersInScope, ref)
	}
	segments, err := s.scopes.SegmentsDuring(ctx, ref, start, end)
	if err != nil {
		return nil, err
	}
	bounds, err := s.pricing.SliceBoundaries(ctx, ref, start, end)
	if err != nil {
		return nil, err
	}

	doc, err = billing.NewDocument(s.newID(), customerID, ref, start, end, s.currency, s.clock())
	if err != nil {
		return nil, err
	}

	for i := 0; i+1 < len(bounds); i++ {
		lines, err := s.priceSlice(ctx, ref, segments, bounds[i], bounds[i+1], operator)
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			if err := doc.AddLine(line); err != nil {
				return nil, err
			}
		}
	}

	corrections, err := s.trueUp.TrueUp(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("billing: true-up: %w", err)
	}
	for _, line := range corrections {
		if !line.IsTrueUp {
			return nil, fmt.Errorf("%w: line for %s not flagged", billing.ErrInvalidTrueUp, line.MeterNo)
		}
		if line.ID == "" {
			line.ID = s.newID()
		}
		if err := doc.AddLine(line); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("billing document created",
		zap.String("document_id", doc.ID),
		zap.String("customer_id", customerID),
		zap.String("scope", ref.String()),
		zap.Time("period_start", doc.PeriodStart),
		zap.Time("period_end", doc.PeriodEnd),
		zap.Int("lines", len(doc.Lines)),
		zap.Int64("total_cents", doc.TotalCents),
	)
	return doc, nil
}

// meterEnergy is one meter's energy inside a slice.
type meterEnergy struct {
	meterNo   string
	energy    map[readings.Channel]float64
	estimated bool
}

func (s *Service) priceSlice(ctx context.Context, ref scope.Ref, segments []scope.Segment, from, to time.Time, operator *string) ([]billing.Line, error) {
	resolved, err := s.pricing.ResolveTariffAssignment(ctx, ref, from, operator)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		metrics.IncBillSliceSkipped("no_tariff")
		s.logger.Debug("slice skipped: no tariff assignment",
			zap.String("scope", ref.String()),
			zap.Time("slice_start", from),
			zap.Time("slice_end", to),
		)
		return nil, nil
	}
	unitPrice, err := s.pricing.ResolveUnitPriceCents(ctx, ref, *resolved, from)
	if err != nil {
		return nil, err
	}
	vatRate, err := s.pricing.ResolveVatRateAt(ctx, from)
	if err != nil {
		return nil, err
	}
	unit := resolved.Tariff.Unit
	if unit == "" {
		unit = defaultUnit
	}

	var (
		order   []string
		byMeter = make(map[string]*meterEnergy)
	)
	for _, full := range segments {
		seg, ok := full.Clip(from, to)
		if !ok {
			continue
		}
		if seg.MeterNo == "" {
			s.logger.Warn("segment without meter number", zap.Int64("meter_id", int64(seg.MeterID)))
			continue
		}
		w := energyapp.Window{MeterNo: seg.MeterNo, Start: seg.From, End: seg.To, HandoverValue: seg.HandoverValue}
		result, err := s.energy.WindowEnergy(ctx, w, s.channels)
		if err != nil {
			return nil, err
		}
		acc, ok := byMeter[seg.MeterNo]
		if !ok {
			acc = &meterEnergy{meterNo: seg.MeterNo, energy: make(map[readings.Channel]float64)}
			byMeter[seg.MeterNo] = acc
			order = append(order, seg.MeterNo)
		}
		for ch, qty := range result.Energy {
			acc.energy[ch] += qty
		}
		acc.estimated = acc.estimated || result.ContainsEstimated
	}

	var lines []billing.Line
	for _, meterNo := range order {
		acc := byMeter[meterNo]
		for _, ch := range s.channels {
			qty := acc.energy[ch]
			if qty <= 0 {
				continue
			}
			amount := tariff.LineAmount(qty, unitPrice)
			lines = append(lines, billing.Line{
				ID:                s.newID(),
				MeterNo:           meterNo,
				Channel:           ch,
				TariffCode:        resolved.Tariff.Code,
				Unit:              unit,
				Quantity:          qty,
				UnitPriceCents:    unitPrice,
				AmountCents:       amount,
				VatRatePercent:    vatRate,
				VatAmountCents:    tariff.VatAmount(amount, vatRate),
				ContainsEstimated: acc.estimated,
				PeriodStart:       from,
				PeriodEnd:         to,
			})
		}
	}
	return lines, nil
}

// Get returns a document with its lines.
func (s *Service) Get(ctx context.Context, id string) (*billing.Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, billing.ErrDocumentNotFound
	}
	return doc, nil
}

// Transition moves a document to the next lifecycle status.
func (s *Service) Transition(ctx context.Context, id string, next billing.Status) (*billing.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	if err := doc.TransitionTo(next, now); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, next, now); err != nil {
		return nil, err
	}
	return doc, nil
}
