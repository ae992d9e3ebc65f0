package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billing "metering-billing/internal/billing/domain"
	scope "metering-billing/internal/scope/domain"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to billing.Status
		ok       bool
	}{
		{billing.StatusDraft, billing.StatusReady, true},
		{billing.StatusDraft, billing.StatusExported, false},
		{billing.StatusReady, billing.StatusExported, true},
		{billing.StatusExported, billing.StatusFilesOK, true},
		{billing.StatusExported, billing.StatusAckErr, true},
		{billing.StatusFilesOK, billing.StatusAckOK, true},
		{billing.StatusAckErr, billing.StatusAckOK, false},
		{billing.StatusAckOK, billing.StatusDraft, false},
		{billing.StatusReady, billing.StatusDraft, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestDocument_AddLineAccumulates(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc, err := billing.NewDocument("d1", "C1", scope.Site(1), start, start.Add(time.Hour), "RON", start)
	require.NoError(t, err)
	require.NoError(t, doc.AddLine(billing.Line{AmountCents: 750, VatAmountCents: 143}))
	require.NoError(t, doc.AddLine(billing.Line{AmountCents: 100, VatAmountCents: 19, ContainsEstimated: true}))
	assert.Equal(t, int64(850), doc.SubtotalCents)
	assert.Equal(t, int64(162), doc.VatCents)
	assert.Equal(t, int64(1012), doc.TotalCents)
	assert.True(t, doc.ContainsEstimated)
	assert.Equal(t, "d1", doc.Lines[0].DocumentID)

	err = doc.AddLine(billing.Line{IsTrueUp: true})
	require.ErrorIs(t, err, billing.ErrInvalidTrueUp)
}

func TestNewDocument_Validation(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := billing.NewDocument("d1", "", scope.Site(1), start, start.Add(time.Hour), "RON", start)
	require.ErrorIs(t, err, billing.ErrEmptyCustomerID)
	_, err = billing.NewDocument("d1", "C1", scope.Site(1), start, start, "RON", start)
	require.ErrorIs(t, err, billing.ErrInvalidPeriod)
	_, err = billing.NewDocument("d1", "C1", nil, start, start.Add(time.Hour), "RON", start)
	require.ErrorIs(t, err, scope.ErrUnknownScopeType)

	doc, err := billing.NewDocument("d1", "C1", scope.Site(1), start, start.Add(time.Hour), "RON", start)
	require.NoError(t, err)
	require.NoError(t, doc.TransitionTo(billing.StatusReady, start))
	require.ErrorIs(t, doc.TransitionTo(billing.StatusDraft, start), billing.ErrInvalidTransition)
}
