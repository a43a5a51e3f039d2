package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kamsentry/internal/domain"
	"kamsentry/pkg/ulid"
)

type fakeGateway struct {
	prior        *domain.AnalysisRef
	err          error
	markedAlert  ulid.ULID
	markedRef    ulid.ULID
	markedReason domain.AnalysisReason
}

func (f *fakeGateway) FindLastAnalysis(ctx context.Context, alertName, instance string) (*domain.AnalysisRef, error) {
	return f.prior, f.err
}

func (f *fakeGateway) MarkDuplicate(ctx context.Context, alertID, refAlertID, refAnalysisID ulid.ULID, reason domain.AnalysisReason) error {
	f.markedAlert = alertID
	f.markedRef = refAlertID
	f.markedReason = reason
	return nil
}

func alertWith(severity domain.Severity) domain.AlertPayload {
	return domain.AlertPayload{
		AlertID: "A2",
		Labels: domain.AlertLabels{
			AlertName: "HighCPU",
			Instance:  "srv-1",
			Severity:  severity,
		},
	}
}

func TestClassifyFirstOccurrence(t *testing.T) {
	gw := &fakeGateway{prior: nil}
	d := New(gw)

	decision, err := d.Classify(context.Background(), alertWith(domain.SeverityCritical))
	require.NoError(t, err)
	assert.True(t, decision.ShouldAnalyze)
	assert.Equal(t, domain.ReasonFirstOccurrence, decision.Reason)
}

func TestClassifyEscalation(t *testing.T) {
	gw := &fakeGateway{prior: &domain.AnalysisRef{Severity: domain.SeverityWarning}}
	d := New(gw)

	decision, err := d.Classify(context.Background(), alertWith(domain.SeverityCritical))
	require.NoError(t, err)
	assert.True(t, decision.ShouldAnalyze)
	assert.Equal(t, domain.ReasonEscalation, decision.Reason)
}

func TestClassifyRecovery(t *testing.T) {
	gw := &fakeGateway{prior: &domain.AnalysisRef{Severity: domain.SeverityCritical}}
	d := New(gw)

	decision, err := d.Classify(context.Background(), alertWith(domain.SeverityWarning))
	require.NoError(t, err)
	assert.True(t, decision.ShouldAnalyze)
	assert.Equal(t, domain.ReasonRecovery, decision.Reason)
}

func TestClassifySameSeverityIsDuplicate(t *testing.T) {
	gw := &fakeGateway{prior: &domain.AnalysisRef{Severity: domain.SeverityCritical}}
	d := New(gw)

	decision, err := d.Classify(context.Background(), alertWith(domain.SeverityCritical))
	require.NoError(t, err)
	assert.False(t, decision.ShouldAnalyze)
	assert.Equal(t, domain.ReasonDuplicateSameLevel, decision.Reason)
}

func TestClassifyIsDeterministic(t *testing.T) {
	gw := &fakeGateway{prior: &domain.AnalysisRef{Severity: domain.SeverityWarning}}
	d := New(gw)
	ctx := context.Background()

	first, err := d.Classify(ctx, alertWith(domain.SeverityCritical))
	require.NoError(t, err)
	second, err := d.Classify(ctx, alertWith(domain.SeverityCritical))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSeverityEscalationSequence(t *testing.T) {
	// info -> warning -> critical across three successive alerts, each
	// compared against the previous: escalation, escalation.
	gw := &fakeGateway{prior: &domain.AnalysisRef{Severity: domain.SeverityInfo}}
	d := New(gw)
	ctx := context.Background()

	decision, err := d.Classify(ctx, alertWith(domain.SeverityWarning))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonEscalation, decision.Reason)

	gw.prior.Severity = domain.SeverityWarning
	decision, err = d.Classify(ctx, alertWith(domain.SeverityCritical))
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonEscalation, decision.Reason)
}

func TestMarkDuplicateRequiresPrior(t *testing.T) {
	gw := &fakeGateway{}
	d := New(gw)

	err := d.MarkDuplicate(context.Background(), ulid.New(), nil, domain.ReasonDuplicateSameLevel)
	assert.Error(t, err)
}
