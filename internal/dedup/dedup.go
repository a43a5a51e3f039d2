// Package dedup implements the resource-aware deduplication state machine
// (C4): classify an incoming alert against the last analyzed alert for the
// same (alert_name, instance) pair, and record duplicate markers.
package dedup

import (
	"context"
	"fmt"

	"kamsentry/internal/domain"
	"kamsentry/pkg/ulid"
)

// Gateway is the narrow persistence surface the Deduplicator needs.
type Gateway interface {
	FindLastAnalysis(ctx context.Context, alertName, instance string) (*domain.AnalysisRef, error)
	MarkDuplicate(ctx context.Context, alertID, refAlertID, refAnalysisID ulid.ULID, reason domain.AnalysisReason) error
}

// Deduplicator classifies alerts and records duplicate markers.
type Deduplicator struct {
	gateway Gateway
}

// New constructs a Deduplicator.
func New(gateway Gateway) *Deduplicator {
	return &Deduplicator{gateway: gateway}
}

// Decision is the result of Classify.
type Decision struct {
	ShouldAnalyze bool
	Reason        domain.AnalysisReason
	Prior         *domain.AnalysisRef // nil when Reason == first_occurrence
}

// Classify looks up the most recent non-duplicate AlertRow for the same
// (alert_name, instance) that has an llm_analysis AnalysisResult, and
// compares severities using the total order info < warning < critical.
// Classification is deterministic: identical (alert_name, instance,
// severity) and identical prior state always yields the same decision.
func (d *Deduplicator) Classify(ctx context.Context, alert domain.AlertPayload) (Decision, error) {
	prior, err := d.gateway.FindLastAnalysis(ctx, alert.Labels.AlertName, alert.Labels.Instance)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to find last analysis: %w", err)
	}

	if prior == nil {
		return Decision{ShouldAnalyze: true, Reason: domain.ReasonFirstOccurrence}, nil
	}

	newRank := alert.Labels.Severity.Rank()
	priorRank := prior.Severity.Rank()

	switch {
	case newRank > priorRank:
		return Decision{ShouldAnalyze: true, Reason: domain.ReasonEscalation, Prior: prior}, nil
	case newRank < priorRank:
		return Decision{ShouldAnalyze: true, Reason: domain.ReasonRecovery, Prior: prior}, nil
	default:
		return Decision{ShouldAnalyze: false, Reason: domain.ReasonDuplicateSameLevel, Prior: prior}, nil
	}
}

// MarkDuplicate sets the alert's is_duplicate/reference_alert_id and inserts
// a duplicate_reference AnalysisResult, both within a single transaction
// (the gateway's responsibility) to preserve the invariant that a duplicate
// always has exactly one duplicate_reference row.
func (d *Deduplicator) MarkDuplicate(ctx context.Context, alertID ulid.ULID, prior *domain.AnalysisRef, reason domain.AnalysisReason) error {
	if prior == nil {
		return fmt.Errorf("cannot mark duplicate without a prior analysis reference")
	}
	return d.gateway.MarkDuplicate(ctx, alertID, prior.AlertID, prior.AnalysisID, reason)
}
