// Package gateway implements the persistence gateway (C5): typed operations
// over the PostgreSQL connection pool used by every other component, so no
// component but this one issues SQL.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"kamsentry/internal/domain"
	"kamsentry/internal/infrastructure/database"
	"kamsentry/internal/infrastructure/shared"
	"kamsentry/pkg/ulid"
)

// toJSON marshals v into a datatypes.JSON column value.
func toJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return datatypes.JSON(b), nil
}

// Gateway is the persistence gateway. It owns no connection of its own;
// NewPostgresDB already bounds and retries the pool open.
type Gateway struct {
	db *database.PostgresDB
	tx database.Transactor
}

// New constructs a Gateway over an already-connected PostgresDB.
func New(db *database.PostgresDB) *Gateway {
	return &Gateway{db: db, tx: database.NewTransactor(db.DB)}
}

// Ping is used by the external health-check collaborator.
func (g *Gateway) Ping() error {
	return g.db.Health()
}

// conn returns the transactional *gorm.DB injected into ctx by a prior
// WithinTransaction call, or the gateway's default connection otherwise, so
// every method below transparently participates in an enclosing transaction.
func (g *Gateway) conn(ctx context.Context) *gorm.DB {
	return shared.GetDB(ctx, g.db.DB)
}

// InsertAnomalyResult records an anomaly_detection AnalysisResult. The
// confidence score is |anomaly_score| clamped to [0,1].
func (g *Gateway) InsertAnomalyResult(ctx context.Context, score float64, isAnomaly bool, modelVersion string) error {
	data, err := toJSON(map[string]interface{}{
		"is_anomaly":    isAnomaly,
		"anomaly_score": score,
		"model_version": modelVersion,
	})
	if err != nil {
		return err
	}

	result := domain.AnalysisResult{
		ID:              ulid.New(),
		AnalysisType:    domain.AnalysisAnomalyDetection,
		ModelName:       "isolation_forest",
		AnalysisData:    data,
		ConfidenceScore: clamp01(absFloat(score)),
		CreatedAt:       time.Now(),
	}
	return g.conn(ctx).WithContext(ctx).Create(&result).Error
}

// InsertLLMResult records a successful llm_analysis AnalysisResult.
func (g *Gateway) InsertLLMResult(ctx context.Context, alertID ulid.ULID, reason domain.AnalysisReason, rootCause, immediateActions string, confidence float64) error {
	data, err := toJSON(map[string]interface{}{
		"root_cause":        rootCause,
		"immediate_actions": immediateActions,
	})
	if err != nil {
		return err
	}
	meta, err := toJSON(map[string]interface{}{"analysis_reason": reason})
	if err != nil {
		return err
	}

	result := domain.AnalysisResult{
		ID:              ulid.New(),
		AlertID:         &alertID,
		AnalysisType:    domain.AnalysisLLM,
		ModelName:       "llm_analysis",
		AnalysisData:    data,
		ConfidenceScore: clamp01(confidence),
		Metadata:        meta,
		CreatedAt:       time.Now(),
	}
	return g.conn(ctx).WithContext(ctx).Create(&result).Error
}

// InsertLLMFailure records a failed llm_analysis attempt as a confidence-0.0
// row so the read API can surface it the same way as a success (see §7).
func (g *Gateway) InsertLLMFailure(ctx context.Context, alertID ulid.ULID, reason domain.AnalysisReason, failureMessage string) error {
	data, err := toJSON(map[string]interface{}{"error": failureMessage})
	if err != nil {
		return err
	}
	meta, err := toJSON(map[string]interface{}{
		"analysis_reason": reason,
		"failure":         true,
	})
	if err != nil {
		return err
	}

	result := domain.AnalysisResult{
		ID:              ulid.New(),
		AlertID:         &alertID,
		AnalysisType:    domain.AnalysisLLM,
		ModelName:       "llm_analysis",
		AnalysisData:    data,
		ConfidenceScore: 0.0,
		Metadata:        meta,
		CreatedAt:       time.Now(),
	}
	return g.conn(ctx).WithContext(ctx).Create(&result).Error
}

// MarkDuplicate updates the alert as a duplicate and inserts a
// duplicate_reference AnalysisResult in one transaction, preserving the
// invariant that every duplicate alert has exactly one duplicate_reference row.
func (g *Gateway) MarkDuplicate(ctx context.Context, alertID, refAlertID, refAnalysisID ulid.ULID, reason domain.AnalysisReason) error {
	meta, err := toJSON(map[string]interface{}{"analysis_reason": reason})
	if err != nil {
		return err
	}

	return g.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := g.conn(txCtx).WithContext(txCtx).Model(&domain.AlertRow{}).
			Where("id = ?", alertID).
			Updates(map[string]interface{}{
				"is_duplicate":       true,
				"reference_alert_id": refAlertID,
			}).Error; err != nil {
			return fmt.Errorf("failed to update alert as duplicate: %w", err)
		}

		dup := domain.AnalysisResult{
			ID:                  ulid.New(),
			AlertID:             &alertID,
			AnalysisType:        domain.AnalysisDuplicateRef,
			ModelName:           "deduplication",
			AnalysisData:        datatypes.JSON([]byte(`{"duplicate":true,"message":"Same alert already analyzed"}`)),
			ConfidenceScore:     1.0,
			ReferenceAnalysisID: &refAnalysisID,
			Metadata:            meta,
			CreatedAt:           time.Now(),
		}
		if err := g.conn(txCtx).WithContext(txCtx).Create(&dup).Error; err != nil {
			return fmt.Errorf("failed to insert duplicate reference: %w", err)
		}
		return nil
	})
}

// FindLastAnalysis returns the most recent non-duplicate AlertRow for the
// same (alert_name, instance) that carries at least one llm_analysis
// AnalysisResult, or nil if none exists.
func (g *Gateway) FindLastAnalysis(ctx context.Context, alertName, instance string) (*domain.AnalysisRef, error) {
	type row struct {
		AlertID    ulid.ULID
		Severity   domain.Severity
		AnalysisID ulid.ULID
	}
	var r row

	err := g.conn(ctx).WithContext(ctx).Raw(`
		SELECT a.id AS alert_id, a.severity AS severity, r.id AS analysis_id
		FROM alerts a
		JOIN ai_analysis_results r ON r.alert_id = a.id AND r.analysis_type = ?
		WHERE a.alert_name = ? AND a.labels ->> 'instance' = ? AND a.is_duplicate = false
		ORDER BY a.created_at DESC, r.created_at DESC
		LIMIT 1
	`, domain.AnalysisLLM, alertName, instance).Scan(&r).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query last analysis: %w", err)
	}
	if r.AlertID.IsZero() {
		return nil, nil
	}

	return &domain.AnalysisRef{AlertID: r.AlertID, Severity: r.Severity, AnalysisID: r.AnalysisID}, nil
}

// FetchTrainingValues returns up to limit of the most recent metric values,
// ordered by timestamp descending, for the detector to retrain against.
func (g *Gateway) FetchTrainingValues(ctx context.Context, limit int) ([]float64, error) {
	var rows []domain.MetricRow
	err := g.conn(ctx).WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch training values: %w", err)
	}

	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = r.Value
	}
	return values, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
