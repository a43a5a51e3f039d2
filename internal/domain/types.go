// Package domain holds the entities shared across kamsentry's components:
// the stream envelope, the two event kinds it carries, and the rows written
// to the relational store.
package domain

import (
	"time"

	"gorm.io/datatypes"

	"kamsentry/pkg/ulid"
)

// EntryKind identifies which of the two event shapes a StreamEntry carries.
type EntryKind string

const (
	KindMetric EntryKind = "metric"
	KindAlert  EntryKind = "alert"
)

// Severity is the total order info < warning < critical used by the deduplicator.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the severity's position in the total order, defaulting unknown
// values to the lowest rank (mirrors a dict .get(severity, 1) fallback).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 1
	}
}

// AnalysisReason selects the LLM prompt template and is recorded on the
// resulting AnalysisResult's metadata.
type AnalysisReason string

const (
	ReasonFirstOccurrence    AnalysisReason = "first_occurrence"
	ReasonEscalation         AnalysisReason = "escalation"
	ReasonRecovery           AnalysisReason = "recovery"
	ReasonDuplicateSameLevel AnalysisReason = "duplicate_same_severity"
)

// AnalysisType enumerates the three kinds of AnalysisResult rows.
type AnalysisType string

const (
	AnalysisLLM              AnalysisType = "llm_analysis"
	AnalysisAnomalyDetection AnalysisType = "anomaly_detection"
	AnalysisDuplicateRef     AnalysisType = "duplicate_reference"
)

// StreamEntry is a single entry read off the shared stream, tagged by kind.
type StreamEntry struct {
	ID      string
	Kind    EntryKind
	Payload []byte // opaque JSON, interpreted per Kind
}

// MetricEvent is the decoded payload of a StreamEntry with Kind == KindMetric.
// It feeds the anomaly detector only; it has no persisted identity.
type MetricEvent struct {
	MetricName  string  `json:"metric_name"`
	MetricValue float64 `json:"metric_value"`
}

// RawMetricEvent mirrors the wire shape before numeric coercion, so that a
// missing metric_value key can be distinguished from a present-but-invalid one.
type RawMetricEvent struct {
	MetricName  string      `json:"metric_name"`
	MetricValue interface{} `json:"metric_value"`
}

// AlertLabels carries the required routing keys for an alert.
type AlertLabels struct {
	AlertName string   `json:"alertname"`
	Instance  string   `json:"instance"`
	Severity  Severity `json:"severity"`
}

// AlertAnnotations carries the human-readable context for an alert.
type AlertAnnotations struct {
	Description string `json:"description"`
	Summary     string `json:"summary"`
}

// AlertPayload is the decoded payload of a StreamEntry with Kind == KindAlert.
type AlertPayload struct {
	AlertID     string           `json:"alert_id"`
	Labels      AlertLabels      `json:"labels"`
	Annotations AlertAnnotations `json:"annotations"`
}

// AlertRow is the persisted record of an alert, written by the (out-of-scope)
// producer and updated by the Deduplicator.
type AlertRow struct {
	ID                ulid.ULID          `gorm:"column:id;primaryKey"`
	AlertName         string             `gorm:"column:alert_name"`
	Labels            datatypes.JSON     `gorm:"column:labels"`
	Severity          Severity           `gorm:"column:severity"`
	IsDuplicate       bool               `gorm:"column:is_duplicate"`
	ReferenceAlertID  *ulid.ULID         `gorm:"column:reference_alert_id"`
	CreatedAt         time.Time          `gorm:"column:created_at"`
}

func (AlertRow) TableName() string { return "alerts" }

// AnalysisResult is an append-only record of an analysis outcome.
type AnalysisResult struct {
	ID                   ulid.ULID      `gorm:"column:id;primaryKey"`
	AlertID              *ulid.ULID     `gorm:"column:alert_id"`
	AnalysisType         AnalysisType   `gorm:"column:analysis_type"`
	ModelName            string         `gorm:"column:model_name"`
	AnalysisData         datatypes.JSON `gorm:"column:analysis_data"`
	ConfidenceScore      float64        `gorm:"column:confidence_score"`
	ReferenceAnalysisID  *ulid.ULID     `gorm:"column:reference_analysis_id"`
	Metadata             datatypes.JSON `gorm:"column:metadata"`
	CreatedAt            time.Time      `gorm:"column:created_at"`
}

func (AnalysisResult) TableName() string { return "ai_analysis_results" }

// MetricRow is a single historical metric value read back for retraining.
type MetricRow struct {
	Value     float64   `gorm:"column:value"`
	Timestamp time.Time `gorm:"column:timestamp"`
}

func (MetricRow) TableName() string { return "metrics" }

// AnalysisRef is the minimal reference the Deduplicator needs to a prior
// analyzed alert: its own id, its severity, and the id of its llm_analysis row.
type AnalysisRef struct {
	AlertID    ulid.ULID
	Severity   Severity
	AnalysisID ulid.ULID
}
