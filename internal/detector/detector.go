// Package detector implements the embedded anomaly detector (C2): a
// persisted, isolation-forest-shaped scorer over a single numeric feature,
// with cold-start bootstrap, atomic-replace retraining, and a pure detect path.
package detector

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DetectionResult is the outcome of Detect: either a scored event or a
// descriptive error, never both. Detect never raises — this is the value
// returned across that boundary.
type DetectionResult struct {
	IsAnomaly     bool    `json:"is_anomaly"`
	AnomalyScore  float64 `json:"anomaly_score"`
	ModelVersion  string  `json:"model_version,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// TrainingDataSource is the narrow read the detector needs from the
// persistence gateway to retrain: the most recent metric values.
type TrainingDataSource interface {
	FetchTrainingValues(ctx context.Context, limit int) ([]float64, error)
}

// artifact is the on-disk representation of a fitted detector: scorer,
// scaler, and fitted flag (spec's ModelArtifact).
type artifact struct {
	Scaler    scaler
	Forest    *forest
	Threshold float64
	Version   string
	Fitted    bool
}

// Detector is the embedded anomaly detector. It is safe for concurrent use:
// Detect only ever reads the current artifact pointer; Retrain builds a new
// one and swaps it in atomically.
type Detector struct {
	path          string
	contamination float64
	numEstimators int
	bootstrapSize int
	retrainLimit  int
	seed          int64
	logger        *slog.Logger
	source        TrainingDataSource

	current   atomic.Pointer[artifact]
	retrainMu sync.Mutex // serializes concurrent Retrain calls; Detect is unaffected
}

// Config configures a Detector.
type Config struct {
	ArtifactPath   string
	Contamination  float64
	NumEstimators  int
	BootstrapSize  int
	RetrainLimit   int
	RandomSeed     int64
}

// New constructs a Detector. Call Init before the first Detect.
func New(cfg Config, source TrainingDataSource, logger *slog.Logger) *Detector {
	d := &Detector{
		path:          cfg.ArtifactPath,
		contamination: cfg.Contamination,
		numEstimators: cfg.NumEstimators,
		bootstrapSize: cfg.BootstrapSize,
		retrainLimit:  cfg.RetrainLimit,
		seed:          cfg.RandomSeed,
		logger:        logger,
		source:        source,
	}
	return d
}

// Init loads the persisted artifact from disk, or, if none exists, performs
// a bootstrap fit on samples drawn from a fixed-seed Gaussian (mean 50,
// std 10) so Detect never fails for lack of a fitted model. The bootstrap
// result is persisted immediately so restarts are stable.
func (d *Detector) Init() error {
	art, err := d.load()
	if err == nil {
		d.current.Store(art)
		d.logger.Info("loaded anomaly detector artifact", "path", d.path)
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("failed to load model artifact: %w", err)
	}

	d.logger.Info("no existing model artifact found, bootstrapping", "path", d.path)
	rng := rand.New(rand.NewSource(d.seed))
	bootstrap := make([]float64, d.bootstrapSize)
	for i := range bootstrap {
		bootstrap[i] = 50 + rng.NormFloat64()*10
	}
	art = d.fitArtifact(bootstrap, rng)
	d.current.Store(art)
	return d.save(art)
}

// Detect coerces the raw metric_value, scores it against the current
// artifact, and returns a result object. It performs no I/O and never raises.
func (d *Detector) Detect(raw RawMetricValue) DetectionResult {
	value, errStr := coerceMetricValue(raw)
	if errStr != "" {
		return DetectionResult{IsAnomaly: false, Error: errStr}
	}

	art := d.current.Load()
	if art == nil || !art.Fitted {
		return DetectionResult{IsAnomaly: false, AnomalyScore: 0}
	}

	scaled := art.Scaler.transform(value)
	isoScore := art.Forest.anomalyScore(scaled)
	score := -isoScore // lower (more negative) == more anomalous, per contract

	return DetectionResult{
		IsAnomaly:    isoScore >= art.Threshold,
		AnomalyScore: score,
		ModelVersion: art.Version,
	}
}

// Retrain fetches up to retrainLimit most recent metric values, replacing
// NULL/NaN with zero, fits a new scaler+forest, and atomically persists the
// result. It is a no-op if the fetch returns zero rows. Callers are expected
// to dispatch this off the consumer loop's hot path (see internal/scheduler).
func (d *Detector) Retrain(ctx context.Context) error {
	d.retrainMu.Lock()
	defer d.retrainMu.Unlock()

	values, err := d.source.FetchTrainingValues(ctx, d.retrainLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch training values: %w", err)
	}
	if len(values) == 0 {
		d.logger.Info("retrain skipped: no training rows available")
		return nil
	}

	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			values[i] = 0
		}
	}

	rng := rand.New(rand.NewSource(d.seed))
	art := d.fitArtifact(values, rng)
	d.current.Store(art)

	if err := d.save(art); err != nil {
		return fmt.Errorf("failed to persist retrained artifact: %w", err)
	}
	d.logger.Info("model retrained", "samples", len(values), "version", art.Version)
	return nil
}

func (d *Detector) fitArtifact(data []float64, rng *rand.Rand) *artifact {
	var s scaler
	s.fit(data)

	scaled := make([]float64, len(data))
	for i, v := range data {
		scaled[i] = s.transform(v)
	}

	sampleSize := d.bootstrapSize
	if sampleSize > len(scaled) || sampleSize <= 0 {
		sampleSize = len(scaled)
	}
	f := fitForest(scaled, d.numEstimators, sampleSize, rng)

	scores := make([]float64, len(scaled))
	for i, v := range scaled {
		scores[i] = f.anomalyScore(v)
	}
	threshold := contaminationThreshold(scores, d.contamination)

	return &artifact{
		Scaler:    s,
		Forest:    f,
		Threshold: threshold,
		Version:   fmt.Sprintf("v%d", time.Now().UnixNano()),
		Fitted:    true,
	}
}

// contaminationThreshold picks the score cutoff so that approximately
// `contamination` of the training scores fall at or above it (more
// anomalous), mirroring scikit-learn's contamination-derived offset_.
func contaminationThreshold(scores []float64, contamination float64) float64 {
	if len(scores) == 0 {
		return 1 // nothing will ever reach it; Detect already guards Fitted
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	return stat.Quantile(1-contamination, stat.Empirical, sorted, nil)
}

func (d *Detector) load() (*artifact, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var art artifact
	if err := gob.NewDecoder(f).Decode(&art); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	return &art, nil
}

// save writes the artifact via write-temp-then-rename so a reader never
// observes a partially-written file.
func (d *Detector) save(art *artifact) error {
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "model-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := gob.NewEncoder(tmp).Encode(art); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode model artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp artifact file: %w", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		return fmt.Errorf("failed to rename temp artifact into place: %w", err)
	}
	return nil
}
