package detector

import "gonum.org/v1/gonum/stat"

// scaler standardizes a single feature to zero mean, unit variance — the
// one-dimensional equivalent of scikit-learn's StandardScaler.
type scaler struct {
	Mean float64
	Std  float64
}

// fit computes the mean and standard deviation of values.
func (s *scaler) fit(values []float64) {
	s.Mean = stat.Mean(values, nil)
	s.Std = stat.StdDev(values, nil)
}

// transform standardizes x. A zero-variance training set (degenerate, but
// possible with constant bootstrap data) maps every input to zero rather
// than dividing by zero.
func (s *scaler) transform(x float64) float64 {
	if s.Std == 0 {
		return 0
	}
	return (x - s.Mean) / s.Std
}
