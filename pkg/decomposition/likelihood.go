package decomposition

import (
	"math"

	"spectraldecomp/pkg/calibration"
)

// NegativeLogLikelihood is the Poisson objective minimized for each
// pixel: it wraps the forward model against that pixel's measured
// counts. One instance is bound to one pixel at a time via Bind; a
// worker goroutine reuses its instance across the pixels it owns, but
// instances are never shared between goroutines.
//
// No derivative is provided: the analytic gradient of the binned
// forward model is too involved for the benefit it would bring, so the
// search is zero-order only.
type NegativeLogLikelihood struct {
	model  *ForwardModel
	counts []float64
}

// NewNegativeLogLikelihood builds an objective over the calibration,
// unbound to any pixel. Bind must be called before Value.
func NewNegativeLogLikelihood(cal *calibration.Calibration) *NegativeLogLikelihood {
	return &NegativeLogLikelihood{model: NewForwardModel(cal)}
}

// Bind attaches the objective to one pixel's measured counts and, when
// spectrum is non-nil, its per-pixel incident spectrum.
func (l *NegativeLogLikelihood) Bind(counts, spectrum []float64) {
	l.counts = counts
	l.model.SetSpectrum(spectrum)
}

// Model returns the forward model backing this objective.
func (l *NegativeLogLikelihood) Model() *ForwardModel { return l.model }

// Value evaluates the negative log-likelihood at a candidate
// line-integral vector:
//
//	sum_b lambda_b - counts_b * ln(lambda_b)
//
// with the counts-dependent normalizing term dropped (constant in the
// optimization variable). Analytically every lambda_b is positive and
// finite, but extreme candidates break that numerically in either
// direction: large positive line integrals underflow the exponential
// to zero, large negative ones overflow it to +Inf (where the measure
// would be Inf - Inf = NaN). Such vertices return +Inf so the simplex
// rejects them and keeps searching instead of propagating a NaN.
func (l *NegativeLogLikelihood) Value(lineIntegrals []float64) float64 {
	lambdas := l.model.ExpectedCounts(lineIntegrals)

	measure := 0.0
	for b, lambda := range lambdas {
		if lambda <= 0 || math.IsInf(lambda, 1) || math.IsNaN(lambda) {
			return math.Inf(1)
		}
		measure += lambda - l.counts[b]*math.Log(lambda)
	}
	return measure
}
