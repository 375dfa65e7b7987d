package decomposition

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerate marks a per-pixel numeric failure during variance
// estimation: a singular or ill-conditioned Fisher information matrix,
// or a solution whose predicted counts are unusable. It is local to the
// affected pixel and never aborts a batch.
var ErrDegenerate = errors.New("numerically degenerate pixel")

// fisherCondMax is the largest acceptable condition number of the
// Fisher matrix. Materials with near-collinear attenuation curves, or
// too few distinguishable bins, push the condition number past this
// and the bound is refused rather than silently approximated.
const fisherCondMax = 1e12

// CramerRaoLowerBound computes, at a converged line-integral vector,
// the reciprocal of the Cramer-Rao variance bound for each material:
// the best achievable precision of an unbiased estimator, ready for use
// as an inverse-variance weight downstream.
//
// The Fisher information is assembled from the partial derivatives of
// each bin's predicted count with respect to each material:
//
//	dlambda_b/da  = sum_e response[b][e] * attenuated[e] * mu[a][e]
//	F[a][a']      = sum_b (counts_b / lambda_b^2) * dlambda_b/da * dlambda_b/da'
//
// and inverted by Cholesky factorization; failure to factorize, an
// excessive condition number, or a non-positive variance on the
// diagonal all report ErrDegenerate.
func (l *NegativeLogLikelihood) CramerRaoLowerBound(lineIntegrals []float64) ([]float64, error) {
	materials := l.model.NumMaterials()
	bins := l.model.NumBins()

	// After ExpectedCounts both scratch vectors are coherent: expected
	// holds the lambdas, attenuated the matching attenuated spectrum.
	lambdas := l.model.ExpectedCounts(lineIntegrals)
	attenuated := l.model.attenuated

	weights := make([]float64, bins)
	for b, lambda := range lambdas {
		if lambda <= 0 || math.IsInf(lambda, 1) || math.IsNaN(lambda) {
			return nil, fmt.Errorf("%w: unusable predicted count %v in bin %d", ErrDegenerate, lambda, b)
		}
		weights[b] = l.counts[b] / (lambda * lambda)
	}

	// Partial derivatives of the lambdas, one column per material.
	intermediate := mat.NewVecDense(attenuated.Len(), nil)
	derivatives := mat.NewDense(bins, materials, nil)
	column := mat.NewVecDense(bins, nil)
	for a := 0; a < materials; a++ {
		for e := 0; e < attenuated.Len(); e++ {
			intermediate.SetVec(e, attenuated.AtVec(e)*l.model.attenuations[a][e])
		}
		column.MulVec(l.model.response, intermediate)
		derivatives.SetCol(a, column.RawVector().Data)
	}

	fisher := mat.NewSymDense(materials, nil)
	for a := 0; a < materials; a++ {
		for aPrime := a; aPrime < materials; aPrime++ {
			sum := 0.0
			for b := 0; b < bins; b++ {
				sum += weights[b] * derivatives.At(b, a) * derivatives.At(b, aPrime)
			}
			fisher.SetSym(a, aPrime, sum)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(fisher); !ok {
		return nil, fmt.Errorf("%w: Fisher information matrix is not positive definite", ErrDegenerate)
	}
	if cond := chol.Cond(); cond > fisherCondMax {
		return nil, fmt.Errorf("%w: Fisher information matrix is ill-conditioned (condition number %.3g)", ErrDegenerate, cond)
	}

	var inverse mat.SymDense
	if err := chol.InverseTo(&inverse); err != nil {
		return nil, fmt.Errorf("%w: Fisher information matrix inversion failed", ErrDegenerate)
	}

	precisions := make([]float64, materials)
	for a := 0; a < materials; a++ {
		variance := inverse.At(a, a)
		if variance <= 0 || math.IsInf(variance, 0) || math.IsNaN(variance) {
			return nil, fmt.Errorf("%w: non-positive variance bound for material %d", ErrDegenerate, a)
		}
		precisions[a] = 1 / variance
	}
	return precisions, nil
}
