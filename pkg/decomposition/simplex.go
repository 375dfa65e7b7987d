package decomposition

import (
	"gonum.org/v1/gonum/optimize"
)

const (
	// DefaultIterations is the default simplex iteration budget.
	DefaultIterations = 300

	// DefaultTolerance is the default absolute function-convergence
	// tolerance of the simplex search.
	DefaultTolerance = 1e-9

	// convergeWindow is the number of consecutive iterations the best
	// objective value must improve by less than the tolerance before
	// the search is declared converged.
	convergeWindow = 10
)

// SimplexOptimizer is a derivative-free Nelder-Mead search over the
// material line-integral space. It is stateless between calls: the
// trial simplex and evaluation counters live on the stack of Minimize,
// so one instance may be reused sequentially, and distinct pixels may
// be optimized concurrently with distinct calls.
//
// The search is unconstrained. Negative line integrals are reachable
// (and occur transiently with noisy counts); the only effective barrier
// is the +Inf the objective returns where the forward model underflows.
type SimplexOptimizer struct {
	// MaxIterations caps the number of simplex iterations. Zero or
	// negative selects DefaultIterations.
	MaxIterations int

	// Tolerance is the absolute function-convergence tolerance. Zero or
	// negative selects DefaultTolerance.
	Tolerance float64
}

// Minimize searches for a minimizer of objective starting from the
// given initial guess. The initial simplex is constructed
// deterministically from the guess, so repeated runs on identical
// inputs return identical results.
//
// It returns the best point and value found and whether the tolerance
// was met within the iteration budget. When the budget runs out first,
// the best point so far is still returned with converged=false; the
// caller decides how much to trust it.
func (s *SimplexOptimizer) Minimize(objective func([]float64) float64, initial []float64) (x []float64, value float64, converged bool, err error) {
	iterations := s.MaxIterations
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: iterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   tolerance,
			Iterations: convergeWindow,
		},
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
	if result == nil || result.X == nil {
		return nil, 0, false, err
	}

	// A method-level error still leaves the best visited point in the
	// result; report it unconverged rather than losing the pixel.
	converged = err == nil && result.Status == optimize.FunctionConvergence
	return result.X, result.F, converged, nil
}
