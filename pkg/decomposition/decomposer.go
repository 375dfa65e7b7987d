package decomposition

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"

	"spectraldecomp/internal/models"
	"spectraldecomp/pkg/calibration"
)

// Params configures a decomposition run.
type Params struct {
	// NumberOfIterations caps the simplex search per pixel.
	// Zero selects the default of 300.
	NumberOfIterations int

	// Tolerance is the absolute function-convergence tolerance of the
	// simplex search. Zero selects the default.
	Tolerance float64

	// NumCores is the number of worker goroutines for the pixel loop.
	// Zero selects runtime.NumCPU().
	NumCores int

	// EstimateVariances enables the Cramer-Rao bound computation at
	// each converged solution.
	EstimateVariances bool
}

// Decomposer applies the per-pixel decomposition algorithm across a
// projection stack. It holds only the validated, read-only calibration
// and the run parameters, so a single Decomposer is safe to use from
// multiple goroutines; all mutable per-pixel state is private to each
// worker.
type Decomposer struct {
	cal    *calibration.Calibration
	params Params
}

// NewDecomposer validates the calibration and builds a decomposer.
// Configuration errors are reported here, before any pixel is touched.
func NewDecomposer(cal *calibration.Calibration, params Params) (*Decomposer, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	if params.NumberOfIterations <= 0 {
		params.NumberOfIterations = DefaultIterations
	}
	if params.Tolerance <= 0 {
		params.Tolerance = DefaultTolerance
	}
	if params.NumCores <= 0 {
		params.NumCores = runtime.NumCPU()
	}
	return &Decomposer{cal: cal, params: params}, nil
}

// DecomposePixel runs the full per-pixel algorithm for one pixel:
// bind the objective to the measured counts, run the simplex search
// from the initial guess, then (when enabled) evaluate the Cramer-Rao
// bound at the solution. A nil spectrum selects the calibration's
// global incident spectrum.
func (d *Decomposer) DecomposePixel(counts, initial, spectrum []float64) models.PixelResult {
	cost := NewNegativeLogLikelihood(d.cal)
	optimizer := &SimplexOptimizer{
		MaxIterations: d.params.NumberOfIterations,
		Tolerance:     d.params.Tolerance,
	}
	return d.decomposePixel(cost, optimizer, counts, initial, spectrum)
}

// decomposePixel is the worker-side pixel algorithm, reusing the
// caller's objective and optimizer across pixels.
func (d *Decomposer) decomposePixel(cost *NegativeLogLikelihood, optimizer *SimplexOptimizer, counts, initial, spectrum []float64) models.PixelResult {
	materials := d.cal.NumMaterials()

	// Unusable measurements are a local failure, not a batch failure.
	if len(counts) != d.cal.NumBins() || floats.Min(counts) < 0 || floats.HasNaN(counts) {
		return invalidResult(materials)
	}

	cost.Bind(counts, spectrum)

	best, _, converged, err := optimizer.Minimize(cost.Value, initial)
	if err != nil || best == nil {
		return invalidResult(materials)
	}

	result := models.PixelResult{
		LineIntegrals: best,
		Converged:     converged,
	}
	if d.params.EstimateVariances {
		precisions, err := cost.CramerRaoLowerBound(best)
		if err != nil {
			result.Degenerate = true
			result.Precisions = nanVector(materials)
		} else {
			result.Precisions = precisions
		}
	}
	return result
}

// DecomposeProjections decomposes every pixel of the stack, dividing
// the pixels among NumCores workers. Each worker owns a private
// objective and optimizer; the calibration is shared read-only. The
// returned summary tallies per-pixel failures, none of which abort the
// run.
func (d *Decomposer) DecomposeProjections(stack *models.ProjectionStack) ([]models.PixelResult, models.Summary, error) {
	if err := d.validateStack(stack); err != nil {
		return nil, models.Summary{}, err
	}

	numPixels := stack.NumPixels()
	results := make([]models.PixelResult, numPixels)

	numCores := d.params.NumCores
	if numCores > numPixels {
		numCores = numPixels
	}
	pixelsPerCore := (numPixels + numCores - 1) / numCores

	tallies := make(chan models.Summary, numCores)
	var wg sync.WaitGroup
	for c := 0; c < numCores; c++ {
		wg.Add(1)

		go func(coreID int) {
			defer wg.Done()

			start := coreID * pixelsPerCore
			end := (coreID + 1) * pixelsPerCore
			if end > numPixels {
				end = numPixels
			}
			if start >= numPixels {
				tallies <- models.Summary{}
				return
			}

			// Per-worker state: never shared across goroutines.
			cost := NewNegativeLogLikelihood(d.cal)
			optimizer := &SimplexOptimizer{
				MaxIterations: d.params.NumberOfIterations,
				Tolerance:     d.params.Tolerance,
			}

			var tally models.Summary
			for p := start; p < end; p++ {
				var spectrum []float64
				if stack.Spectra != nil {
					spectrum = stack.Spectra[p]
				}
				results[p] = d.decomposePixel(cost, optimizer, stack.Counts[p], stack.Initial[p], spectrum)

				tally.Pixels++
				if !results[p].Converged {
					tally.NonConverged++
				}
				if results[p].Degenerate {
					tally.Degenerate++
				}
			}
			tallies <- tally
		}(c)
	}

	wg.Wait()
	close(tallies)

	var summary models.Summary
	for tally := range tallies {
		summary.Pixels += tally.Pixels
		summary.NonConverged += tally.NonConverged
		summary.Degenerate += tally.Degenerate
	}
	return results, summary, nil
}

// validateStack checks the stack's shape against the calibration before
// any pixel is processed.
func (d *Decomposer) validateStack(stack *models.ProjectionStack) error {
	if stack == nil || stack.NumPixels() == 0 {
		return fmt.Errorf("%w: projection stack is empty", calibration.ErrConfiguration)
	}
	numPixels := stack.NumPixels()
	for p, counts := range stack.Counts {
		if len(counts) != d.cal.NumBins() {
			return fmt.Errorf("%w: pixel %d has %d measured counts, calibration has %d bins",
				calibration.ErrConfiguration, p, len(counts), d.cal.NumBins())
		}
	}
	if len(stack.Initial) != numPixels {
		return fmt.Errorf("%w: %d initial guesses for %d pixels",
			calibration.ErrConfiguration, len(stack.Initial), numPixels)
	}
	for p, initial := range stack.Initial {
		if len(initial) != d.cal.NumMaterials() {
			return fmt.Errorf("%w: pixel %d initial guess has %d materials, calibration has %d",
				calibration.ErrConfiguration, p, len(initial), d.cal.NumMaterials())
		}
	}
	if stack.Spectra != nil {
		if len(stack.Spectra) != numPixels {
			return fmt.Errorf("%w: %d per-pixel spectra for %d pixels",
				calibration.ErrConfiguration, len(stack.Spectra), numPixels)
		}
		for p, spectrum := range stack.Spectra {
			if len(spectrum) != d.cal.NumEnergies() {
				return fmt.Errorf("%w: pixel %d spectrum has %d energies, calibration has %d",
					calibration.ErrConfiguration, p, len(spectrum), d.cal.NumEnergies())
			}
		}
	} else if d.cal.IncidentSpectrum == nil {
		return fmt.Errorf("%w: no incident spectrum, neither global nor per pixel",
			calibration.ErrConfiguration)
	}
	return nil
}

// invalidResult marks a pixel whose inputs or search were unusable.
func invalidResult(materials int) models.PixelResult {
	return models.PixelResult{
		LineIntegrals: nanVector(materials),
		Precisions:    nanVector(materials),
		Degenerate:    true,
	}
}

func nanVector(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}
