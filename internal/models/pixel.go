package models

// PixelResult holds the decomposition output for a single detector pixel.
type PixelResult struct {
	// LineIntegrals is the estimated path-integrated thickness of each
	// basis material along the ray through this pixel.
	LineIntegrals []float64

	// Precisions holds the inverse Cramer-Rao variance bound for each
	// material estimate, suitable for direct use as inverse-variance
	// weights downstream. All entries are NaN when Degenerate is true.
	Precisions []float64

	// Converged reports whether the simplex search met its tolerance
	// within the iteration budget. A false value marks a low-confidence
	// estimate, not an absent one.
	Converged bool

	// Degenerate reports a per-pixel numeric failure: a singular Fisher
	// information matrix, or measured counts that are unusable.
	Degenerate bool
}

// ProjectionStack is the per-pixel input to a decomposition run.
// Rows are indexed by pixel; the stack carries no geometry, only the
// values the per-pixel algorithm needs.
type ProjectionStack struct {
	// Counts holds the measured photon counts, one row per pixel,
	// row length = number of spectral bins. Nonnegative.
	Counts [][]float64

	// Initial holds the starting guess for each pixel's line integrals,
	// one row per pixel, row length = number of materials. Conventionally
	// taken from a prior decomposition; used only as a starting point.
	Initial [][]float64

	// Spectra optionally holds a per-pixel incident spectrum, one row per
	// pixel, row length = number of energies. Nil means every pixel uses
	// the calibration's global incident spectrum.
	Spectra [][]float64
}

// NumPixels returns the number of pixels in the stack.
func (s *ProjectionStack) NumPixels() int {
	return len(s.Counts)
}

// Summary aggregates per-pixel diagnostics for a decomposition run.
// Individual pixel failures never abort a run; they are tallied here.
type Summary struct {
	// Pixels is the total number of pixels processed.
	Pixels int

	// NonConverged counts pixels whose simplex search exhausted its
	// iteration budget before meeting tolerance.
	NonConverged int

	// Degenerate counts pixels with a numeric failure (singular Fisher
	// matrix or unusable measured counts).
	Degenerate int
}
