package decomposition

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"spectraldecomp/pkg/calibration"
)

// TestCramerRaoPositivePrecisions verifies that a well-separated
// two-material setup yields finite positive precisions at the solution
func TestCramerRaoPositivePrecisions(t *testing.T) {
	cal := testCalibration(t)
	truth := []float64{1.0, 0.5}
	counts := synthesizeCounts(cal, truth)

	cost := NewNegativeLogLikelihood(cal)
	cost.Bind(counts, nil)

	precisions, err := cost.CramerRaoLowerBound(truth)
	if err != nil {
		t.Fatalf("CramerRaoLowerBound failed: %v", err)
	}
	if len(precisions) != cal.NumMaterials() {
		t.Fatalf("Expected %d precisions, got %d", cal.NumMaterials(), len(precisions))
	}
	for m, p := range precisions {
		if p <= 0 || math.IsInf(p, 0) || math.IsNaN(p) {
			t.Errorf("Material %d precision %v, want finite positive", m, p)
		}
	}
}

// TestCramerRaoCollinearMaterials verifies that two materials with
// identical attenuation curves make the Fisher matrix singular and the
// estimator refuses to report a variance
func TestCramerRaoCollinearMaterials(t *testing.T) {
	const energies = 10
	thresholds := []int{0, 5, energies}
	full := mat.NewDense(energies, energies, nil)
	for e := 0; e < energies; e++ {
		full.Set(e, e, 1)
	}
	response, err := calibration.BinResponse(full, thresholds)
	if err != nil {
		t.Fatalf("Failed to bin response: %v", err)
	}

	curve := make([]float64, energies)
	spectrum := make([]float64, energies)
	for e := 0; e < energies; e++ {
		curve[e] = 0.5 + 0.05*float64(e)
		spectrum[e] = 1e5
	}
	identical := append([]float64(nil), curve...)

	cal := &calibration.Calibration{
		DetectorResponse:     response,
		MaterialAttenuations: [][]float64{curve, identical},
		IncidentSpectrum:     spectrum,
		Thresholds:           thresholds,
	}
	if err := cal.Validate(); err != nil {
		t.Fatalf("Calibration rejected: %v", err)
	}

	truth := []float64{0.6, 0.4}
	counts := synthesizeCounts(cal, truth)

	cost := NewNegativeLogLikelihood(cal)
	cost.Bind(counts, nil)

	_, err = cost.CramerRaoLowerBound(truth)
	if err == nil {
		t.Fatal("Expected a degeneracy error for collinear attenuation curves, got nil")
	}
	if !errors.Is(err, ErrDegenerate) {
		t.Errorf("Expected error wrapping ErrDegenerate, got %v", err)
	}
}

// TestCramerRaoUnderflowedSolution verifies that a solution with
// underflowed predicted counts is reported as degenerate
func TestCramerRaoUnderflowedSolution(t *testing.T) {
	cal := testCalibration(t)
	counts := synthesizeCounts(cal, []float64{1.0, 0.5})

	cost := NewNegativeLogLikelihood(cal)
	cost.Bind(counts, nil)

	_, err := cost.CramerRaoLowerBound([]float64{1e9, 1e9})
	if !errors.Is(err, ErrDegenerate) {
		t.Errorf("Expected ErrDegenerate for underflowed solution, got %v", err)
	}

	// Overflow direction: a large-negative solution drives lambda to
	// +Inf, which is just as unusable as zero.
	_, err = cost.CramerRaoLowerBound([]float64{-2000, 0})
	if !errors.Is(err, ErrDegenerate) {
		t.Errorf("Expected ErrDegenerate for overflowed solution, got %v", err)
	}
}

// TestCramerRaoMorePhotonsMorePrecision verifies the bound scales with
// fluence: ten times the photons should give roughly ten times the
// precision
func TestCramerRaoMorePhotonsMorePrecision(t *testing.T) {
	cal := testCalibration(t)
	truth := []float64{1.0, 0.5}

	baseCounts := synthesizeCounts(cal, truth)
	cost := NewNegativeLogLikelihood(cal)
	cost.Bind(baseCounts, nil)
	base, err := cost.CramerRaoLowerBound(truth)
	if err != nil {
		t.Fatalf("Base bound failed: %v", err)
	}

	bright := make([]float64, cal.NumEnergies())
	for e := range bright {
		bright[e] = 10 * cal.IncidentSpectrum[e]
	}
	cost.Bind(nil, bright)
	brightCounts := append([]float64(nil), cost.Model().ExpectedCounts(truth)...)
	cost.Bind(brightCounts, bright)
	boosted, err := cost.CramerRaoLowerBound(truth)
	if err != nil {
		t.Fatalf("Boosted bound failed: %v", err)
	}

	for m := range base {
		ratio := boosted[m] / base[m]
		if math.Abs(ratio-10) > 0.1 {
			t.Errorf("Material %d precision ratio %v, want ~10", m, ratio)
		}
	}
}
