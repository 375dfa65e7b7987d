package decomposition

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"spectraldecomp/pkg/calibration"
)

// testCalibration builds the reference scenario used across the engine
// tests: 2 materials with clearly separable attenuation curves, 2
// counting bins, 10 energies, flat incident spectrum.
func testCalibration(t *testing.T) *calibration.Calibration {
	t.Helper()

	const energies = 10
	thresholds := []int{0, 5, energies}

	full := mat.NewDense(energies, energies, nil)
	for e := 0; e < energies; e++ {
		full.Set(e, e, 1)
	}
	response, err := calibration.BinResponse(full, thresholds)
	if err != nil {
		t.Fatalf("Failed to bin test response: %v", err)
	}

	// One rising curve, one steeply falling: spectrally well separated.
	rising := make([]float64, energies)
	falling := make([]float64, energies)
	spectrum := make([]float64, energies)
	for e := 0; e < energies; e++ {
		rising[e] = 0.5 + 0.05*float64(e)
		falling[e] = 2.0 * math.Exp(-0.3*float64(e))
		spectrum[e] = 1e5
	}

	cal := &calibration.Calibration{
		DetectorResponse:     response,
		MaterialAttenuations: [][]float64{rising, falling},
		IncidentSpectrum:     spectrum,
		Thresholds:           thresholds,
	}
	if err := cal.Validate(); err != nil {
		t.Fatalf("Test calibration is inconsistent: %v", err)
	}
	return cal
}

// synthesizeCounts returns a stable copy of the forward model output at
// the given line integrals.
func synthesizeCounts(cal *calibration.Calibration, lineIntegrals []float64) []float64 {
	model := NewForwardModel(cal)
	return append([]float64(nil), model.ExpectedCounts(lineIntegrals)...)
}

// TestForwardModelZeroVector verifies that with no material in the beam
// the predicted counts are exactly response * incident
func TestForwardModelZeroVector(t *testing.T) {
	cal := testCalibration(t)
	model := NewForwardModel(cal)

	got := model.ExpectedCounts([]float64{0, 0})

	bins, energies := cal.DetectorResponse.Dims()
	want := make([]float64, bins)
	for b := 0; b < bins; b++ {
		for e := 0; e < energies; e++ {
			want[b] += cal.DetectorResponse.At(b, e) * cal.IncidentSpectrum[e]
		}
	}

	if !floats.EqualApprox(got, want, 1e-12) {
		t.Errorf("ExpectedCounts(0) = %v, want %v", got, want)
	}
}

// TestForwardModelAttenuates verifies that adding material strictly
// reduces every bin's predicted counts
func TestForwardModelAttenuates(t *testing.T) {
	cal := testCalibration(t)
	model := NewForwardModel(cal)

	empty := append([]float64(nil), model.ExpectedCounts([]float64{0, 0})...)
	loaded := model.ExpectedCounts([]float64{1.0, 0.5})

	for b := range loaded {
		if loaded[b] <= 0 {
			t.Errorf("Bin %d predicted count %v, must stay positive", b, loaded[b])
		}
		if loaded[b] >= empty[b] {
			t.Errorf("Bin %d: attenuated count %v not below unattenuated %v", b, loaded[b], empty[b])
		}
	}
}

// TestForwardModelPerPixelSpectrum verifies that SetSpectrum switches
// between per-pixel and global incident spectra
func TestForwardModelPerPixelSpectrum(t *testing.T) {
	cal := testCalibration(t)
	model := NewForwardModel(cal)

	global := append([]float64(nil), model.ExpectedCounts([]float64{0.5, 0.5})...)

	halved := make([]float64, cal.NumEnergies())
	for e := range halved {
		halved[e] = cal.IncidentSpectrum[e] / 2
	}
	model.SetSpectrum(halved)
	perPixel := append([]float64(nil), model.ExpectedCounts([]float64{0.5, 0.5})...)

	for b := range global {
		if math.Abs(perPixel[b]-global[b]/2) > 1e-9*global[b] {
			t.Errorf("Bin %d: halved spectrum gave %v, want %v", b, perPixel[b], global[b]/2)
		}
	}

	// Nil restores the calibration's global spectrum.
	model.SetSpectrum(nil)
	restored := model.ExpectedCounts([]float64{0.5, 0.5})
	if !floats.EqualApprox(restored, global, 1e-12) {
		t.Errorf("After SetSpectrum(nil): got %v, want %v", restored, global)
	}
}

// TestForwardModelDeterministic verifies repeated evaluations are
// bit-identical
func TestForwardModelDeterministic(t *testing.T) {
	cal := testCalibration(t)
	model := NewForwardModel(cal)

	x := []float64{0.7, 0.3}
	first := append([]float64(nil), model.ExpectedCounts(x)...)
	second := model.ExpectedCounts(x)

	for b := range first {
		if first[b] != second[b] {
			t.Errorf("Bin %d: %v != %v across identical evaluations", b, first[b], second[b])
		}
	}
}
