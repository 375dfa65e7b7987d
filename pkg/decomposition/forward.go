// Package decomposition implements the per-pixel material decomposition
// engine for multi-energy photon-counting detector data: the physical
// forward model, the Poisson negative log-likelihood objective, a
// derivative-free simplex search, the Cramer-Rao variance bound, and
// the data-parallel loop that applies them across a projection stack.
//
// The approach follows Schlomka et al, "Experimental feasibility of
// multi-energy photon-counting K-edge imaging in pre-clinical computed
// tomography", PMB 2008.
package decomposition

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"spectraldecomp/pkg/calibration"
)

// ForwardModel predicts expected per-bin detector counts from a
// candidate material line-integral vector and fixed calibration tables.
// It owns scratch buffers sized to the calibration, so one instance
// must not be shared across goroutines; the calibration itself is
// read-only and freely shared.
type ForwardModel struct {
	response     *mat.Dense
	attenuations [][]float64
	global       []float64
	spectrum     []float64

	attenuated *mat.VecDense
	expected   *mat.VecDense
}

// NewForwardModel builds a forward model over the given calibration,
// initially using the calibration's global incident spectrum.
func NewForwardModel(cal *calibration.Calibration) *ForwardModel {
	return &ForwardModel{
		response:     cal.DetectorResponse,
		attenuations: cal.MaterialAttenuations,
		global:       cal.IncidentSpectrum,
		spectrum:     cal.IncidentSpectrum,
		attenuated:   mat.NewVecDense(cal.NumEnergies(), nil),
		expected:     mat.NewVecDense(cal.NumBins(), nil),
	}
}

// SetSpectrum switches the model to a per-pixel incident spectrum.
// Passing nil restores the calibration's global spectrum.
func (f *ForwardModel) SetSpectrum(spectrum []float64) {
	if spectrum == nil {
		f.spectrum = f.global
		return
	}
	f.spectrum = spectrum
}

// NumMaterials returns the dimensionality of the line-integral space.
func (f *ForwardModel) NumMaterials() int { return len(f.attenuations) }

// NumBins returns the number of detector spectral bins.
func (f *ForwardModel) NumBins() int { return f.expected.Len() }

// AttenuatedSpectrum computes the incident spectrum attenuated by the
// candidate line integrals:
//
//	attenuated[e] = incident[e] * exp(-sum_m x[m] * mu[m][e])
//
// The returned slice aliases internal scratch and is valid until the
// next call on this model.
func (f *ForwardModel) AttenuatedSpectrum(lineIntegrals []float64) []float64 {
	att := f.attenuated.RawVector().Data
	for e, incident := range f.spectrum {
		total := 0.0
		for m, curve := range f.attenuations {
			total += lineIntegrals[m] * curve[e]
		}
		att[e] = incident * math.Exp(-total)
	}
	return att
}

// ExpectedCounts applies the detector response to the attenuated
// spectrum, yielding the expected counts lambda in each spectral bin.
// The returned slice aliases internal scratch and is valid until the
// next call on this model; the attenuated-spectrum scratch still holds
// the matching attenuated values afterwards.
func (f *ForwardModel) ExpectedCounts(lineIntegrals []float64) []float64 {
	f.AttenuatedSpectrum(lineIntegrals)
	f.expected.MulVec(f.response, f.attenuated)
	return f.expected.RawVector().Data
}
