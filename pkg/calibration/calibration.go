// Package calibration holds the acquisition-constant tables shared by
// every pixel of a spectral decomposition run: the detector response,
// the per-material attenuation curves, the incident spectrum and the
// energy thresholds. Tables are constructed once per acquisition setup,
// validated before any pixel is processed, and treated as immutable and
// freely shareable across worker goroutines afterwards.
package calibration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrConfiguration marks a calibration setup rejected at validation
// time, before any pixel is processed.
var ErrConfiguration = errors.New("invalid calibration configuration")

// Calibration groups the calibration tables of one acquisition setup.
//
// Dimensions must be mutually consistent: DetectorResponse is
// (spectral bins x energies), each MaterialAttenuations row and the
// IncidentSpectrum have one entry per energy, and Thresholds (when set)
// has one edge per bin boundary on the energy grid.
type Calibration struct {
	// DetectorResponse maps incident energy-resolved flux to expected
	// counts in each spectral bin (bins x energies).
	DetectorResponse *mat.Dense

	// MaterialAttenuations holds one attenuation curve per basis
	// material (materials x energies).
	MaterialAttenuations [][]float64

	// IncidentSpectrum is the global incident photon fluence per energy,
	// already normalized for solid angle and exposure. May be nil when
	// every pixel supplies its own spectrum.
	IncidentSpectrum []float64

	// Thresholds are the ordered energy-grid indices delimiting the
	// detector's spectral bins: length bins+1, non-decreasing, first
	// edge >= 0, last edge = number of energies. Optional when the
	// detector response is supplied already binned.
	Thresholds []int
}

// NumBins returns the number of detector spectral bins.
func (c *Calibration) NumBins() int {
	if c.DetectorResponse == nil {
		return 0
	}
	r, _ := c.DetectorResponse.Dims()
	return r
}

// NumMaterials returns the number of basis materials.
func (c *Calibration) NumMaterials() int {
	return len(c.MaterialAttenuations)
}

// NumEnergies returns the number of points on the fine energy grid.
func (c *Calibration) NumEnergies() int {
	if c.DetectorResponse == nil {
		return 0
	}
	_, e := c.DetectorResponse.Dims()
	return e
}

// Validate checks the mutual consistency of all calibration tables.
// Every violation is reported as a ConfigurationError wrapping
// ErrConfiguration; decomposition must not start if Validate fails.
func (c *Calibration) Validate() error {
	if c.DetectorResponse == nil {
		return fmt.Errorf("%w: detector response is required", ErrConfiguration)
	}
	bins, energies := c.DetectorResponse.Dims()
	if bins == 0 || energies == 0 {
		return fmt.Errorf("%w: detector response is empty", ErrConfiguration)
	}

	if len(c.MaterialAttenuations) == 0 {
		return fmt.Errorf("%w: at least one material attenuation curve is required", ErrConfiguration)
	}
	for m, curve := range c.MaterialAttenuations {
		if len(curve) != energies {
			return fmt.Errorf("%w: material %d attenuation curve has %d energies, detector response has %d",
				ErrConfiguration, m, len(curve), energies)
		}
	}

	if c.IncidentSpectrum != nil {
		if len(c.IncidentSpectrum) != energies {
			return fmt.Errorf("%w: incident spectrum has %d energies, detector response has %d",
				ErrConfiguration, len(c.IncidentSpectrum), energies)
		}
		for e, v := range c.IncidentSpectrum {
			if v < 0 || math.IsNaN(v) {
				return fmt.Errorf("%w: incident spectrum entry %d is %v, must be nonnegative",
					ErrConfiguration, e, v)
			}
		}
	}

	if c.Thresholds != nil {
		if err := ValidateThresholds(c.Thresholds, bins, energies); err != nil {
			return err
		}
	}

	return nil
}

// ValidateThresholds checks an energy threshold sequence against the
// detector geometry: length numBins+1, values within [0, numEnergies],
// non-decreasing, and last edge equal to numEnergies.
func ValidateThresholds(thresholds []int, numBins, numEnergies int) error {
	if len(thresholds) != numBins+1 {
		return fmt.Errorf("%w: %d thresholds for %d bins, want %d",
			ErrConfiguration, len(thresholds), numBins, numBins+1)
	}
	if thresholds[0] < 0 {
		return fmt.Errorf("%w: first threshold %d is negative", ErrConfiguration, thresholds[0])
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] < thresholds[i-1] {
			return fmt.Errorf("%w: thresholds decrease at index %d (%d -> %d)",
				ErrConfiguration, i, thresholds[i-1], thresholds[i])
		}
	}
	if last := thresholds[len(thresholds)-1]; last != numEnergies {
		return fmt.Errorf("%w: last threshold is %d, must equal the number of energies %d",
			ErrConfiguration, last, numEnergies)
	}
	return nil
}

// BinResponse collapses a fine (energies x energies) detector response
// into the coarser (bins x energies) table consumed by the forward
// model, by summing the response rows that fall inside each threshold
// interval [thresholds[b], thresholds[b+1]). This is how an
// energy-resolved detector characterization is grouped into the bins
// the counting hardware actually reports.
func BinResponse(full *mat.Dense, thresholds []int) (*mat.Dense, error) {
	if full == nil {
		return nil, fmt.Errorf("%w: full detector response is required", ErrConfiguration)
	}
	rows, energies := full.Dims()
	if rows != energies {
		return nil, fmt.Errorf("%w: full detector response is %dx%d, want square over the energy grid",
			ErrConfiguration, rows, energies)
	}
	numBins := len(thresholds) - 1
	if numBins < 1 {
		return nil, fmt.Errorf("%w: need at least two thresholds", ErrConfiguration)
	}
	if err := ValidateThresholds(thresholds, numBins, energies); err != nil {
		return nil, err
	}

	binned := mat.NewDense(numBins, energies, nil)
	for b := 0; b < numBins; b++ {
		for row := thresholds[b]; row < thresholds[b+1]; row++ {
			for e := 0; e < energies; e++ {
				binned.Set(b, e, binned.At(b, e)+full.At(row, e))
			}
		}
	}
	return binned, nil
}
