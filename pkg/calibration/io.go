package calibration

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// readTable reads a CSV file of floats into rows of equal length.
func readTable(path string) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse table %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: table %s is empty", ErrConfiguration, path)
	}

	rows := make([][]float64, len(records))
	for i, record := range records {
		if len(record) != len(records[0]) {
			return nil, fmt.Errorf("%w: table %s row %d has %d columns, row 0 has %d",
				ErrConfiguration, path, i, len(record), len(records[0]))
		}
		row := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse table %s at row %d column %d: %w", path, i, j, err)
			}
			row[j] = v
		}
		rows[i] = row
	}
	return rows, nil
}

// LoadResponseCSV loads a detector response matrix (bins x energies,
// one bin per row) from a CSV file.
func LoadResponseCSV(path string) (*mat.Dense, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	flat := make([]float64, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return mat.NewDense(len(rows), len(rows[0]), flat), nil
}

// LoadAttenuationsCSV loads material attenuation curves (materials x
// energies, one material per row) from a CSV file.
func LoadAttenuationsCSV(path string) ([][]float64, error) {
	return readTable(path)
}

// LoadSpectrumCSV loads an incident spectrum from a single-row (or
// single-column) CSV file.
func LoadSpectrumCSV(path string) ([]float64, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 1 {
		return rows[0], nil
	}
	// Column layout: one energy per line.
	spectrum := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != 1 {
			return nil, fmt.Errorf("%w: spectrum %s must be a single row or a single column", ErrConfiguration, path)
		}
		spectrum[i] = row[0]
	}
	return spectrum, nil
}
