// Package dataset stores the offline samples of the nearest neighbour search:
// one distance feature and one state perturbation per row.
package dataset

import (
	"github.com/LdDl/mtf-go/mtf"
	"github.com/google/uuid"
)

const component = "dataset"

// Record is a view of one dataset row
type Record struct {
	Feature      []float64
	Perturbation []float64
}

// Dataset keeps features and perturbations in two contiguous row-major slabs
type Dataset struct {
	// ID ties an index artifact to the database it was built from
	ID       uuid.UUID
	FeatDim  int
	StateDim int
	// RefState is the state the perturbations were generated around
	RefState      []float64
	rows          int
	features      []float64
	perturbations []float64
}

// New preallocates dataset of the given number of rows. Rows are filled with SetRow.
func New(rows, featDim, stateDim int, refState []float64) (*Dataset, error) {
	if rows <= 0 {
		return nil, mtf.NewConfigurationError(component, "rows must be positive, got %d", rows)
	}
	if featDim <= 0 || stateDim <= 0 {
		return nil, mtf.NewConfigurationError(component, "dimensions must be positive, got feature %d and state %d", featDim, stateDim)
	}
	if len(refState) != stateDim {
		return nil, mtf.NewConfigurationError(component, "reference state has %d values, expected %d", len(refState), stateDim)
	}
	return &Dataset{
		ID:            uuid.New(),
		FeatDim:       featDim,
		StateDim:      stateDim,
		RefState:      append([]float64(nil), refState...),
		rows:          rows,
		features:      make([]float64, rows*featDim),
		perturbations: make([]float64, rows*stateDim),
	}, nil
}

// Rows returns number of records
func (d *Dataset) Rows() int {
	return d.rows
}

// Feature returns a view of i-th feature row
func (d *Dataset) Feature(i int) []float64 {
	return d.features[i*d.FeatDim : (i+1)*d.FeatDim : (i+1)*d.FeatDim]
}

// Perturbation returns a view of i-th perturbation row
func (d *Dataset) Perturbation(i int) []float64 {
	return d.perturbations[i*d.StateDim : (i+1)*d.StateDim : (i+1)*d.StateDim]
}

// Record returns views of both rows at index i
func (d *Dataset) Record(i int) Record {
	return Record{Feature: d.Feature(i), Perturbation: d.Perturbation(i)}
}

// SetRow copies feature and perturbation into row i.
// Distinct rows may be set concurrently.
func (d *Dataset) SetRow(i int, feature, perturbation []float64) error {
	if i < 0 || i >= d.rows {
		return mtf.NewLogicError(component, "row %d out of range [0, %d)", i, d.rows)
	}
	if len(feature) != d.FeatDim || len(perturbation) != d.StateDim {
		return mtf.NewLogicError(component, "row %d has sizes %d/%d, expected %d/%d", i, len(feature), len(perturbation), d.FeatDim, d.StateDim)
	}
	copy(d.Feature(i), feature)
	copy(d.Perturbation(i), perturbation)
	return nil
}

// Validate checks dataset shape against the live appearance and state space models
func (d *Dataset) Validate(featDim, stateDim int) error {
	if d.FeatDim != featDim {
		return mtf.NewIOError(component, nil, "stored feature size %d does not match model feature size %d", d.FeatDim, featDim)
	}
	if d.StateDim != stateDim {
		return mtf.NewIOError(component, nil, "stored state size %d does not match model state size %d", d.StateDim, stateDim)
	}
	return nil
}
