// Package sampling turns sparse user labels and cached slice features into
// training tables for the classifier.
package sampling

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"oneshotseg/internal/models"
	"oneshotseg/pkg/features"
)

// ErrValidation marks label volumes that cannot be used for training
var ErrValidation = errors.New("invalid label volume")

// ValidationError describes why a label volume was rejected
type ValidationError struct {
	// Values holds the distinct non-zero labels that were found
	Values []uint16
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("label volume must contain exactly two distinct non-zero labels, found %d %v", len(e.Values), e.Values)
}

// Is lets errors.Is match ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ClassPair holds the two label values used for training
type ClassPair struct {
	// ROI is the label of the region of interest (LABEL 1)
	ROI uint16
	// Other is the label of explicitly tagged non-ROI material (LABEL 0)
	Other uint16
}

// DiscoverClasses returns the two non-zero label values present in labels.
// The smaller value is the region of interest. Any other count of distinct
// non-zero values is a *ValidationError.
func DiscoverClasses(labels *models.LabelVolume) (ClassPair, error) {
	seen := make(map[uint16]struct{})
	for _, v := range labels.Data {
		if v == 0 {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		if len(seen) > 2 {
			break
		}
	}

	values := make([]uint16, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	if len(values) != 2 {
		return ClassPair{}, &ValidationError{Values: values}
	}

	return ClassPair{ROI: values[0], Other: values[1]}, nil
}

// Table is a training table: one row per labelled pixel, one column per
// feature channel. Labels[i] is 1 for the region of interest and 0 for the
// other class.
type Table struct {
	Labels   []float64
	Features *mat.Dense
}

// Rows returns the number of rows in the table
func (t *Table) Rows() int {
	return len(t.Labels)
}

// Count returns the number of rows with the given label
func (t *Table) Count(label float64) int {
	n := 0
	for _, l := range t.Labels {
		if l == label {
			n++
		}
	}
	return n
}

// BuildTable gathers the feature vector of every pixel labelled pair.ROI or
// pair.Other, scanning slices in depth order. ROI rows come first.
func BuildTable(cache *features.Cache, labels *models.LabelVolume, pair ClassPair) (*Table, error) {
	if !cache.Computed() {
		return nil, errors.New("feature cache has not been computed")
	}
	if cache.Len() != labels.Depth {
		return nil, fmt.Errorf("%w: cache has %d slices, labels have %d", models.ErrShapeMismatch, cache.Len(), labels.Depth)
	}

	var roi, other []float64
	nROI, nOther := 0, 0
	channels := 0

	for z := 0; z < labels.Depth; z++ {
		stack := cache.Stack(z)
		if stack.Width != labels.Width || stack.Height != labels.Height {
			return nil, fmt.Errorf("%w: slice %d features are %dx%d, labels are %dx%d",
				models.ErrShapeMismatch, z, stack.Width, stack.Height, labels.Width, labels.Height)
		}
		channels = stack.Channels

		row := make([]float64, stack.Channels)
		for i, v := range labels.SliceData(z) {
			switch v {
			case pair.ROI:
				stack.Pixel(i, row)
				roi = append(roi, row...)
				nROI++
			case pair.Other:
				stack.Pixel(i, row)
				other = append(other, row...)
				nOther++
			}
		}
	}

	if nROI == 0 || nOther == 0 {
		return nil, &ValidationError{Values: presentValues(pair, nROI, nOther)}
	}

	data := append(roi, other...)
	tbl := &Table{
		Labels:   make([]float64, nROI+nOther),
		Features: mat.NewDense(nROI+nOther, channels, data),
	}
	for i := 0; i < nROI; i++ {
		tbl.Labels[i] = 1
	}

	return tbl, nil
}

func presentValues(pair ClassPair, nROI, nOther int) []uint16 {
	var values []uint16
	if nROI > 0 {
		values = append(values, pair.ROI)
	}
	if nOther > 0 {
		values = append(values, pair.Other)
	}
	return values
}

// FlattenStack converts a feature stack into a per-pixel table with
// Height*Width rows and one column per channel
func FlattenStack(stack *features.Stack) *mat.Dense {
	n := stack.Height * stack.Width
	data := make([]float64, n*stack.Channels)
	for c := 0; c < stack.Channels; c++ {
		ch := stack.Channel(c)
		for i, v := range ch {
			data[i*stack.Channels+c] = v
		}
	}
	return mat.NewDense(n, stack.Channels, data)
}
