package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrShapeMismatch is returned when two volumes that must share a shape do not.
var ErrShapeMismatch = errors.New("volume shape mismatch")

// Shape holds the dimensions of a volume in voxels
type Shape struct {
	Width  int
	Height int
	Depth  int
}

// Voxels returns the total number of voxels described by the shape
func (s Shape) Voxels() int {
	return s.Width * s.Height * s.Depth
}

// SliceSize returns the number of pixels in one depth slice
func (s Shape) SliceSize() int {
	return s.Width * s.Height
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Depth, s.Height, s.Width)
}

// Volume represents a 3D intensity image loaded for an annotation session
type Volume struct {
	// ID identifies this volume for caching purposes. Two Volume values with
	// the same ID are assumed to hold identical data.
	ID string

	// Data is the 3D intensity data as a 1D array in row-major order
	// (z*Width*Height + y*Width + x)
	Data []float64

	Shape
}

// NewVolume wraps data of the given shape as a volume with a fresh identity.
// The data slice is referenced, not copied.
func NewVolume(data []float64, width, height, depth int) (*Volume, error) {
	shape := Shape{Width: width, Height: height, Depth: depth}
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, fmt.Errorf("invalid volume dimensions %s", shape)
	}
	if len(data) != shape.Voxels() {
		return nil, fmt.Errorf("volume data has %d samples, want %d for %s", len(data), shape.Voxels(), shape)
	}
	return &Volume{
		ID:    uuid.NewString(),
		Data:  data,
		Shape: shape,
	}, nil
}

// Slice returns a view of the depth slice z. The returned data aliases the
// volume's storage.
func (v *Volume) Slice(z int) Slice {
	n := v.SliceSize()
	return Slice{
		Data:   v.Data[z*n : (z+1)*n],
		Width:  v.Width,
		Height: v.Height,
	}
}

// Slice represents a single 2D intensity slice
type Slice struct {
	// Data is the slice data in row-major order (y*Width + x)
	Data []float64

	Width  int
	Height int
}

// At returns the sample at column x, row y
func (s Slice) At(x, y int) float64 {
	return s.Data[y*s.Width+x]
}

// LabelVolume holds sparse user annotations. 0 means unlabeled; any other
// value is a class identifier.
type LabelVolume struct {
	Data []uint16
	Shape
}

// NewLabelVolume creates an all-unlabeled volume of the given shape
func NewLabelVolume(width, height, depth int) *LabelVolume {
	shape := Shape{Width: width, Height: height, Depth: depth}
	return &LabelVolume{
		Data:  make([]uint16, shape.Voxels()),
		Shape: shape,
	}
}

// Set assigns a label to voxel (x, y, z)
func (l *LabelVolume) Set(x, y, z int, value uint16) {
	l.Data[z*l.SliceSize()+y*l.Width+x] = value
}

// At returns the label of voxel (x, y, z)
func (l *LabelVolume) At(x, y, z int) uint16 {
	return l.Data[z*l.SliceSize()+y*l.Width+x]
}

// SliceData returns a view of the labels of depth slice z
func (l *LabelVolume) SliceData(z int) []uint16 {
	n := l.SliceSize()
	return l.Data[z*n : (z+1)*n]
}

// ProbabilityVolume holds the per-voxel probability of the region of
// interest, quantized to 0-255.
type ProbabilityVolume struct {
	Data []uint8
	Shape
}

// NewProbabilityVolume allocates a zeroed probability volume
func NewProbabilityVolume(shape Shape) *ProbabilityVolume {
	return &ProbabilityVolume{
		Data:  make([]uint8, shape.Voxels()),
		Shape: shape,
	}
}

// MaskVolume is a binary segmentation with values 0 and 255
type MaskVolume struct {
	Data []uint8
	Shape
}

// CheckSameShape returns ErrShapeMismatch when a and b differ
func CheckSameShape(a, b Shape) error {
	if a != b {
		return fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, a, b)
	}
	return nil
}
