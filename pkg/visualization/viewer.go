// Package visualization extracts and saves 2D views of 8-bit result volumes.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"oneshotseg/internal/models"
)

// Viewer gives access to axis-aligned slices of an 8-bit volume such as a
// probability volume or a mask
type Viewer struct {
	// volumeData holds the volume in row-major order
	volumeData []uint8

	// dimensions of the volume
	width  int
	height int
	depth  int
}

// NewViewer creates a viewer over data of the given shape. The data is
// referenced, not copied.
func NewViewer(data []uint8, shape models.Shape) *Viewer {
	return &Viewer{
		volumeData: data,
		width:      shape.Width,
		height:     shape.Height,
		depth:      shape.Depth,
	}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray

	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}

		img = image.NewGray(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray(z, y, color.Gray{Y: v.volumeData[z*v.width*v.height+y*v.width+position]})
			}
		}

	case "y", "Y":
		// Extract slice along XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}

		img = image.NewGray(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray(x, z, color.Gray{Y: v.volumeData[z*v.width*v.height+position*v.width+x]})
			}
		}

	case "z", "Z":
		// Extract slice along XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}

		img = image.NewGray(image.Rect(0, 0, v.width, v.height))
		n := v.width * v.height
		copy(img.Pix, v.volumeData[position*n:(position+1)*n])

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice writes an image, choosing the encoder from the file extension
// (.png, .tif/.tiff or .jpg/.jpeg)
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".png":
		err = png.Encode(file, img)
	case ".tif", ".tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = fmt.Errorf("unsupported image format %q", ext)
	}

	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", filename, err)
	}
	return nil
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
// format is "png" or "tiff".
func (v *Viewer) SaveSliceSequence(axis, outputDir, format string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	ext, err := extensionFor(format)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d%s", strings.ToLower(axis), pos, ext))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

func extensionFor(format string) (string, error) {
	switch strings.ToLower(format) {
	case "png", "":
		return ".png", nil
	case "tiff", "tif":
		return ".tif", nil
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

// FloatToGray stretches float data to the full 8-bit range. Constant data
// maps to black.
func FloatToGray(data []float64, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span == 0 || math.IsInf(span, 0) || math.IsNaN(span) {
		return img
	}

	for i, v := range data {
		img.Pix[i] = uint8(math.Round((v - lo) / span * 255))
	}
	return img
}
