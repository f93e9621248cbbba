package visualization

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"oneshotseg/internal/models"
)

// createTestVolume builds a volume where each Z slice holds its index * 40
func createTestVolume(width, height, depth int) ([]uint8, models.Shape) {
	data := make([]uint8, width*height*depth)
	for z := 0; z < depth; z++ {
		for i := 0; i < width*height; i++ {
			data[z*width*height+i] = uint8(z * 40)
		}
	}
	return data, models.Shape{Width: width, Height: height, Depth: depth}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	data, shape := createTestVolume(width, height, depth)
	viewer := NewViewer(data, shape)

	// Test extracting Z slices
	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		if got := img.GrayAt(width/2, height/2).Y; got != uint8(z*40) {
			t.Errorf("Expected Z slice value %d at center, got %d", z*40, got)
		}
	}

	// Test extracting X slice
	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}
	if got := imgX.GrayAt(3, 0).Y; got != 120 {
		t.Errorf("X slice column 3 should come from z=3, got %d", got)
	}

	// Test extracting Y slice
	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	// Test invalid axis
	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}

	// Test out of bounds position
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("y", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()
	width, height, depth := 5, 5, 3
	data, shape := createTestVolume(width, height, depth)
	viewer := NewViewer(data, shape)

	for _, format := range []string{"png", "tiff"} {
		outputDir := filepath.Join(tempDir, format)
		if err := viewer.SaveSliceSequence("z", outputDir, format); err != nil {
			t.Fatalf("Failed to save %s slice sequence: %v", format, err)
		}

		ext := ".png"
		if format == "tiff" {
			ext = ".tif"
		}
		for z := 0; z < depth; z++ {
			filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d%s", z, ext))
			if _, err := os.Stat(filename); os.IsNotExist(err) {
				t.Errorf("Expected slice file does not exist: %s", filename)
			}
		}
	}

	// TIFF output decodes back to the same values
	f, err := os.Open(filepath.Join(tempDir, "tiff", "slice_z_002.tif"))
	if err != nil {
		t.Fatalf("Failed to open TIFF slice: %v", err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode TIFF slice: %v", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("Expected *image.Gray, got %T", img)
	}
	if gray.GrayAt(1, 1).Y != 80 {
		t.Errorf("Decoded TIFF value = %d, want 80", gray.GrayAt(1, 1).Y)
	}

	if err := viewer.SaveSliceSequence("invalid", tempDir, "png"); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if err := viewer.SaveSliceSequence("z", tempDir, "bmp"); err == nil {
		t.Error("Expected error for unsupported format, got nil")
	}
}

// TestFloatToGray verifies min-max stretching
func TestFloatToGray(t *testing.T) {
	img := FloatToGray([]float64{-1, 0, 1, 3}, 2, 2)
	want := []uint8{0, 64, 128, 255}
	for i, w := range want {
		if img.Pix[i] != w {
			t.Errorf("pixel %d = %d, want %d", i, img.Pix[i], w)
		}
	}

	flat := FloatToGray([]float64{2, 2}, 2, 1)
	if flat.Pix[0] != 0 || flat.Pix[1] != 0 {
		t.Errorf("constant data should map to black, got %v", flat.Pix)
	}
}
