// Package volumeio reads volumes stored as directories of 2D slice images.
//
// Slices are ordered by the number embedded in their file names, so
// "slice_2.png" comes before "slice_10.png". PNG, JPEG and TIFF files are
// recognised; other files in the directory are ignored.
package volumeio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/tiff"

	"oneshotseg/internal/models"
)

var sliceExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// LoadVolume reads every slice image in dir as gray intensity and stacks
// them in file-number order. 16-bit gray images keep their raw values
// (0-65535); anything else is read as 8-bit gray (0-255).
func LoadVolume(dir string) (*models.Volume, error) {
	var data []float64
	shape, err := readSlices(dir, func(img image.Image, w, h int) {
		for _, v := range grayValues(img, w, h) {
			data = append(data, float64(v))
		}
	})
	if err != nil {
		return nil, err
	}
	return models.NewVolume(data, shape.Width, shape.Height, shape.Depth)
}

// LoadLabels reads every slice image in dir as raw label values. 16-bit
// gray images keep their full range; anything else is read as 8-bit gray.
func LoadLabels(dir string) (*models.LabelVolume, error) {
	var data []uint16
	shape, err := readSlices(dir, func(img image.Image, w, h int) {
		data = append(data, grayValues(img, w, h)...)
	})
	if err != nil {
		return nil, err
	}
	return &models.LabelVolume{Data: data, Shape: shape}, nil
}

// grayValues returns the pixels of img in row-major order. *image.Gray16
// keeps its full range; other images are converted to 8-bit gray.
func grayValues(img image.Image, w, h int) []uint16 {
	b := img.Bounds()
	out := make([]uint16, 0, w*h)
	wide, ok := img.(*image.Gray16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ok {
				out = append(out, wide.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
				continue
			}
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			out = append(out, uint16(g.Y))
		}
	}
	return out
}

// readSlices decodes the slice images of dir in order and hands each one to
// add. All slices must share the dimensions of the first.
func readSlices(dir string, add func(img image.Image, w, h int)) (models.Shape, error) {
	files, err := sliceFiles(dir)
	if err != nil {
		return models.Shape{}, err
	}

	var shape models.Shape
	for i, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return models.Shape{}, fmt.Errorf("failed to load image %s: %w", name, err)
		}

		b := img.Bounds()
		if i == 0 {
			shape.Width, shape.Height = b.Dx(), b.Dy()
		} else if b.Dx() != shape.Width || b.Dy() != shape.Height {
			return models.Shape{}, fmt.Errorf("%w: slice %s is %dx%d, expected %dx%d",
				models.ErrShapeMismatch, name, b.Dx(), b.Dy(), shape.Width, shape.Height)
		}

		add(img, shape.Width, shape.Height)
		shape.Depth++
	}

	return shape, nil
}

// sliceFiles lists the image files of dir sorted by their embedded number,
// then by name
func sliceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if sliceExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	sort.Slice(names, func(i, j int) bool {
		ni, nj := extractNumber(names[i]), extractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})
	return names, nil
}

// extractNumber returns the digits of a file name read as one number, or 0
// when there are none
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}

	if digits.Len() > 0 {
		if num, err := strconv.Atoi(digits.String()); err == nil {
			return num
		}
	}
	return 0
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}
