// Package features computes per-slice multi-channel feature stacks and
// caches them for a whole volume.
package features

import (
	"fmt"
	"math"

	"oneshotseg/internal/models"
	"oneshotseg/pkg/kernel"
)

// NumChannels is the number of channels produced for every slice
const NumChannels = 31

// Channel layout of a feature stack
const (
	ChannelIntensity = 0
	ChannelEntropy   = 1  // radius 1, 3
	ChannelStdDev    = 3  // radius 1, 5
	ChannelBlur      = 5  // 3x3, 5x5
	ChannelGradient  = 7  // 3x3, 5x5
	ChannelLaplacian = 9  // 3x3, 5x5
	ChannelMaximum   = 11 // radius 1, 5, 9
	ChannelMinimum   = 14 // radius 1, 5, 9
	ChannelMean      = 17 // radius 1, 5
	ChannelDistance  = 19 // one per DistanceBands entry
)

// DistanceBands are the [low, high) raw-intensity intervals used to build the
// masks for the distance-field channels.
var DistanceBands = [12][2]float64{
	{0, 120}, {60, 180}, {120, 255},
	{20, 100}, {50, 130}, {80, 160}, {110, 190}, {140, 220}, {170, 255},
	{40, 80}, {100, 140}, {160, 200},
}

const (
	// entropyLevels is the number of gray levels used for local entropy
	entropyLevels = 8
	// entropyGain scales entropy (bits) before clipping at entropyCeiling
	entropyGain    = 64
	entropyCeiling = 255
	// laplacianBias shifts the ridge response to mid-gray
	laplacianBias = 127
)

// Stack is a multi-channel feature image for one slice. Data is stored
// channel-major: channel c occupies Data[c*Height*Width : (c+1)*Height*Width].
//
// Channels 1-18 are normalized to [0, 1]. Channel 0 keeps the raw intensity
// and the distance channels (19-30) keep raw distances in pixels.
type Stack struct {
	Channels int
	Height   int
	Width    int
	Data     []float64
}

// Channel returns a view of channel c
func (s *Stack) Channel(c int) []float64 {
	n := s.Height * s.Width
	return s.Data[c*n : (c+1)*n]
}

// Pixel copies the feature vector of pixel i (y*Width + x) into dst
func (s *Stack) Pixel(i int, dst []float64) {
	n := s.Height * s.Width
	for c := 0; c < s.Channels; c++ {
		dst[c] = s.Data[c*n+i]
	}
}

// ChannelNames returns a stable name for every channel, in stack order
func ChannelNames() []string {
	names := []string{
		"intensity",
		"entropy_r1", "entropy_r3",
		"stddev_r1", "stddev_r5",
		"blur_3x3", "blur_5x5",
		"gradient_3x3", "gradient_5x5",
		"laplacian_3x3", "laplacian_5x5",
		"max_r1", "max_r5", "max_r9",
		"min_r1", "min_r5", "min_r9",
		"mean_r1", "mean_r5",
	}
	for _, b := range DistanceBands {
		names = append(names, fmt.Sprintf("distance_%g_%g", b[0], b[1]))
	}
	return names
}

// Extractor computes feature stacks for 2D slices. It holds no per-slice
// state and is safe for concurrent use.
type Extractor struct {
	metric DistanceMetric
}

// NewExtractor creates an extractor using the given distance metric for the
// distance-field channels. An empty metric selects Chessboard.
func NewExtractor(metric DistanceMetric) *Extractor {
	if metric == "" {
		metric = Chessboard
	}
	return &Extractor{metric: metric}
}

// Extract computes the full feature stack of a slice
func (e *Extractor) Extract(slice models.Slice) *Stack {
	w, h := slice.Width, slice.Height
	n := w * h

	stack := &Stack{
		Channels: NumChannels,
		Height:   h,
		Width:    w,
		Data:     make([]float64, NumChannels*n),
	}

	// Derived channels work on the intensity stretched to 0-255
	gray := make([]float64, n)
	copy(gray, slice.Data)
	normalize(gray)
	for i := range gray {
		gray[i] *= 255
	}

	c := 0
	put := func(values []float64) {
		copy(stack.Channel(c), values)
		c++
	}

	put(slice.Data)

	for _, r := range []int{1, 3} {
		put(normalize(entropyFeature(gray, w, h, r)))
	}
	for _, r := range []int{1, 5} {
		put(normalize(stdDevFeature(gray, w, h, r)))
	}
	for _, k := range []kernel.Kernel{kernel.Gaussian3, kernel.Gaussian5} {
		put(normalize(blurFeature(gray, w, h, k)))
	}
	for _, k := range []kernel.Kernel{kernel.Prewitt3, kernel.Prewitt5} {
		put(normalize(gradientFeature(gray, w, h, k)))
	}
	put(normalize(laplacianFeature(gray, w, h, kernel.Laplacian3, 2)))
	put(normalize(laplacianFeature(gray, w, h, kernel.Laplacian5, 32)))
	for _, r := range []int{1, 5, 9} {
		put(normalize(rankFilter(gray, w, h, kernel.Disk(r), true)))
	}
	for _, r := range []int{1, 5, 9} {
		put(normalize(rankFilter(gray, w, h, kernel.Disk(r), false)))
	}
	for _, r := range []int{1, 5} {
		put(normalize(meanFeature(gray, w, h, r)))
	}

	// Distance fields are measured on the raw intensity and left unscaled
	mask := make([]bool, n)
	for _, band := range DistanceBands {
		for i, v := range slice.Data {
			mask[i] = v >= band[0] && v < band[1]
		}
		put(distanceTransform(mask, w, h, e.metric))
	}

	return stack
}

func entropyFeature(gray []float64, w, h, radius int) []float64 {
	levels := make([]uint8, len(gray))
	for i, v := range gray {
		q := int(v / 32)
		if q >= entropyLevels {
			q = entropyLevels - 1
		}
		levels[i] = uint8(q)
	}

	e := localEntropy(levels, w, h, kernel.Disk(radius), entropyLevels)
	for i := range e {
		e[i] = math.Min(e[i]*entropyGain, entropyCeiling)
	}
	return e
}

// stdDevFeature only accumulates positive deviations from the local mean
func stdDevFeature(gray []float64, w, h, radius int) []float64 {
	disk := kernel.Disk(radius)
	area := float64(disk.Sum())

	mean := convolve(gray, w, h, disk)
	sq := make([]float64, len(gray))
	for i := range gray {
		d := gray[i] - mean[i]/area
		if d < 0 {
			d = 0
		}
		sq[i] = d * d
	}

	res := convolve(sq, w, h, disk)
	for i := range res {
		res[i] = math.Sqrt(res[i] / (area - 1))
	}
	return res
}

func blurFeature(gray []float64, w, h int, k kernel.Kernel) []float64 {
	out := convolve(gray, w, h, k)
	sum := float64(k.Sum())
	for i := range out {
		out[i] /= sum
	}
	return out
}

func gradientFeature(gray []float64, w, h int, k kernel.Kernel) []float64 {
	scale := float64(k.Size * k.Size)
	gx := convolve(gray, w, h, k)
	gy := convolve(gray, w, h, k.Transpose())
	out := make([]float64, len(gray))
	for i := range out {
		x, y := gx[i]/scale, gy[i]/scale
		out[i] = math.Sqrt(x*x + y*y)
	}
	return out
}

func laplacianFeature(gray []float64, w, h int, k kernel.Kernel, scaling float64) []float64 {
	out := convolve(gray, w, h, k)
	for i := range out {
		out[i] = out[i]/scaling + laplacianBias
	}
	return out
}

func meanFeature(gray []float64, w, h, radius int) []float64 {
	disk := kernel.Disk(radius)
	return blurFeature(gray, w, h, disk)
}
