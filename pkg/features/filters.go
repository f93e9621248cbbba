package features

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"oneshotseg/pkg/kernel"
)

// reflectIndex maps i into [0, n) mirroring about the edges, including the
// edge sample itself (d c b a | a b c d | d c b a).
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// convolve applies a true convolution (kernel flipped) with reflect borders
func convolve(src []float64, width, height int, k kernel.Kernel) []float64 {
	dst := make([]float64, len(src))
	c := k.Size / 2

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := 0.0
			for j := 0; j < k.Size; j++ {
				sy := reflectIndex(y+c-j, height)
				row := sy * width
				for i := 0; i < k.Size; i++ {
					w := k.Weights[j*k.Size+i]
					if w == 0 {
						continue
					}
					sx := reflectIndex(x+c-i, width)
					sum += float64(w) * src[row+sx]
				}
			}
			dst[y*width+x] = sum
		}
	}

	return dst
}

// footprintOffsets lists the (dx, dy) offsets of the non-zero footprint cells
func footprintOffsets(fp kernel.Kernel) [][2]int {
	c := fp.Size / 2
	offsets := make([][2]int, 0, len(fp.Weights))
	for j := 0; j < fp.Size; j++ {
		for i := 0; i < fp.Size; i++ {
			if fp.Weights[j*fp.Size+i] != 0 {
				offsets = append(offsets, [2]int{i - c, j - c})
			}
		}
	}
	return offsets
}

// rankFilter computes the maximum (or minimum) over the footprint with
// reflect borders
func rankFilter(src []float64, width, height int, fp kernel.Kernel, maximum bool) []float64 {
	dst := make([]float64, len(src))
	offsets := footprintOffsets(fp)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			best := math.Inf(1)
			if maximum {
				best = math.Inf(-1)
			}
			for _, o := range offsets {
				v := src[reflectIndex(y+o[1], height)*width+reflectIndex(x+o[0], width)]
				if maximum && v > best || !maximum && v < best {
					best = v
				}
			}
			dst[y*width+x] = best
		}
	}

	return dst
}

// localEntropy computes the Shannon entropy (bits) of the gray-level
// histogram inside the footprint. Only in-bounds neighbours are counted.
// Levels must lie in [0, levels).
func localEntropy(src []uint8, width, height int, fp kernel.Kernel, levels int) []float64 {
	dst := make([]float64, len(src))
	offsets := footprintOffsets(fp)
	hist := make([]int, levels)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for i := range hist {
				hist[i] = 0
			}
			n := 0
			for _, o := range offsets {
				sx, sy := x+o[0], y+o[1]
				if sx < 0 || sx >= width || sy < 0 || sy >= height {
					continue
				}
				hist[src[sy*width+sx]]++
				n++
			}

			e := 0.0
			for _, count := range hist {
				if count == 0 {
					continue
				}
				p := float64(count) / float64(n)
				e -= p * math.Log2(p)
			}
			dst[y*width+x] = e
		}
	}

	return dst
}

// DistanceMetric selects the neighbourhood used by the distance transform
type DistanceMetric string

const (
	// Chessboard counts diagonal steps as one (8-connected)
	Chessboard DistanceMetric = "chessboard"
	// Taxicab only allows horizontal and vertical steps (4-connected)
	Taxicab DistanceMetric = "taxicab"
)

// distanceTransform returns, for every pixel inside the mask, the distance
// to the closest pixel outside it. Pixels outside the mask are 0. When the
// mask covers the whole slice there is nothing to measure against and every
// pixel is set to -1.
func distanceTransform(mask []bool, width, height int, metric DistanceMetric) []float64 {
	const unreached = math.MaxInt32

	dist := make([]int, len(mask))
	hasBackground := false
	for i, in := range mask {
		if in {
			dist[i] = unreached
		} else {
			hasBackground = true
		}
	}

	out := make([]float64, len(mask))
	if !hasBackground {
		for i := range out {
			out[i] = -1
		}
		return out
	}

	diagonal := metric != Taxicab
	relax := func(x, y, nx, ny int) {
		if nx < 0 || nx >= width || ny < 0 || ny >= height {
			return
		}
		if d := dist[ny*width+nx]; d != unreached && d+1 < dist[y*width+x] {
			dist[y*width+x] = d + 1
		}
	}

	// Forward pass
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if dist[y*width+x] == 0 {
				continue
			}
			relax(x, y, x-1, y)
			relax(x, y, x, y-1)
			if diagonal {
				relax(x, y, x-1, y-1)
				relax(x, y, x+1, y-1)
			}
		}
	}

	// Backward pass
	for y := height - 1; y >= 0; y-- {
		for x := width - 1; x >= 0; x-- {
			if dist[y*width+x] == 0 {
				continue
			}
			relax(x, y, x+1, y)
			relax(x, y, x, y+1)
			if diagonal {
				relax(x, y, x+1, y+1)
				relax(x, y, x-1, y+1)
			}
		}
	}

	for i, d := range dist {
		out[i] = float64(d)
	}
	return out
}

// normalize rescales data in place to [0, 1]. A constant (or non-finite)
// range yields all zeros.
func normalize(data []float64) []float64 {
	lo := floats.Min(data)
	hi := floats.Max(data)
	span := hi - lo
	if span == 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		for i := range data {
			data[i] = 0
		}
		return data
	}

	for i, v := range data {
		data[i] = (v - lo) / span
	}
	return data
}
