// Package kernel provides the fixed convolution kernels and neighbourhood
// footprints used by feature extraction.
package kernel

// Kernel is a square integer convolution kernel stored in row-major order
type Kernel struct {
	Size    int
	Weights []int
}

// At returns the weight at row y, column x
func (k Kernel) At(x, y int) int {
	return k.Weights[y*k.Size+x]
}

// Sum returns the sum of all weights
func (k Kernel) Sum() int {
	sum := 0
	for _, w := range k.Weights {
		sum += w
	}
	return sum
}

// Transpose returns the kernel with rows and columns swapped
func (k Kernel) Transpose() Kernel {
	t := Kernel{Size: k.Size, Weights: make([]int, len(k.Weights))}
	for y := 0; y < k.Size; y++ {
		for x := 0; x < k.Size; x++ {
			t.Weights[x*k.Size+y] = k.Weights[y*k.Size+x]
		}
	}
	return t
}

// Smoothing kernels (binomial weights)
var (
	Gaussian3 = Kernel{Size: 3, Weights: []int{
		1, 2, 1,
		2, 4, 2,
		1, 2, 1,
	}}
	Gaussian5 = Kernel{Size: 5, Weights: []int{
		1, 2, 4, 2, 1,
		2, 4, 8, 4, 2,
		4, 8, 16, 8, 4,
		2, 4, 8, 4, 2,
		1, 2, 4, 2, 1,
	}}
)

// Directional edge kernels. The vertical response uses Transpose().
var (
	Prewitt3 = Kernel{Size: 3, Weights: []int{
		1, 0, -1,
		1, 0, -1,
		1, 0, -1,
	}}
	Prewitt5 = Kernel{Size: 5, Weights: []int{
		2, 1, 0, -1, -2,
		2, 1, 0, -1, -2,
		2, 1, 0, -1, -2,
		2, 1, 0, -1, -2,
		2, 1, 0, -1, -2,
	}}
)

// Ridge kernels
var (
	Laplacian3 = Kernel{Size: 3, Weights: []int{
		0, -1, 0,
		-1, 4, -1,
		0, -1, 0,
	}}
	Laplacian5 = Kernel{Size: 5, Weights: []int{
		0, 0, -1, 0, 0,
		0, -1, -2, -1, 0,
		-1, -2, 32, -2, -1,
		0, -1, -2, -1, 0,
		0, 0, -1, 0, 0,
	}}
)

// Disk returns a (2r+1)x(2r+1) footprint with 1 where x²+y² <= r²
func Disk(radius int) Kernel {
	size := 2*radius + 1
	k := Kernel{Size: size, Weights: make([]int, size*size)}
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= radius*radius {
				k.Weights[(y+radius)*size+(x+radius)] = 1
			}
		}
	}
	return k
}
