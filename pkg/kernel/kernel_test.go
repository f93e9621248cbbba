package kernel

import "testing"

func TestKernelSums(t *testing.T) {
	tests := []struct {
		name string
		k    Kernel
		want int
	}{
		{"gaussian3", Gaussian3, 16},
		{"gaussian5", Gaussian5, 100},
		{"prewitt3", Prewitt3, 0},
		{"prewitt5", Prewitt5, 0},
		{"laplacian3", Laplacian3, 0},
		{"laplacian5", Laplacian5, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.k.Sum(); got != tt.want {
				t.Errorf("Sum() = %d, want %d", got, tt.want)
			}
			if len(tt.k.Weights) != tt.k.Size*tt.k.Size {
				t.Errorf("kernel has %d weights, want %d", len(tt.k.Weights), tt.k.Size*tt.k.Size)
			}
		})
	}
}

func TestTranspose(t *testing.T) {
	tr := Prewitt3.Transpose()
	want := []int{
		1, 1, 1,
		0, 0, 0,
		-1, -1, -1,
	}
	for i, w := range want {
		if tr.Weights[i] != w {
			t.Fatalf("Transpose() = %v, want %v", tr.Weights, want)
		}
	}

	// Symmetric kernels are unchanged
	g := Gaussian5.Transpose()
	for i := range g.Weights {
		if g.Weights[i] != Gaussian5.Weights[i] {
			t.Fatalf("Gaussian5 transpose differs at %d", i)
		}
	}
}

func TestDisk(t *testing.T) {
	// Matches the usual disk footprint sizes: r=1 is a cross, r=3 has 29 cells
	sums := map[int]int{0: 1, 1: 5, 3: 29, 5: 81}
	for r, want := range sums {
		d := Disk(r)
		if d.Size != 2*r+1 {
			t.Errorf("Disk(%d).Size = %d, want %d", r, d.Size, 2*r+1)
		}
		if got := d.Sum(); got != want {
			t.Errorf("Disk(%d).Sum() = %d, want %d", r, got, want)
		}
	}

	d := Disk(1)
	if d.At(0, 0) != 0 || d.At(1, 1) != 1 || d.At(1, 0) != 1 {
		t.Errorf("Disk(1) has unexpected layout %v", d.Weights)
	}
}
