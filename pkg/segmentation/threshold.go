package segmentation

import (
	"math"

	"oneshotseg/internal/models"
)

// DefaultThreshold is the cut-off a host applies after a fresh run
const DefaultThreshold uint8 = 125

const (
	probabilityFloor   = 0.001
	probabilityCeiling = 0.999
	logFloor           = -100
)

// Quantize maps a probability to the 0-255 display range. The probability is
// clamped to [0.001, 0.999] and passed through log/exp with -Inf floored to
// -100 before being scaled and truncated.
func Quantize(p float64) uint8 {
	if math.IsNaN(p) {
		p = probabilityFloor
	}
	p = math.Min(math.Max(p, probabilityFloor), probabilityCeiling)

	lp := math.Log(p)
	if math.IsInf(lp, -1) {
		lp = logFloor
	}

	return uint8(math.Exp(lp) * 255)
}

// Threshold derives a binary mask from a probability volume: 255 where the
// probability is strictly greater than t, 0 elsewhere. It does not modify p.
func Threshold(p *models.ProbabilityVolume, t uint8) *models.MaskVolume {
	mask := &models.MaskVolume{
		Data:  make([]uint8, len(p.Data)),
		Shape: p.Shape,
	}
	for i, v := range p.Data {
		if v > t {
			mask.Data[i] = 255
		}
	}
	return mask
}
