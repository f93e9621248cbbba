package segmentation

import (
	"fmt"
	"os"
	"path/filepath"

	"oneshotseg/pkg/features"
	"oneshotseg/pkg/visualization"
)

const featureDumpStage = "01_features"

// dumpSlices returns the first, middle and last slice indices without
// duplicates
func dumpSlices(depth int) []int {
	candidates := []int{0, depth / 2, depth - 1}
	var out []int
	seen := make(map[int]bool)
	for _, z := range candidates {
		if z < 0 || seen[z] {
			continue
		}
		seen[z] = true
		out = append(out, z)
	}
	return out
}

// saveFeatureDumps writes every feature channel of a few representative
// slices as contrast-stretched PNG images
func (s *Session) saveFeatureDumps() error {
	stageDir := filepath.Join(s.params.IntermediaryDir, featureDumpStage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}

	names := features.ChannelNames()
	for _, z := range dumpSlices(s.cache.Len()) {
		stack := s.cache.Stack(z)
		if stack == nil {
			continue
		}

		sliceDir := filepath.Join(stageDir, fmt.Sprintf("slice_%03d", z))
		if err := os.MkdirAll(sliceDir, 0755); err != nil {
			return fmt.Errorf("failed to create intermediary directory: %w", err)
		}

		for c := 0; c < stack.Channels; c++ {
			img := visualization.FloatToGray(stack.Channel(c), stack.Width, stack.Height)
			filename := filepath.Join(sliceDir, fmt.Sprintf("%02d_%s.png", c, names[c]))
			if err := visualization.SaveSlice(img, filename); err != nil {
				return err
			}
		}
	}

	s.logger.Debug().Str("dir", stageDir).Msg("intermediary features saved")
	return nil
}
