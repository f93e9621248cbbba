package classifier

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// modelFormatVersion is bumped whenever the persisted layout changes
const modelFormatVersion = 1

// savedModel is the on-disk representation of a trained classifier
type savedModel struct {
	Version  int
	Trees    int
	MaxDepth int
	Forest   Forest
}

// Save writes the trained ensemble to path. The file is written to a
// temporary name first and renamed into place.
func (c *Classifier) Save(path string) error {
	if c.forest == nil {
		return ErrNotFitted
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("error creating model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	model := savedModel{
		Version:  modelFormatVersion,
		Trees:    c.cfg.Trees,
		MaxDepth: c.cfg.MaxDepth,
		Forest:   *c.forest,
	}
	if err := gob.NewEncoder(zw).Encode(&model); err != nil {
		tmp.Close()
		return fmt.Errorf("error encoding model: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("error compressing model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error writing model file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("error moving model into place: %w", err)
	}
	return nil
}

// Load reads a classifier previously written by Save. cfg supplies the
// runtime settings (seed, workers); tree count and depth come from the file.
func Load(path string, cfg Config) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("error reading model %s: %w", path, err)
	}
	defer zr.Close()

	var model savedModel
	if err := gob.NewDecoder(zr).Decode(&model); err != nil {
		return nil, fmt.Errorf("error decoding model %s: %w", path, err)
	}
	if model.Version != modelFormatVersion {
		return nil, fmt.Errorf("model %s has format version %d, want %d", path, model.Version, modelFormatVersion)
	}
	if len(model.Forest.Trees) == 0 {
		return nil, fmt.Errorf("model %s contains no trees", path)
	}
	if err := model.Forest.validate(); err != nil {
		return nil, fmt.Errorf("model %s is malformed: %w", path, err)
	}

	cfg.Trees = model.Trees
	cfg.MaxDepth = model.MaxDepth
	c := New(cfg)
	c.forest = &model.Forest
	return c, nil
}

// validate checks that every tree can be walked safely: split features are
// within range and children come after their parent in the node array, as
// grow lays them out.
func (f *Forest) validate() error {
	if f.NumFeatures < 1 {
		return fmt.Errorf("forest expects %d features", f.NumFeatures)
	}
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", t)
		}
		for i, n := range tree.Nodes {
			if n.Feature < 0 {
				if math.IsNaN(n.Value) || n.Value < 0 || n.Value > 1 {
					return fmt.Errorf("tree %d leaf %d has value %v", t, i, n.Value)
				}
				continue
			}
			if n.Feature >= f.NumFeatures {
				return fmt.Errorf("tree %d node %d splits on feature %d of %d", t, i, n.Feature, f.NumFeatures)
			}
			for _, child := range []int{n.Left, n.Right} {
				if child <= i || child >= len(tree.Nodes) {
					return fmt.Errorf("tree %d node %d has child %d", t, i, child)
				}
			}
		}
	}
	return nil
}

// LoadOrCreate loads the model at path, falling back to a fresh untrained
// classifier built from cfg when the file is missing or unreadable. The
// boolean reports whether the model was loaded. The load error, if any, is
// returned for logging only.
func LoadOrCreate(path string, cfg Config) (*Classifier, bool, error) {
	if path == "" {
		return New(cfg), false, nil
	}
	c, err := Load(path, cfg)
	if err != nil {
		return New(cfg), false, err
	}
	return c, true, nil
}
