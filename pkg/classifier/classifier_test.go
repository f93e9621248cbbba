package classifier

import (
	"compress/gzip"
	"encoding/gob"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"oneshotseg/pkg/sampling"
)

// separableTable builds a table where feature 0 separates the classes and
// the remaining features are noise
func separableTable(nROI, nOther, cols int, seed int64) *sampling.Table {
	rng := rand.New(rand.NewSource(seed))
	n := nROI + nOther
	tbl := &sampling.Table{
		Labels:   make([]float64, n),
		Features: mat.NewDense(n, cols, nil),
	}
	for i := 0; i < n; i++ {
		roi := i < nROI
		if roi {
			tbl.Labels[i] = 1
		}
		for c := 0; c < cols; c++ {
			v := rng.Float64()
			if c == 0 {
				v = rng.Float64() * 0.4
				if roi {
					v += 0.6
				}
			}
			tbl.Features.Set(i, c, v)
		}
	}
	return tbl
}

func TestBalance(t *testing.T) {
	counts := [][2]int{{1, 1}, {1, 9}, {10, 3}, {7, 8}, {50, 1}, {2, 3}}

	for _, c := range counts {
		tbl := separableTable(c[0], c[1], 4, 1)
		rng := rand.New(rand.NewSource(2))

		balanced, err := Balance(tbl, rng)
		if err != nil {
			t.Fatalf("Balance(%v) failed: %v", c, err)
		}

		n := c[0] + c[1]
		wantRows := 2 * (n / 2)
		if balanced.Rows() != wantRows {
			t.Errorf("Balance(%v) rows = %d, want %d", c, balanced.Rows(), wantRows)
		}
		roi, other := balanced.Count(1), balanced.Count(0)
		if diff := roi - other; diff < -1 || diff > 1 {
			t.Errorf("Balance(%v) class counts %d/%d differ by more than 1", c, roi, other)
		}

		// Every drawn row comes from the matching class of the source table
		for i := 0; i < balanced.Rows(); i++ {
			v := balanced.Features.At(i, 0)
			if balanced.Labels[i] == 1 && v < 0.6 || balanced.Labels[i] == 0 && v >= 0.6 {
				t.Fatalf("row %d with label %f has feature %f from the wrong class", i, balanced.Labels[i], v)
			}
		}
	}
}

func TestBalanceSingleClass(t *testing.T) {
	tbl := separableTable(5, 0, 3, 1)
	if _, err := Balance(tbl, rand.New(rand.NewSource(1))); !errors.Is(err, ErrSingleClass) {
		t.Errorf("expected ErrSingleClass, got %v", err)
	}
}

func TestFitPredict(t *testing.T) {
	tbl := separableTable(60, 40, 6, 3)
	cfg := DefaultConfig()
	cfg.Seed = 11
	cfg.Trees = 20

	c := New(cfg)
	if _, err := c.PredictProba(tbl.Features); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("untrained PredictProba should return ErrNotFitted, got %v", err)
	}

	if err := c.Fit(tbl); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	probs, err := c.PredictProba(tbl.Features)
	if err != nil {
		t.Fatalf("PredictProba failed: %v", err)
	}
	if len(probs) != tbl.Rows() {
		t.Fatalf("got %d probabilities, want %d", len(probs), tbl.Rows())
	}

	wrong := 0
	for i, p := range probs {
		if p < 0 || p > 1 {
			t.Fatalf("probability %f out of range", p)
		}
		if tbl.Labels[i] == 1 && p <= 0.5 || tbl.Labels[i] == 0 && p >= 0.5 {
			wrong++
		}
	}
	if wrong > tbl.Rows()/20 {
		t.Errorf("%d of %d rows misclassified on separable data", wrong, tbl.Rows())
	}

	oob, err := c.OOBScore()
	if err != nil {
		t.Fatalf("OOBScore failed: %v", err)
	}
	if !math.IsNaN(oob) && oob < 0.8 {
		t.Errorf("OOB accuracy %f too low for separable data", oob)
	}

	if _, err := c.PredictProba(mat.NewDense(2, 3, nil)); err == nil {
		t.Error("PredictProba should reject tables with the wrong column count")
	}
}

func TestFitDeterministic(t *testing.T) {
	tbl := separableTable(30, 30, 5, 4)
	query := separableTable(10, 10, 5, 5).Features

	run := func(workers int) []float64 {
		c := New(Config{Trees: 10, MaxDepth: 50, Seed: 99, NumWorkers: workers})
		if err := c.Fit(tbl); err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		p, err := c.PredictProba(query)
		if err != nil {
			t.Fatalf("PredictProba failed: %v", err)
		}
		return p
	}

	a, b := run(1), run(4)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed gave different predictions at %d: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestTreeDepthLimit(t *testing.T) {
	tbl := separableTable(40, 40, 3, 6)
	rng := rand.New(rand.NewSource(1))
	columns := make([][]float64, 3)
	for f := range columns {
		columns[f] = mat.Col(nil, f, tbl.Features)
	}
	indices := make([]int, tbl.Rows())
	for i := range indices {
		indices[i] = i
	}

	for _, depth := range []int{0, 1, 3} {
		b := &treeBuilder{columns: columns, labels: tbl.Labels, maxDepth: depth, maxFeatures: 1, rng: rng}
		tree := b.build(indices)
		if got := tree.Depth(); got > depth {
			t.Errorf("tree depth %d exceeds limit %d", got, depth)
		}
	}

	// A stump on separable data splits on feature 0
	b := &treeBuilder{columns: columns, labels: tbl.Labels, maxDepth: 1, maxFeatures: 3, rng: rng}
	stump := b.build(indices)
	if stump.Nodes[0].Feature != 0 {
		t.Errorf("stump split on feature %d, want 0", stump.Nodes[0].Feature)
	}
	if stump.Predict([]float64{0.9, 0, 0}) != 1 || stump.Predict([]float64{0.1, 0, 0}) != 0 {
		t.Error("stump leaves should be pure on separable data")
	}
}

func TestConstantFeaturesYieldLeaf(t *testing.T) {
	// Identical feature vectors cannot be split
	tbl := &sampling.Table{
		Labels:   []float64{1, 0},
		Features: mat.NewDense(2, 3, []float64{5, 5, 5, 5, 5, 5}),
	}
	c := New(Config{Trees: 5, Seed: 1})
	if err := c.Fit(tbl); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	probs, err := c.PredictProba(tbl.Features)
	if err != nil {
		t.Fatalf("PredictProba failed: %v", err)
	}
	for _, p := range probs {
		if p < 0 || p > 1 {
			t.Errorf("probability %f out of range", p)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models", "model.bin")

	tbl := separableTable(25, 35, 7, 8)
	cfg := Config{Trees: 15, MaxDepth: 50, Seed: 5}
	c := New(cfg)
	if err := c.Save(path); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("saving an untrained model should fail with ErrNotFitted, got %v", err)
	}
	if err := c.Fit(tbl); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	before, _ := c.PredictProba(tbl.Features)

	if err := c.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, ok, err := LoadOrCreate(path, DefaultConfig())
	if err != nil || !ok {
		t.Fatalf("LoadOrCreate did not load the saved model: loaded=%v err=%v", ok, err)
	}
	if loaded.Config().Trees != 15 {
		t.Errorf("loaded model has %d trees, want 15", loaded.Config().Trees)
	}

	after, err := loaded.PredictProba(tbl.Features)
	if err != nil {
		t.Fatalf("PredictProba on loaded model failed: %v", err)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("prediction %d changed after reload: %f vs %f", i, before[i], after[i])
		}
	}

	// No temporary files are left next to the model
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("model directory holds %d entries, want 1", len(entries))
	}
}

func TestLoadOrCreateFallback(t *testing.T) {
	dir := t.TempDir()

	c, ok, err := LoadOrCreate(filepath.Join(dir, "missing.bin"), DefaultConfig())
	if ok || err == nil {
		t.Errorf("missing model should fall back with an error to log, got loaded=%v err=%v", ok, err)
	}
	if c == nil || c.Fitted() {
		t.Error("fallback classifier should be a fresh untrained model")
	}
	if c.Config().Trees != DefaultTrees || c.Config().MaxDepth != DefaultMaxDepth {
		t.Errorf("fallback config = %+v", c.Config())
	}

	garbage := filepath.Join(dir, "garbage.bin")
	if err := os.WriteFile(garbage, []byte("not a model"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	c, ok, _ = LoadOrCreate(garbage, DefaultConfig())
	if ok || c == nil || c.Fitted() {
		t.Error("unreadable model should fall back to a fresh classifier")
	}

	c, ok, err = LoadOrCreate("", DefaultConfig())
	if ok || err != nil || c == nil {
		t.Errorf("empty path should create a fresh model silently, got loaded=%v err=%v", ok, err)
	}
}

// writeModel persists m the way Save does, bypassing its checks
func writeModel(t *testing.T, path string, m savedModel) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create model file: %v", err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if err := gob.NewEncoder(zw).Encode(&m); err != nil {
		t.Fatalf("Failed to encode model: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to compress model: %v", err)
	}
}

func TestLoadRejectsMalformedTrees(t *testing.T) {
	leaf := Node{Feature: -1, Value: 0.5}
	tests := []struct {
		name  string
		nodes []Node
	}{
		{"FeatureOutOfRange", []Node{{Feature: 99, Left: 1, Right: 2}, leaf, leaf}},
		{"SelfLoop", []Node{{Feature: 0, Left: 0, Right: 0}}},
		{"BackEdge", []Node{{Feature: 0, Left: 1, Right: 2}, {Feature: 1, Left: 0, Right: 2}, leaf}},
		{"ChildOutOfRange", []Node{{Feature: 0, Left: 1, Right: 7}, leaf}},
		{"BadLeafValue", []Node{{Feature: -1, Value: math.NaN()}}},
		{"Empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "model.bin")
			writeModel(t, path, savedModel{
				Version:  modelFormatVersion,
				Trees:    1,
				MaxDepth: DefaultMaxDepth,
				Forest: Forest{
					Trees:       []Tree{{Nodes: tt.nodes}},
					NumFeatures: 3,
					OOBScore:    0.5,
				},
			})

			if _, err := Load(path, DefaultConfig()); err == nil {
				t.Fatal("expected Load to reject the model")
			}
			c, ok, err := LoadOrCreate(path, DefaultConfig())
			if ok || err == nil || c.Fitted() {
				t.Errorf("malformed model should fall back to a fresh classifier, got loaded=%v err=%v", ok, err)
			}
		})
	}

	t.Run("WellFormed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.bin")
		writeModel(t, path, savedModel{
			Version:  modelFormatVersion,
			Trees:    1,
			MaxDepth: DefaultMaxDepth,
			Forest: Forest{
				Trees: []Tree{{Nodes: []Node{
					{Feature: 2, Threshold: 0.5, Left: 1, Right: 2},
					{Feature: -1, Value: 0},
					{Feature: -1, Value: 1},
				}}},
				NumFeatures: 3,
			},
		})

		c, err := Load(path, DefaultConfig())
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		probs, err := c.PredictProba(mat.NewDense(2, 3, []float64{0, 0, 0.2, 0, 0, 0.9}))
		if err != nil {
			t.Fatalf("PredictProba failed: %v", err)
		}
		if probs[0] != 0 || probs[1] != 1 {
			t.Errorf("predictions = %v, want [0 1]", probs)
		}
	})
}
