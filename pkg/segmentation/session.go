// Package segmentation runs one-shot learning on a volume: it trains a
// bagging classifier on a handful of labelled voxels and predicts a dense
// probability volume that can be thresholded into a mask.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"oneshotseg/internal/models"
	"oneshotseg/pkg/classifier"
	"oneshotseg/pkg/features"
	"oneshotseg/pkg/logging"
	"oneshotseg/pkg/metrics"
	"oneshotseg/pkg/sampling"
)

var (
	// ErrNoVolume is returned when a run is requested before LoadVolume
	ErrNoVolume = errors.New("no volume loaded")

	// ErrNoProbabilities is returned when thresholding before any run
	ErrNoProbabilities = errors.New("no probability volume available")

	// ErrNoLabels is returned when a run is requested without a label volume.
	// It matches sampling.ErrValidation.
	ErrNoLabels = fmt.Errorf("%w: no label volume", sampling.ErrValidation)
)

// State is the lifecycle position of a session
type State int

const (
	StateEmpty State = iota
	StateCacheBuilding
	StateCacheReady
	StateTraining
	StateInferenceReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateCacheBuilding:
		return "cache-building"
	case StateCacheReady:
		return "cache-ready"
	case StateTraining:
		return "training"
	case StateInferenceReady:
		return "inference-ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Params holds the session parameters
type Params struct {
	// NumCores is the number of slices processed concurrently during
	// feature extraction and inference
	NumCores int

	// DistanceMetric is used for the distance-field feature channels
	DistanceMetric features.DistanceMetric

	// Classifier configures the ensemble
	Classifier classifier.Config

	// SaveIntermediaryResults writes feature channels of the first, middle
	// and last slices to IntermediaryDir after the cache is built
	SaveIntermediaryResults bool
	IntermediaryDir         string
}

// DefaultParams returns the parameters used by RunOneShotLearning
func DefaultParams() Params {
	return Params{
		NumCores:       runtime.NumCPU(),
		DistanceMetric: features.Chessboard,
		Classifier:     classifier.DefaultConfig(),
	}
}

// Option customises a Session
type Option func(*Session)

// WithLogger sets the logger used by the session and its cache
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics makes the session record Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session owns the feature cache and results for one loaded volume. Runs
// are serialised; State and Threshold may be called while a run is active.
type Session struct {
	params  Params
	logger  zerolog.Logger
	metrics *metrics.Metrics

	// runMu serialises runs and volume changes
	runMu sync.Mutex
	cache *features.Cache

	// mu guards the fields below
	mu            sync.RWMutex
	state         State
	volume        *models.Volume
	probabilities *models.ProbabilityVolume
}

// NewSession creates an empty session
func NewSession(params Params, opts ...Option) *Session {
	if params.NumCores <= 0 {
		params.NumCores = runtime.NumCPU()
	}
	if params.Classifier.NumWorkers <= 0 {
		params.Classifier.NumWorkers = params.NumCores
	}

	s := &Session{
		params: params,
		logger: zerolog.Nop(),
		state:  StateEmpty,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}

	s.cache = features.NewCache(
		features.NewExtractor(params.DistanceMetric),
		params.NumCores,
		logging.Component(s.logger, "features"),
	)
	s.logger = logging.Component(s.logger, "segmentation")
	return s
}

// LoadVolume makes vol the session volume, discarding cached features and
// previous results. A nil vol unloads the current volume.
func (s *Session) LoadVolume(vol *models.Volume) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.cache.Invalidate()

	s.mu.Lock()
	s.volume = vol
	s.probabilities = nil
	s.state = StateEmpty
	s.mu.Unlock()

	if vol == nil {
		s.logger.Info().Msg("volume unloaded")
		return
	}
	s.logger.Info().Str("volume", vol.ID).Str("shape", vol.Shape.String()).Msg("volume loaded")
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Probabilities returns the probability volume of the last successful run
func (s *Session) Probabilities() *models.ProbabilityVolume {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.probabilities
}

// Threshold derives a mask from the last probability volume without
// retraining or re-running inference
func (s *Session) Threshold(t uint8) (*models.MaskVolume, error) {
	p := s.Probabilities()
	if p == nil {
		return nil, ErrNoProbabilities
	}
	return Threshold(p, t), nil
}

// Run trains a classifier on labels, saves it to modelPath (skipped when
// empty) and predicts the probability volume. It blocks until done; the
// only way to stop early is cancelling ctx.
func (s *Session) Run(ctx context.Context, labels *models.LabelVolume, modelPath string) (*models.ProbabilityVolume, error) {
	return s.run(ctx, labels, modelPath, nil)
}

func (s *Session) run(ctx context.Context, labels *models.LabelVolume, modelPath string, report func(Progress)) (*models.ProbabilityVolume, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if report == nil {
		report = func(Progress) {}
	}

	s.mu.RLock()
	vol := s.volume
	s.mu.RUnlock()
	if vol == nil {
		return nil, ErrNoVolume
	}

	if labels == nil {
		s.metrics.Runs.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, ErrNoLabels
	}
	if err := models.CheckSameShape(vol.Shape, labels.Shape); err != nil {
		s.metrics.Runs.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	pair, err := sampling.DiscoverClasses(labels)
	if err != nil {
		s.metrics.Runs.WithLabelValues(metrics.OutcomeInvalid).Inc()
		s.logger.Warn().Err(err).Msg("labels rejected")
		return nil, err
	}

	if err := s.ensureFeatures(ctx, vol, report); err != nil {
		s.fail(err)
		return nil, err
	}

	s.setState(StateTraining)
	clf, err := s.train(ctx, labels, pair, modelPath, report)
	if err != nil {
		s.fail(err)
		return nil, err
	}

	probs, err := s.infer(ctx, vol, clf, report)
	if err != nil {
		s.fail(err)
		return nil, err
	}

	s.mu.Lock()
	s.probabilities = probs
	s.state = StateInferenceReady
	s.mu.Unlock()

	s.metrics.Runs.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return probs, nil
}

// fail records a failed run. A complete cache survives the failure.
func (s *Session) fail(err error) {
	outcome := metrics.OutcomeFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = metrics.OutcomeCancelled
	}
	s.metrics.Runs.WithLabelValues(outcome).Inc()
	s.logger.Error().Err(err).Str("outcome", outcome).Msg("segmentation run failed")

	s.mu.Lock()
	s.probabilities = nil
	if s.cache.Computed() {
		s.state = StateCacheReady
	} else {
		s.state = StateEmpty
	}
	s.mu.Unlock()
}

// ensureFeatures fills the cache for vol unless it is already there
func (s *Session) ensureFeatures(ctx context.Context, vol *models.Volume, report func(Progress)) error {
	if s.cache.Computed() && s.cache.VolumeID() == vol.ID {
		return nil
	}

	s.setState(StateCacheBuilding)
	start := time.Now()
	err := s.cache.Compute(ctx, vol, func(done, total int) {
		report(Progress{Stage: StageFeatures, Done: done, Total: total})
	})
	if err != nil {
		return fmt.Errorf("failed to compute features: %w", err)
	}
	metrics.ObserveSince(s.metrics.FeatureSeconds, start)
	s.setState(StateCacheReady)

	s.logger.Info().
		Int("slices", vol.Depth).
		Dur("elapsed", time.Since(start)).
		Msg("feature cache ready")

	if s.params.SaveIntermediaryResults {
		if err := s.saveFeatureDumps(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to save intermediary features")
		}
	}
	return nil
}

// train builds the training table, fits a fresh ensemble and persists it
func (s *Session) train(ctx context.Context, labels *models.LabelVolume, pair sampling.ClassPair, modelPath string, report func(Progress)) (*classifier.Classifier, error) {
	start := time.Now()
	report(Progress{Stage: StageTraining, Done: 0, Total: 1})

	tbl, err := sampling.BuildTable(s.cache, labels, pair)
	if err != nil {
		return nil, fmt.Errorf("failed to build training table: %w", err)
	}
	s.metrics.TrainingRows.Set(float64(tbl.Rows()))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clf := classifier.New(s.params.Classifier)
	if err := clf.Fit(tbl); err != nil {
		return nil, fmt.Errorf("failed to fit classifier: %w", err)
	}

	oob, _ := clf.OOBScore()
	s.metrics.OOBScore.Set(oob)
	metrics.ObserveSince(s.metrics.TrainingSeconds, start)

	s.logger.Info().
		Uint16("roi", pair.ROI).
		Uint16("other", pair.Other).
		Int("roiPixels", tbl.Count(1)).
		Int("otherPixels", tbl.Count(0)).
		Float64("oob", oob).
		Dur("elapsed", time.Since(start)).
		Msg("classifier trained")

	if modelPath != "" {
		if err := clf.Save(modelPath); err != nil {
			return nil, fmt.Errorf("failed to save model: %w", err)
		}
		s.logger.Debug().Str("path", modelPath).Msg("model saved")
	}

	report(Progress{Stage: StageTraining, Done: 1, Total: 1})
	return clf, nil
}

// infer predicts every slice of the cache in parallel and assembles the
// probability volume in depth order
func (s *Session) infer(ctx context.Context, vol *models.Volume, clf *classifier.Classifier, report func(Progress)) (*models.ProbabilityVolume, error) {
	start := time.Now()
	out := models.NewProbabilityVolume(vol.Shape)
	total := vol.Depth
	sliceSize := vol.SliceSize()

	type sliceResult struct {
		z   int
		err error
	}

	jobs := make(chan int)
	results := make(chan sliceResult)

	workers := s.params.NumCores
	if workers > total {
		workers = total
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for z := range jobs {
				probs, err := clf.PredictProba(sampling.FlattenStack(s.cache.Stack(z)))
				if err == nil {
					dst := out.Data[z*sliceSize : (z+1)*sliceSize]
					for i, p := range probs {
						dst[i] = Quantize(p)
					}
				}
				results <- sliceResult{z: z, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for z := 0; z < total; z++ {
			if ctx.Err() != nil {
				return
			}
			select {
			case jobs <- z:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	done := 0
	for res := range results {
		if res.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("inference failed on slice %d: %w", res.z, res.err)
		}
		done++
		report(Progress{Stage: StageInference, Done: done, Total: total})
	}

	if firstErr != nil {
		return nil, firstErr
	}
	if done < total {
		return nil, fmt.Errorf("inference interrupted after %d/%d slices: %w", done, total, ctx.Err())
	}

	metrics.ObserveSince(s.metrics.InferenceSeconds, start)
	s.logger.Info().Int("slices", total).Dur("elapsed", time.Since(start)).Msg("probability volume ready")
	return out, nil
}

// Apply predicts the session volume with a model persisted by an earlier
// run, without retraining. A missing or unreadable model is reported as
// classifier.ErrNotFitted after logging why loading failed.
func (s *Session) Apply(ctx context.Context, modelPath string) (*models.ProbabilityVolume, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.RLock()
	vol := s.volume
	s.mu.RUnlock()
	if vol == nil {
		return nil, ErrNoVolume
	}

	clf, loaded, loadErr := classifier.LoadOrCreate(modelPath, s.params.Classifier)
	if !loaded {
		s.logger.Warn().Err(loadErr).Str("path", modelPath).Msg("model not loaded, using a fresh classifier")
	}
	if !clf.Fitted() {
		return nil, fmt.Errorf("cannot apply model %q: %w", modelPath, classifier.ErrNotFitted)
	}

	noop := func(Progress) {}
	if err := s.ensureFeatures(ctx, vol, noop); err != nil {
		s.fail(err)
		return nil, err
	}

	s.setState(StateTraining)
	probs, err := s.infer(ctx, vol, clf, noop)
	if err != nil {
		s.fail(err)
		return nil, err
	}

	s.mu.Lock()
	s.probabilities = probs
	s.state = StateInferenceReady
	s.mu.Unlock()

	s.metrics.Runs.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return probs, nil
}

// RunOneShotLearning trains on labels and predicts vol in a throwaway
// session with default parameters
func RunOneShotLearning(ctx context.Context, vol *models.Volume, labels *models.LabelVolume, modelPath string) (*models.ProbabilityVolume, error) {
	s := NewSession(DefaultParams())
	s.LoadVolume(vol)
	return s.Run(ctx, labels, modelPath)
}
