package segmentation

import (
	"context"

	"oneshotseg/internal/models"
)

// Stage names the phase a running segmentation is in
type Stage string

const (
	StageFeatures  Stage = "features"
	StageTraining  Stage = "training"
	StageInference Stage = "inference"
)

// Progress reports completed work units within a stage
type Progress struct {
	Stage Stage
	Done  int
	Total int
}

// Task is a segmentation run executing in the background. It runs to
// completion unless Cancel is called.
type Task struct {
	progress chan Progress
	done     chan struct{}
	cancel   context.CancelFunc

	result *models.ProbabilityVolume
	err    error
}

// progressBuffer bounds how many updates are queued for a slow reader;
// further updates are dropped rather than stalling the computation.
const progressBuffer = 64

// Start launches Run in a background goroutine
func (s *Session) Start(ctx context.Context, labels *models.LabelVolume, modelPath string) *Task {
	ctx, cancel := context.WithCancel(ctx)
	task := &Task{
		progress: make(chan Progress, progressBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	report := func(p Progress) {
		select {
		case task.progress <- p:
		default:
		}
	}

	go func() {
		defer cancel()
		task.result, task.err = s.run(ctx, labels, modelPath, report)
		close(task.progress)
		close(task.done)
	}()

	return task
}

// Progress returns the channel of progress updates. It is closed when the
// task finishes.
func (t *Task) Progress() <-chan Progress {
	return t.progress
}

// Done is closed once the task has finished
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel asks the task to stop. The session keeps any feature cache that
// was already complete.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finishes and returns its result
func (t *Task) Wait() (*models.ProbabilityVolume, error) {
	<-t.done
	return t.result, t.err
}
