package features

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"oneshotseg/internal/models"
)

// ProgressFunc receives the number of completed slices out of total
type ProgressFunc func(done, total int)

// Cache holds the feature stacks of every slice of one volume. It is filled
// in a single pass and is either complete or empty, never partial.
type Cache struct {
	mu sync.RWMutex

	extractor  *Extractor
	numWorkers int
	logger     zerolog.Logger

	volumeID string
	stacks   []*Stack
	computed bool
}

// NewCache creates an empty cache. numWorkers <= 0 uses all available cores.
func NewCache(extractor *Extractor, numWorkers int, logger zerolog.Logger) *Cache {
	if extractor == nil {
		extractor = NewExtractor(Chessboard)
	}
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &Cache{
		extractor:  extractor,
		numWorkers: numWorkers,
		logger:     logger,
	}
}

// Computed reports whether the cache holds features for a volume
func (c *Cache) Computed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.computed
}

// VolumeID returns the identity of the cached volume, or "" when empty
func (c *Cache) VolumeID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.volumeID
}

// Len returns the number of cached slices
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stacks)
}

// Stack returns the feature stack of depth slice z
func (c *Cache) Stack(z int) *Stack {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stacks[z]
}

// Invalidate drops all cached features
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volumeID = ""
	c.stacks = nil
	c.computed = false
}

// Compute extracts features for every slice of vol. It is a no-op when the
// cache already holds vol; a different volume replaces the previous content
// entirely. If ctx is cancelled the cache is left empty.
func (c *Cache) Compute(ctx context.Context, vol *models.Volume, progress ProgressFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.computed && c.volumeID == vol.ID {
		return nil
	}

	c.volumeID = ""
	c.stacks = nil
	c.computed = false

	c.logger.Info().
		Str("volume", vol.ID).
		Str("shape", vol.Shape.String()).
		Int("workers", c.numWorkers).
		Msg("computing slice features")

	stacks, err := c.extractAll(ctx, vol, progress)
	if err != nil {
		return err
	}

	c.volumeID = vol.ID
	c.stacks = stacks
	c.computed = true
	return nil
}

// extractAll runs the extractor over all slices using a fixed worker pool
func (c *Cache) extractAll(ctx context.Context, vol *models.Volume, progress ProgressFunc) ([]*Stack, error) {
	total := vol.Depth
	stacks := make([]*Stack, total)

	type sliceResult struct {
		z     int
		stack *Stack
	}

	jobs := make(chan int)
	results := make(chan sliceResult)

	workers := c.numWorkers
	if workers > total {
		workers = total
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for z := range jobs {
				results <- sliceResult{z: z, stack: c.extractor.Extract(vol.Slice(z))}
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

	done := 0
	for res := range results {
		stacks[res.z] = res.stack
		done++
		if progress != nil {
			progress(done, total)
		}
	}

	if err := ctx.Err(); err != nil && done < total {
		return nil, fmt.Errorf("feature extraction interrupted after %d/%d slices: %w", done, total, err)
	}

	return stacks, nil
}
