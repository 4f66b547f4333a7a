package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/factoryos/factoryos/log"
	"github.com/factoryos/factoryos/prompts"
)

// DefaultCaptionWorkers bounds concurrent caption generation calls.
const DefaultCaptionWorkers = 5

// Captioner describes document images with the generation model. Calls
// fan out over a bounded worker pool and are rate limited so a document
// with many images cannot starve the model quota.
type Captioner struct {
	model   llms.Model
	pool    *ants.Pool
	limiter *rate.Limiter
	logger  log.Logger
}

// NewCaptioner creates a captioner with the given worker count.
func NewCaptioner(model llms.Model, workers int, logger log.Logger) (*Captioner, error) {
	if workers <= 0 {
		workers = DefaultCaptionWorkers
	}
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("caption pool: %w", err)
	}
	return &Captioner{
		model:   model,
		pool:    pool,
		limiter: rate.NewLimiter(rate.Limit(workers), workers),
		logger:  logger,
	}, nil
}

// Describe captions each image. A failed image degrades to an empty
// caption instead of failing the batch; results keep input order.
func (c *Captioner) Describe(ctx context.Context, images []string) []string {
	captions := make([]string, len(images))
	var wg sync.WaitGroup

	for i, img := range images {
		i, img := i, img
		wg.Add(1)
		err := c.pool.Submit(func() {
			defer wg.Done()
			captions[i] = c.describeOne(ctx, img)
		})
		if err != nil {
			wg.Done()
			c.logger.Warn("caption submit failed: %v", err)
		}
	}
	wg.Wait()

	return captions
}

func (c *Captioner) describeOne(ctx context.Context, image string) string {
	if err := c.limiter.Wait(ctx); err != nil {
		return ""
	}
	caption, err := llms.GenerateFromSinglePrompt(ctx, c.model, fmt.Sprintf(prompts.ImageCaption, image))
	if err != nil {
		c.logger.Warn("image caption failed: %v", err)
		return ""
	}
	return caption
}

// Close releases the worker pool.
func (c *Captioner) Close() {
	if c.pool != nil {
		c.pool.Release()
	}
}
