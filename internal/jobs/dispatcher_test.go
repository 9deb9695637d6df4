package jobs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamvault/streamvault/internal/transcoder"
	"github.com/streamvault/streamvault/pkg/models"
)

// concurrencyProbe tracks the peak number of simultaneous invocations.
type concurrencyProbe struct {
	stubInvoker
	mu      sync.Mutex
	active  int
	peak    int
	entered chan struct{}
	release chan struct{}
}

func (p *concurrencyProbe) ProduceStreamPackage(ctx context.Context, inputPath, outputDir string) (*transcoder.StreamPackage, error) {
	p.mu.Lock()
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	p.mu.Unlock()

	p.entered <- struct{}{}
	<-p.release

	p.mu.Lock()
	p.active--
	p.mu.Unlock()

	return p.stubInvoker.ProduceStreamPackage(ctx, inputPath, outputDir)
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	f := newFixture(t)

	probe := &concurrencyProbe{
		entered: make(chan struct{}, 5),
		release: make(chan struct{}),
	}
	f.driver.invoker = probe
	dispatcher := NewDispatcher(f.driver, 2, f.driver.log)

	jobs := make([]*models.MediaJob, 0, 5)
	for i := 0; i < 5; i++ {
		jobs = append(jobs, f.seedJob(t))
	}
	for _, job := range jobs {
		dispatcher.Dispatch(job.ID)
	}

	// Exactly two transcodes may be in flight while the probe holds
	// them; the rest are parked on the semaphore.
	<-probe.entered
	<-probe.entered
	probe.mu.Lock()
	assert.Equal(t, 2, probe.active)
	probe.mu.Unlock()

	close(probe.release)
	for i := 0; i < 3; i++ {
		<-probe.entered
	}
	dispatcher.Wait()

	for _, job := range jobs {
		got, err := f.store.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusReady, got.Status)
	}

	probe.mu.Lock()
	defer probe.mu.Unlock()
	assert.Equal(t, 2, probe.peak, "semaphore must bound concurrent transcodes")
}
