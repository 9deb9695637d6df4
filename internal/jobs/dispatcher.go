package jobs

import (
	"context"
	"sync"

	"github.com/streamvault/streamvault/internal/logging"
)

// Dispatcher runs jobs detached from the request path. Uploads enqueue
// and return immediately; the dispatch boundary here is the only place
// concurrency is introduced. The semaphore bounds concurrent
// transcodes so a burst of uploads cannot exhaust the host.
type Dispatcher struct {
	driver *Driver
	sem    chan struct{}
	wg     sync.WaitGroup
	log    *logging.Logger
}

// NewDispatcher creates a dispatcher bounding concurrent transcodes.
func NewDispatcher(driver *Driver, maxConcurrent int, logger *logging.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		driver: driver,
		sem:    make(chan struct{}, maxConcurrent),
		log:    logger,
	}
}

// Dispatch schedules a job and returns immediately. Processing errors
// are terminal for the job and logged here, the trigger site.
func (d *Dispatcher) Dispatch(jobID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		if _, err := d.driver.Process(context.Background(), jobID); err != nil {
			d.log.WithJobID(jobID).ErrorWithErr("detached job processing failed", err)
		}
	}()
}

// Wait blocks until all dispatched jobs finish. Used during shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
