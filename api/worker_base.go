package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ericfitz/collabd/internal/slogging"
)

// baseWorker runs a work function on a ticker until stopped
type baseWorker struct {
	name       string
	running    atomic.Bool
	stopChan   chan struct{}
	done       chan struct{}
	interval   time.Duration
	runOnStart bool
	work       func(ctx context.Context) error
}

func newBaseWorker(name string, interval time.Duration, runOnStart bool, work func(ctx context.Context) error) baseWorker {
	return baseWorker{
		name:       name,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		interval:   interval,
		runOnStart: runOnStart,
		work:       work,
	}
}

// Start begins the worker's processing loop
func (bw *baseWorker) Start(ctx context.Context) error {
	if !bw.running.CompareAndSwap(false, true) {
		return nil
	}
	slogging.Get().Info("%s started (interval=%s)", bw.name, bw.interval)

	go bw.processLoop(ctx)
	return nil
}

// Stop stops the worker and waits for an in-flight run to finish
func (bw *baseWorker) Stop() {
	if bw.running.CompareAndSwap(true, false) {
		close(bw.stopChan)
		<-bw.done
		slogging.Get().Info("%s stopped", bw.name)
	}
}

func (bw *baseWorker) processLoop(ctx context.Context) {
	defer close(bw.done)
	logger := slogging.Get()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	if bw.runOnStart {
		if err := bw.work(ctx); err != nil {
			logger.Error("%s initial run failed: %v", bw.name, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, stopping %s", bw.name)
			return
		case <-bw.stopChan:
			return
		case <-ticker.C:
			if err := bw.work(ctx); err != nil {
				logger.Error("%s error: %v", bw.name, err)
			}
		}
	}
}
