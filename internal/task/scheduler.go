// Package task runs periodic maintenance jobs for the feedback store.
package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultSchedulerInterval = time.Minute

// Job is a unit of periodic maintenance work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs a Job on a fixed interval and on demand.
type Scheduler struct {
	interval     time.Duration
	job          Job
	logger       *zap.Logger
	trigger      chan struct{}
	controlMutex sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewScheduler builds a Scheduler. A non-positive interval falls back to one minute.
func NewScheduler(interval time.Duration, job Job, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval: interval,
		job:      job,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the background loop. Calling Start on a running scheduler does nothing.
func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.job == nil {
		return
	}
	scheduler.controlMutex.Lock()
	defer scheduler.controlMutex.Unlock()
	if scheduler.cancel != nil {
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	scheduler.done = make(chan struct{})

	go scheduler.loop(runtimeCtx, scheduler.done)
}

// Trigger requests an immediate run without waiting for the next tick.
func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	done := scheduler.done
	scheduler.cancel = nil
	scheduler.done = nil
	scheduler.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-scheduler.trigger:
			scheduler.run(ctx)
		case <-ticker.C:
			scheduler.run(ctx)
		}
	}
}

func (scheduler *Scheduler) run(ctx context.Context) {
	if scheduler.job == nil {
		return
	}
	started := time.Now()
	if err := scheduler.job.Run(ctx); err != nil {
		scheduler.logger.Warn("task_failed", zap.String("task", scheduler.job.Name()), zap.Error(err))
		return
	}
	scheduler.logger.Debug("task_completed", zap.String("task", scheduler.job.Name()), zap.Duration("dur", time.Since(started)))
}
