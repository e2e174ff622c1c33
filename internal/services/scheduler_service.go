package services

import (
	"context"
	"sync"
	"time"

	"lingo-sync/internal/processor"

	"github.com/sirupsen/logrus"
)

// SchedulerService triggers a processing cycle on the configured interval.
// Concurrent triggers (CLI runs, REST runs) are already serialized by the
// processor lock, so a tick overlapping a manual run simply no-ops.
type SchedulerService struct {
	processor *processor.Processor
	settings  SettingsProvider
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewSchedulerService creates a scheduler.
func NewSchedulerService(proc *processor.Processor, settings SettingsProvider) *SchedulerService {
	return &SchedulerService{
		processor: proc,
		settings:  settings,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the tick loop. The interval is re-read each tick so setting
// changes apply without a restart.
func (s *SchedulerService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			interval := time.Duration(s.settings.GetSettings().ProcessIntervalSeconds) * time.Second
			select {
			case <-s.stopChan:
				return
			case <-time.After(interval):
				s.tick()
			}
		}
	}()
	logrus.Info("Scheduler service started")
}

// Stop terminates the tick loop. A cycle in flight finishes on its own.
func (s *SchedulerService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	logrus.Info("Scheduler service stopped")
}

func (s *SchedulerService) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	_, err := s.processor.RunQueue(ctx, 0)
	if err == processor.ErrLockHeld {
		logrus.Debug("Skipping scheduled cycle, another cycle is active")
		return
	}
	if err != nil {
		logrus.WithError(err).Error("Scheduled processing cycle failed")
	}
}
