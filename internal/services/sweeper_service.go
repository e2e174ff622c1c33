package services

import (
	"sync"
	"time"

	"lingo-sync/internal/queue"
	"lingo-sync/internal/types"

	"github.com/sirupsen/logrus"
)

const sweepInterval = 5 * time.Minute

// SettingsProvider supplies the current pipeline settings snapshot.
type SettingsProvider interface {
	GetSettings() types.SystemSettings
}

// SweeperService runs the queue self-healing passes: stuck translating jobs
// are reopened and aged error jobs are parked as skipped. Both operations are
// idempotent, so overlapping with a live cycle is harmless.
type SweeperService struct {
	queue    *queue.JobQueue
	settings SettingsProvider
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSweeperService creates a sweeper.
func NewSweeperService(jobQueue *queue.JobQueue, settings SettingsProvider) *SweeperService {
	return &SweeperService{
		queue:    jobQueue,
		settings: settings,
		stopChan: make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
func (s *SweeperService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}()
	logrus.Info("Sweeper service started")
}

// Stop terminates the sweep loop.
func (s *SweeperService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	logrus.Info("Sweeper service stopped")
}

// RunOnce performs one self-healing pass.
func (s *SweeperService) RunOnce() {
	settings := s.settings.GetSettings()

	if _, err := s.queue.ResetStuck(time.Duration(settings.StuckThresholdMinutes) * time.Minute); err != nil {
		logrus.WithError(err).Error("Stuck job sweep failed")
	}

	recovered, err := s.queue.RecoverErrors(time.Duration(settings.ErrorRecoveryMinutes) * time.Minute)
	if err != nil {
		logrus.WithError(err).Error("Error job sweep failed")
		return
	}
	if recovered > 0 {
		logrus.WithField("count", recovered).Info("Moved aged error jobs to skipped")
	}
}
