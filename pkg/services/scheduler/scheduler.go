package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"beatwatch/api/services"
	"beatwatch/pkg/ontology"
	"beatwatch/pkg/shared"
)

// Scheduler drives the time-based beat transitions: ending duties whose
// scheduled window has closed and re-firing a missed auto-start. Every
// sweep is idempotent, so a skipped or repeated tick is harmless.
type Scheduler struct {
	beats       *services.BeatService
	acceptances *services.AcceptanceService
	interval    time.Duration
	logger      *zap.Logger
	wg          sync.WaitGroup
	cancel      context.CancelFunc
}

const DefaultInterval = 60 * time.Second

func New(beats *services.BeatService, acceptances *services.AcceptanceService, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		beats:       beats,
		acceptances: acceptances,
		interval:    interval,
		logger:      logger,
	}
}

// Start launches the periodic sweep until Stop is called.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("Duty scheduler started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Duty scheduler stopping")
				return
			case <-ticker.C:
				s.Tick(time.Now())
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Tick runs one sweep against the clock value given. Exposed so callers can
// drive the scheduler externally instead of relying on the internal timer.
func (s *Scheduler) Tick(now time.Time) {
	s.completeDueBeats(now)
	s.ensurePendingStarts()
}

// completeDueBeats ends every in-progress beat whose duty window closed at
// or before now. A beat completed manually between the query and the call
// is a no-op, not an error.
func (s *Scheduler) completeDueBeats(now time.Time) {
	beats, err := s.beats.ListBeats(ontology.BeatFilters{Status: shared.BeatStatusInProgress})
	if err != nil {
		s.logger.Error("Scheduler failed to list in-progress beats", zap.Error(err))
		return
	}

	for i := range beats {
		beat := &beats[i]
		if beat.StartedAt == nil {
			continue
		}
		if now.Before(beat.ScheduledEnd(*beat.StartedAt)) {
			continue
		}

		if _, err := s.beats.CompleteBeat(beat.BeatID, shared.ActorSystem); err != nil {
			if shared.IsInvalidState(err) || shared.IsNotFound(err) {
				continue
			}
			s.logger.Error("Scheduler failed to complete beat",
				zap.String("beat_id", beat.BeatID),
				zap.Error(err),
			)
			continue
		}

		s.logger.Info("Beat completed at end of duty window",
			zap.String("beat_id", beat.BeatID),
		)
	}
}

// ensurePendingStarts re-checks auto-start for pending beats so a missed
// in-line transition still fires on the next tick.
func (s *Scheduler) ensurePendingStarts() {
	beats, err := s.beats.ListBeats(ontology.BeatFilters{Status: shared.BeatStatusPending})
	if err != nil {
		s.logger.Error("Scheduler failed to list pending beats", zap.Error(err))
		return
	}

	for i := range beats {
		beat := &beats[i]
		if len(beat.AssignedPersonnel) == 0 {
			continue
		}

		started, err := s.acceptances.EnsureStarted(beat.BeatID)
		if err != nil {
			s.logger.Error("Scheduler failed to evaluate auto-start",
				zap.String("beat_id", beat.BeatID),
				zap.Error(err),
			)
			continue
		}
		if started {
			s.logger.Info("Beat auto-started by scheduler sweep",
				zap.String("beat_id", beat.BeatID),
			)
		}
	}
}
