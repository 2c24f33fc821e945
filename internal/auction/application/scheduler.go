package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cristianortiz/liveAuction/internal/auction/domain"
	"github.com/cristianortiz/liveAuction/internal/shared/broadcast"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SchedulerConfig holds the timing knobs of the lifecycle loop.
type SchedulerConfig struct {
	Interval            time.Duration
	CountdownInterval   time.Duration
	EndingSoonThreshold time.Duration
}

// Scheduler flips due auctions live or ended and emits the server-authoritative countdown.
// Ticks go to the node-local publisher only, every node ticks its own subscribers.
type Scheduler struct {
	auctions    domain.AuctionRepository
	transitions *TransitionUseCase
	ticks       broadcast.Publisher
	cfg         SchedulerConfig
	now         func() time.Time

	mu         sync.Mutex
	endingSoon map[uuid.UUID]struct{} // auctions that already got their one-shot ending_soon
}

func NewScheduler(auctions domain.AuctionRepository, transitions *TransitionUseCase, ticks broadcast.Publisher, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.CountdownInterval <= 0 {
		cfg.CountdownInterval = time.Second
	}
	return &Scheduler{
		auctions:    auctions,
		transitions: transitions,
		ticks:       ticks,
		cfg:         cfg,
		now:         time.Now,
		endingSoon:  make(map[uuid.UUID]struct{}),
	}
}

// WithClock replaces the wall clock, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	lifecycle := time.NewTicker(s.cfg.Interval)
	countdown := time.NewTicker(s.cfg.CountdownInterval)
	defer lifecycle.Stop()
	defer countdown.Stop()

	log.Info("Auction scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("countdownInterval", s.cfg.CountdownInterval),
	)
	for {
		select {
		case <-ctx.Done():
			log.Info("Auction scheduler stopped")
			return
		case <-lifecycle.C:
			s.AdvanceLifecycle(ctx)
		case <-countdown.C:
			s.EmitCountdown(ctx)
		}
	}
}

// AdvanceLifecycle starts upcoming auctions whose start passed and closes live ones whose end passed.
func (s *Scheduler) AdvanceLifecycle(ctx context.Context) {
	due, err := s.auctions.ListDue(ctx, s.now())
	if err != nil {
		log.Error("Scheduler: failed to list due auctions", zap.Error(err))
		return
	}
	for _, a := range due {
		var err error
		switch a.Status {
		case domain.StatusUpcoming:
			_, err = s.transitions.Start(ctx, a.ID)
		case domain.StatusLive:
			_, err = s.transitions.CloseDue(ctx, a.ID)
		}
		// another node, an explicit call or a soft-close extension may have moved it first
		if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			log.Error("Scheduler: transition failed",
				zap.String("auctionID", a.ID.String()),
				zap.String("status", string(a.Status)),
				zap.Error(err),
			)
		}
	}
}

// EmitCountdown publishes countdown_tick for every live auction and ending_soon once per auction
// when its remaining time first drops to the threshold.
func (s *Scheduler) EmitCountdown(ctx context.Context) {
	live, err := s.auctions.ListLive(ctx)
	if err != nil {
		log.Error("Scheduler: failed to list live auctions", zap.Error(err))
		return
	}

	now := s.now()
	seen := make(map[uuid.UUID]struct{}, len(live))
	for _, a := range live {
		seen[a.ID] = struct{}{}
		countdown := CountdownDTO{
			AuctionID:   a.ID,
			EndTime:     a.EndTime,
			RemainingMs: a.Remaining(now).Milliseconds(),
			ServerTime:  now,
		}
		s.emit(ctx, broadcast.EventCountdownTick, a, countdown)

		if s.cfg.EndingSoonThreshold > 0 && a.Remaining(now) <= s.cfg.EndingSoonThreshold && s.markEndingSoon(a.ID) {
			s.emit(ctx, broadcast.EventEndingSoon, a, countdown)
		}
	}
	s.forgetFinished(seen)
}

func (s *Scheduler) markEndingSoon(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, fired := s.endingSoon[id]; fired {
		return false
	}
	s.endingSoon[id] = struct{}{}
	return true
}

func (s *Scheduler) forgetFinished(live map[uuid.UUID]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.endingSoon {
		if _, ok := live[id]; !ok {
			delete(s.endingSoon, id)
		}
	}
}

func (s *Scheduler) emit(ctx context.Context, t broadcast.EventType, a *domain.Auction, payload CountdownDTO) {
	e, err := broadcast.NewEvent(t, a.ID.String(), a.Version, payload.ServerTime, payload)
	if err == nil {
		err = s.ticks.Publish(ctx, e)
	}
	if err != nil {
		log.Warn("Scheduler: failed to publish countdown",
			zap.String("auctionID", a.ID.String()),
			zap.String("eventType", string(t)),
			zap.Error(err),
		)
	}
}
