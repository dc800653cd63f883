package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"kudos-api/internal/features"
	"kudos-api/internal/models"
)

// ErrSweepInProgress is returned by RunOnce when another sweep is running.
// The trigger is dropped, not queued.
var ErrSweepInProgress = errors.New("recurring sweep already in progress")

// Ledger is what a sweep needs from the service layer.
type Ledger interface {
	DueBonuses(ctx context.Context) ([]models.RecurringBonus, error)
	PayRecurringBonus(ctx context.Context, bonus models.RecurringBonus) (models.Recognition, error)
}

// SweepResult counts what one sweep did with the bonuses it found due.
type SweepResult struct {
	Due     int `json:"due"`
	Paid    int `json:"paid"`
	Skipped int `json:"skipped"` // giver could not cover the amount
	Failed  int `json:"failed"`
}

// Scheduler pays due recurring bonuses.
type Scheduler struct {
	ledger   Ledger
	features *features.Manager
	logger   *zap.Logger
	running  atomic.Bool
}

// New creates a scheduler over ledger. A nil features manager enables the
// background sweep unconditionally.
func New(ledger Ledger, flags *features.Manager, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		ledger:   ledger,
		features: flags,
		logger:   logger.Named("scheduler"),
	}
}

// RunOnce performs one sweep over the bonuses due when it starts. A failing
// bonus is logged and counted; it never stops the rest of the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	due, err := s.ledger.DueBonuses(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Due: len(due)}
	for _, bonus := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		_, err := s.ledger.PayRecurringBonus(ctx, bonus)
		switch {
		case err == nil:
			result.Paid++
		case errors.Is(err, models.ErrInsufficientFunds):
			result.Skipped++
			s.logger.Info("recurring bonus skipped",
				zap.String("bonus_id", bonus.ID),
				zap.String("giver_id", bonus.GiverID),
				zap.Error(err),
			)
		default:
			result.Failed++
			s.logger.Error("recurring bonus failed",
				zap.String("bonus_id", bonus.ID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("recurring sweep finished",
		zap.Int("due", result.Due),
		zap.Int("paid", result.Paid),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// Start sweeps every interval until ctx is cancelled. Ticks that land while
// a sweep is still running are dropped.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.features.IsEnabled(features.FeatureRecurringSweep) {
				continue
			}
			go s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Warn("previous sweep still running, tick dropped")
			return
		}
		if ctx.Err() == nil {
			s.logger.Error("recurring sweep failed", zap.Error(err))
		}
	}
}
