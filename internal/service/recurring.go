package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"kudos-api/internal/database"
	"kudos-api/internal/events"
	"kudos-api/internal/models"
	"kudos-api/internal/tracing"
	"kudos-api/internal/validation"
)

// ScheduleRecurring sets up a transfer that repeats every interval. The
// first payout is due one interval from now.
func (s *Service) ScheduleRecurring(ctx context.Context, req models.ScheduleRecurringRequest) (models.RecurringBonus, error) {
	if err := validation.ValidateRecurring(req); err != nil {
		return models.RecurringBonus{}, err
	}

	for _, id := range []string{req.GiverID, req.ReceiverID} {
		if _, err := s.db.GetUser(ctx, id); err != nil {
			return models.RecurringBonus{}, err
		}
	}

	now := s.clock.Now()
	bonus := models.RecurringBonus{
		ID:         uuid.New().String(),
		GiverID:    req.GiverID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Interval:   req.Interval,
		NextRun:    req.Interval.Next(now),
		Active:     true,
		CreatedAt:  now,
	}

	if err := s.db.InsertRecurringBonus(ctx, bonus); err != nil {
		return models.RecurringBonus{}, err
	}
	return bonus, nil
}

// CancelRecurring deactivates a bonus. Only its giver or an admin may do so.
func (s *Service) CancelRecurring(ctx context.Context, callerID, bonusID string) error {
	bonus, err := s.db.GetRecurringBonus(ctx, bonusID)
	if err != nil {
		return err
	}

	if bonus.GiverID != callerID && !s.admins.IsAdmin(callerID) {
		return fmt.Errorf("cancel recurring bonus %s: %w", bonusID, models.ErrForbidden)
	}
	if !bonus.Active {
		return fmt.Errorf("recurring bonus %s is already cancelled: %w", bonusID, models.ErrInvalidState)
	}

	return s.db.DeactivateRecurringBonus(ctx, bonusID)
}

// ListRecurring returns the bonuses set up by giverID.
func (s *Service) ListRecurring(ctx context.Context, giverID string) ([]models.RecurringBonus, error) {
	return s.db.ListRecurringBonusesByGiver(ctx, giverID)
}

// DueBonuses returns the bonuses due at the service clock's now.
func (s *Service) DueBonuses(ctx context.Context) ([]models.RecurringBonus, error) {
	return s.db.DueRecurringBonuses(ctx, s.clock.Now())
}

// PayRecurringBonus pays one due bonus and advances its next run by one
// interval in the same transaction. It fails with models.ErrInsufficientFunds
// when the giver cannot cover it, leaving the bonus untouched, and with
// models.ErrInvalidState when the bonus changed since it was read.
func (s *Service) PayRecurringBonus(ctx context.Context, bonus models.RecurringBonus) (rec models.Recognition, err error) {
	ctx, span := tracing.Start(ctx, "service.PayRecurringBonus",
		attribute.String("bonus_id", bonus.ID),
		attribute.String("interval", string(bonus.Interval)),
	)
	defer func() { tracing.End(span, err) }()

	rec = models.Recognition{
		ID:         uuid.New().String(),
		GiverID:    bonus.GiverID,
		ReceiverID: bonus.ReceiverID,
		Amount:     bonus.Amount,
		Message:    bonus.Interval.Message(),
		Tags:       []string{},
		Kind:       models.RecognitionRecurring,
		CreatedAt:  s.clock.Now(),
	}
	next := bonus.Interval.Next(bonus.NextRun)

	err = s.db.ApplyPairedDelta(ctx, bonus.GiverID, bonus.ReceiverID, bonus.Amount, func(tx *database.Tx) error {
		if err := tx.InsertRecognition(ctx, rec); err != nil {
			return err
		}
		return tx.AdvanceBonus(ctx, bonus.ID, bonus.NextRun, next)
	})
	if err != nil {
		return models.Recognition{}, fmt.Errorf("recurring bonus %s: %w", bonus.ID, err)
	}

	s.ledgerChanged(ctx)

	giver := s.displayName(ctx, bonus.GiverID)
	receiver := s.displayName(ctx, bonus.ReceiverID)
	s.emit(ctx,
		events.Event{
			Type:        events.EventRecurringBonusSent,
			RecipientID: bonus.GiverID,
			Message:     fmt.Sprintf("Sent recurring %s to %s", formatPoints(bonus.Amount), receiver),
			Data:        rec,
		},
		events.Event{
			Type:        events.EventRecurringBonusSent,
			RecipientID: bonus.ReceiverID,
			Message:     fmt.Sprintf("You received a recurring %s from %s", formatPoints(bonus.Amount), giver),
			Data:        rec,
		},
	)

	return rec, nil
}
