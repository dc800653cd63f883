package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"kudos-api/internal/events"
	"kudos-api/internal/models"
	"kudos-api/internal/validation"
)

func (s *Service) requireAdmin(adminID, op string) error {
	if !s.admins.IsAdmin(adminID) {
		return fmt.Errorf("%s: %w", op, models.ErrForbidden)
	}
	return nil
}

// AdjustPoints credits (positive delta) or debits (negative delta) an
// account outside the transfer flow. Admin only. Debits never take a
// balance below zero.
func (s *Service) AdjustPoints(ctx context.Context, adminID, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := s.requireAdmin(adminID, "adjust points"); err != nil {
		return decimal.Zero, err
	}
	if err := validation.ValidateSignedAmount(delta, "amount"); err != nil {
		return decimal.Zero, err
	}

	balance, err := s.db.ApplySingleDelta(ctx, accountID, delta, nil)
	if err != nil {
		return decimal.Zero, err
	}

	op := "mint"
	if delta.IsNegative() {
		op = "burn"
	}
	s.logger.Info("ledger entry",
		zap.String("op", op),
		zap.String("reason", "admin_adjustment"),
		zap.String("admin_id", adminID),
		zap.String("account_id", accountID),
		zap.String("amount", delta.Abs().StringFixed(2)),
	)
	s.ledgerChanged(ctx)

	return balance, nil
}

// ResetBalance sets an account's balance to value and returns the balance it
// replaced. Admin only. A non-zero value is held to the same limits as any
// other amount.
func (s *Service) ResetBalance(ctx context.Context, adminID, accountID string, value decimal.Decimal) (decimal.Decimal, error) {
	if err := s.requireAdmin(adminID, "reset balance"); err != nil {
		return decimal.Zero, err
	}
	if value.IsNegative() {
		return decimal.Zero, &validation.ValidationError{Field: "balance", Message: "cannot be negative"}
	}
	if !value.IsZero() {
		if err := validation.ValidateAmount(value, "balance"); err != nil {
			return decimal.Zero, err
		}
	}

	previous, err := s.db.ResetBalance(ctx, accountID, value)
	if err != nil {
		return decimal.Zero, err
	}

	diff := value.Sub(previous)
	if !diff.IsZero() {
		op := "mint"
		if diff.IsNegative() {
			op = "burn"
		}
		s.logger.Info("ledger entry",
			zap.String("op", op),
			zap.String("reason", "admin_reset"),
			zap.String("admin_id", adminID),
			zap.String("account_id", accountID),
			zap.String("amount", diff.Abs().StringFixed(2)),
		)
		s.ledgerChanged(ctx)
	}

	return previous, nil
}

// UserInfo summarises an account for admins.
func (s *Service) UserInfo(ctx context.Context, adminID, accountID string) (models.UserInfo, error) {
	if err := s.requireAdmin(adminID, "user info"); err != nil {
		return models.UserInfo{}, err
	}

	user, err := s.db.GetUser(ctx, accountID)
	if err != nil {
		return models.UserInfo{}, err
	}

	recs, err := s.db.ListRecognitionsForUser(ctx, accountID)
	if err != nil {
		return models.UserInfo{}, err
	}

	info := models.UserInfo{
		User:             user,
		Given:            decimal.Zero,
		Received:         decimal.Zero,
		RecognitionCount: len(recs),
	}
	for _, rec := range recs {
		if rec.GiverID == accountID {
			info.Given = info.Given.Add(rec.Amount)
		}
		if rec.ReceiverID == accountID {
			info.Received = info.Received.Add(rec.Amount)
		}
	}

	if info.RecurringBonuses, err = s.db.ListRecurringBonusesByGiver(ctx, accountID); err != nil {
		return models.UserInfo{}, err
	}

	requests, err := s.db.ListRedemptionsByUser(ctx, accountID)
	if err != nil {
		return models.UserInfo{}, err
	}
	for _, r := range requests {
		if r.Status == models.RedemptionPending {
			info.PendingRedemptions = append(info.PendingRedemptions, r)
		}
	}

	return info, nil
}

// Export is a full dump of the ledger's records.
type Export struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	Users        []models.User        `json:"users"`
	Recognitions []models.Recognition `json:"recognitions"`
}

// Export returns every user and recognition as of one committed state.
// Admin only.
func (s *Service) Export(ctx context.Context, adminID string) (Export, error) {
	if err := s.requireAdmin(adminID, "export"); err != nil {
		return Export{}, err
	}

	users, recs, err := s.db.Snapshot(ctx)
	if err != nil {
		return Export{}, err
	}

	return Export{
		GeneratedAt:  s.clock.Now(),
		Users:        users,
		Recognitions: recs,
	}, nil
}

// Announce broadcasts a message to every user. Admin only. It returns the
// number of recipients.
func (s *Service) Announce(ctx context.Context, adminID, message string) (int, error) {
	if err := s.requireAdmin(adminID, "announce"); err != nil {
		return 0, err
	}
	message = validation.SanitizeString(message)
	if err := validation.ValidateRequired(message, "message"); err != nil {
		return 0, err
	}

	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return 0, err
	}

	notes := make([]events.Event, 0, len(users))
	for _, u := range users {
		notes = append(notes, events.Event{
			Type:        events.EventAnnouncement,
			RecipientID: u.AccountID,
			Message:     message,
		})
	}
	s.emit(ctx, notes...)

	return len(users), nil
}
